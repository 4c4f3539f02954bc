//go:build linux

package filecache

import (
	"runtime/debug"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/fcache/internal/vmem"
)

func writeFaults(b []byte) (faulted bool) {
	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)
	defer func() {
		if r := recover(); r != nil {
			faulted = true
		}
	}()
	b[len(b)/2] = 0x42
	return false
}

func Test_CacheAdd_ProtectsCachedContent(t *testing.T) {
	cfg := testConfig(64 * vmem.PageSize())
	cfg.Alignment = vmem.PageSize()
	cfg.BlockSize = 8 * vmem.PageSize()
	cfg.ProtectCached = true

	logger, _ := logtest.NewNullLogger()
	m, err := New(cfg, WithLogger(logger))
	require.NoError(t, err)
	defer m.Shutdown()

	owner := m.Atoms().Intern("a")
	buf, err := m.BufAlloc(vmem.PageSize(), owner, false)
	require.NoError(t, err)
	require.False(t, writeFaults(buf))

	require.NoError(t, m.CacheAdd(owner, buf, 1))
	require.True(t, writeFaults(buf), "cached content must be read-only")
	require.NoError(t, m.BufFree(buf))

	// once evicted the memory is writable again and gets reused
	m.CacheFlush()
	again, err := m.BufAlloc(vmem.PageSize(), owner, false)
	require.NoError(t, err)
	require.Equal(t, addrOf(t, m, buf), addrOf(t, m, again))
	require.False(t, writeFaults(again))
	require.NoError(t, m.BufFree(again))
}
