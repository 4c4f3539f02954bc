package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testAlign = 4096

func newTestPool(t *testing.T, capacity, align int) *Pool {
	t.Helper()
	p, err := New(capacity, align)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Destroy()) })
	return p
}

func Test_Pool_BumpIsSequential(t *testing.T) {
	p := newTestPool(t, 16*testAlign, testAlign)

	off1, ok := p.Alloc(10 * 1024)
	require.True(t, ok)
	off2, ok := p.Alloc(1)
	require.True(t, ok)
	off3, ok := p.Alloc(0)
	require.True(t, ok)

	require.Equal(t, 0, off1)
	require.Equal(t, 12*1024, off2, "10KiB rounds to three pages")
	require.Equal(t, 16*1024, off3)
	require.Equal(t, 20*1024, p.Cur())
}

func Test_Pool_ExhaustionConsumesNothing(t *testing.T) {
	p := newTestPool(t, 4*testAlign, testAlign)

	_, ok := p.Alloc(3 * testAlign)
	require.True(t, ok)

	_, ok = p.Alloc(2 * testAlign)
	require.False(t, ok)
	require.Equal(t, 3*testAlign, p.Cur())

	_, ok = p.Alloc(testAlign)
	require.True(t, ok, "remaining page is still available")
	require.Equal(t, p.Cap(), p.Cur())
}

func Test_Pool_UnalignedPool(t *testing.T) {
	p := newTestPool(t, testAlign, 0)

	off1, ok := p.Alloc(3)
	require.True(t, ok)
	off2, ok := p.Alloc(5)
	require.True(t, ok)
	require.Equal(t, 0, off1)
	require.Equal(t, 3, off2)
}

func Test_Pool_RejectsBadGeometry(t *testing.T) {
	_, err := New(testAlign, 3000)
	require.Error(t, err)

	_, err = New(testAlign+1, testAlign)
	require.Error(t, err)
}

func Test_Pool_Contains(t *testing.T) {
	p := newTestPool(t, 4*testAlign, testAlign)
	require.False(t, p.Contains(0), "nothing committed yet")

	_, ok := p.Alloc(testAlign)
	require.True(t, ok)
	require.True(t, p.Contains(0))
	require.True(t, p.Contains(testAlign-1))
	require.False(t, p.Contains(testAlign))
	require.False(t, p.Contains(-1))
}

func Test_Pool_OffsetResolvesInteriorSlices(t *testing.T) {
	p := newTestPool(t, 4*testAlign, testAlign)
	_, _ = p.Alloc(testAlign)
	off, ok := p.Alloc(testAlign)
	require.True(t, ok)

	b := p.Slice(off, 100)
	require.Len(t, b, 100)

	got, ok := p.Offset(b)
	require.True(t, ok)
	require.Equal(t, off, got)

	got, ok = p.Offset(b[40:])
	require.True(t, ok)
	require.Equal(t, off+40, got)

	got, ok = p.Offset(b[:0])
	require.True(t, ok, "zero-length view still carries its data pointer")
	require.Equal(t, off, got)

	_, ok = p.Offset(make([]byte, 8))
	require.False(t, ok, "heap slices are not pool buffers")

	_, ok = p.Offset(nil)
	require.False(t, ok)
}

func Test_Pool_FreeAllZeroesAndResets(t *testing.T) {
	p := newTestPool(t, 4*testAlign, testAlign)
	off, ok := p.Alloc(testAlign)
	require.True(t, ok)

	b := p.Slice(off, testAlign)
	for i := range b {
		b[i] = 0xAB
	}
	require.NoError(t, p.Protect(off, testAlign, true))

	require.NoError(t, p.FreeAll())
	require.Equal(t, 0, p.Cur())
	for i, v := range p.Bytes()[:testAlign] {
		require.Equal(t, byte(0), v, "byte %d not cleared", i)
	}

	// Writable again after FreeAll.
	p.Bytes()[0] = 1
}
