package extant

import (
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/fcache/filecache/atom"
)

func newTestTracker(t *testing.T) (*Tracker, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	return New(logger), hook
}

func Test_FindAndRemove_RefcountTwo(t *testing.T) {
	tr, _ := newTestTracker(t)
	owner := atom.NewTable().Intern("maps/a.pmp")

	tr.Add(4096, 100, owner, false)
	tr.AddRef(4096, 100, owner)

	e, removed, err := tr.FindAndRemove(4096)
	require.NoError(t, err)
	require.False(t, removed, "first free leaves one reference")
	require.Equal(t, 2, e.Refs)

	e, removed, err = tr.FindAndRemove(4096)
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, 4096, e.Start)
	require.Equal(t, 100, e.Size)
	require.Same(t, owner, e.Owner)
	require.Equal(t, 0, tr.Len())
}

func Test_FindAndRemove_InteriorAddress(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.Add(0, 64, nil, false)
	tr.Add(64, 128, nil, false)

	e, removed, err := tr.FindAndRemove(64 + 127)
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, 64, e.Start)

	_, ok := tr.Lookup(64)
	require.False(t, ok)
	require.True(t, tr.Referenced(63))
}

func Test_FindAndRemove_Untracked(t *testing.T) {
	tr, hook := newTestTracker(t)

	tr.Add(0, 64, nil, true)
	_, _, err := tr.FindAndRemove(0)
	require.NoError(t, err)

	_, removed, err := tr.FindAndRemove(0)
	require.ErrorIs(t, err, ErrNotTracked)
	require.False(t, removed)
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	require.Equal(t, "extant_free", hook.LastEntry().Data["action"])
}

func Test_Add_ZeroSizeContainsStart(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.Add(128, 0, nil, false)
	e, ok := tr.Lookup(128)
	require.True(t, ok)
	require.Equal(t, 1, e.Size)
}

func Test_Add_ReusesVacatedSlot(t *testing.T) {
	tr, _ := newTestTracker(t)

	for i := 0; i < 4; i++ {
		tr.Add(i*64, 64, nil, true)
	}
	_, _, err := tr.FindAndRemove(64)
	require.NoError(t, err)
	_, _, err = tr.FindAndRemove(128)
	require.NoError(t, err)
	require.Equal(t, 2, tr.Len())

	tr.Add(1024, 64, nil, true)
	tr.Add(2048, 64, nil, true)
	require.Len(t, tr.entries, 4, "vacated slots should be reused")
	require.Equal(t, 1024, tr.entries[1].Start)
	require.Equal(t, 2048, tr.entries[2].Start)

	tr.Add(4096, 64, nil, true)
	require.Len(t, tr.entries, 5)
	require.Equal(t, 5, tr.Len())
}

func Test_Epoch_ImmediateFreeIsQuiet(t *testing.T) {
	tr, hook := newTestTracker(t)

	for i := 0; i < 10; i++ {
		tr.Add(i*64, 64, nil, false)
		_, _, err := tr.FindAndRemove(i * 64)
		require.NoError(t, err)
	}
	require.Empty(t, hook.AllEntries())
}

func Test_Epoch_HeldBufferWarns(t *testing.T) {
	tr, hook := newTestTracker(t)
	owner := atom.NewTable().Intern("a.xml")

	tr.Add(0, 64, owner, false)
	tr.Add(64, 64, nil, false)

	_, _, err := tr.FindAndRemove(64)
	require.NoError(t, err)
	require.Empty(t, hook.AllEntries())

	// the first buffer outlived the second allocation
	_, removed, err := tr.FindAndRemove(0)
	require.NoError(t, err)
	require.True(t, removed, "the hygiene check never blocks a free")
	require.Len(t, hook.Entries, 1)
	require.Equal(t, "extant_epoch", hook.LastEntry().Data["action"])
	require.Equal(t, "a.xml", hook.LastEntry().Data["owner"])
}

func Test_Epoch_LongLivedExempt(t *testing.T) {
	tr, hook := newTestTracker(t)

	tr.Add(0, 64, nil, true)
	tr.Add(64, 64, nil, false)
	_, _, err := tr.FindAndRemove(64)
	require.NoError(t, err)
	_, _, err = tr.FindAndRemove(0)
	require.NoError(t, err)

	require.Empty(t, hook.AllEntries())
}

func Test_ReplaceOwner(t *testing.T) {
	tr, _ := newTestTracker(t)
	tab := atom.NewTable()

	tr.Add(0, 256, tab.Intern("tmp"), false)
	require.NoError(t, tr.ReplaceOwner(100, tab.Intern("real.dds")))

	e, ok := tr.Lookup(0)
	require.True(t, ok)
	require.Equal(t, "real.dds", e.Owner.String())

	require.ErrorIs(t, tr.ReplaceOwner(4096, nil), ErrNotTracked)
}

func Test_Leaked(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.Add(0, 64, nil, false)
	tr.Add(64, 64, nil, false)
	tr.Add(128, 64, nil, false)
	_, _, err := tr.FindAndRemove(64)
	require.NoError(t, err)

	leaked := tr.Leaked()
	require.Len(t, leaked, 2)
	require.Equal(t, 0, leaked[0].Start)
	require.Equal(t, 128, leaked[1].Start)
}
