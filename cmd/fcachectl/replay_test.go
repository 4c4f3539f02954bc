package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/fcache/filecache"
)

const sessionTrace = `# a short session
load a.xml 10000
load b.xml 20000
load a.xml 10000

invalidate a.xml
load a.xml 10000
flush
load b.xml 20000
`

func Test_Replay_JSON(t *testing.T) {
	setGlobals(t, true, 1<<20)
	path := writeFile(t, "session.trace", []byte(sessionTrace))

	out, err := captureOutput(t, func() error { return runReplay([]string{path}) })
	require.NoError(t, err)

	var st filecache.Stats
	decodeJSON(t, out, &st)
	require.Equal(t, 4, st.BufAllocs)
	require.Equal(t, 1, st.CacheHits)
	require.Equal(t, 4, st.CacheMisses)
	require.Equal(t, 1, st.CachedFiles)
	require.Equal(t, 20000, st.CachedBytes)
	require.Equal(t, 0, st.Extant)
}

func Test_Replay_Text(t *testing.T) {
	setGlobals(t, false, 1<<20)
	path := writeFile(t, "session.trace", []byte(sessionTrace))

	out, err := captureOutput(t, func() error { return runReplay([]string{path}) })
	require.NoError(t, err)
	require.Contains(t, out, "1 hits, 4 misses")
}

func Test_Replay_Evicts(t *testing.T) {
	setGlobals(t, true, 64*1024)
	trace := "load a 32768\nload b 32768\nload c 32768\nload a 32768\n"
	path := writeFile(t, "evict.trace", []byte(trace))

	out, err := captureOutput(t, func() error { return runReplay([]string{path}) })
	require.NoError(t, err)

	var st filecache.Stats
	decodeJSON(t, out, &st)
	require.Equal(t, 0, st.CacheHits, "a was evicted to make room for c")
	require.Equal(t, 2, st.Evictions)
	require.Equal(t, 2, st.CachedFiles)
}

func Test_Replay_Errors(t *testing.T) {
	setGlobals(t, true, 64*1024)

	tests := []struct {
		name  string
		trace string
		want  string
	}{
		{"unknown command", "read a 10\n", "unknown trace command"},
		{"bad size", "load a ten\n", "invalid size"},
		{"missing size", "load a\n", "usage: load"},
		{"too large", "load a 1048576\n", "exceeds pool capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "bad.trace", []byte(tt.trace))
			_, err := captureOutput(t, func() error { return runReplay([]string{path}) })
			require.ErrorContains(t, err, tt.want)
			require.ErrorContains(t, err, "bad.trace:1")
		})
	}
}
