package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/fcache/filecache/atom"
	"github.com/joshuapare/fcache/filecache/config"
)

// setGlobals sets the global flags for one test and restores them afterwards.
func setGlobals(t *testing.T, asJSON bool, poolCapacity int) {
	t.Helper()
	oldJSON, oldCapacity, oldQuiet, oldVerbose, oldConfig := jsonOut, capacity, quiet, verbose, configPath
	jsonOut, capacity, quiet, verbose, configPath = asJSON, poolCapacity, false, false, ""
	t.Cleanup(func() {
		jsonOut, capacity, quiet, verbose, configPath = oldJSON, oldCapacity, oldQuiet, oldVerbose, oldConfig
	})
}

// writeFile creates a file in a temp dir and returns its path.
func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	// Save original stdout
	origStdout := os.Stdout

	// Create a pipe to capture output
	r, w, err := os.Pipe()
	require.NoError(t, err)

	// Redirect stdout to pipe
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	// Run function
	fnErr := fn()

	// Close write end and restore stdout
	w.Close()
	os.Stdout = origStdout

	return string(<-done), fnErr
}

// decodeJSON unmarshals captured output into v.
func decodeJSON(t *testing.T, output string, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(output), v), "output is not valid JSON:\n%s", output)
}

// testManagerConfig is a small pool without read-only protection.
func testManagerConfig() config.Config {
	cfg := config.Default()
	cfg.PoolCapacity = 1 << 20
	cfg.ProtectCached = false
	return cfg
}

func testAtoms() *atom.Table { return atom.NewTable() }
