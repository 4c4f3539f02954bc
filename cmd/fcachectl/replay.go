package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/fcache/filecache"
)

func init() {
	rootCmd.AddCommand(newReplayCmd())
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <trace>",
		Short: "Replay a file access trace against the cache",
		Long: `The replay command simulates file loads recorded in a trace. Each line
is one of:

  load <name> <size>     load a file: cache hit, or allocate and cache it
  invalidate <name>      the file changed on disk
  flush                  drop the whole cache

Blank lines and lines starting with # are ignored.

Example:
  fcachectl replay session.trace
  fcachectl replay session.trace --capacity 16777216 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(args)
		},
	}
	return cmd
}

func runReplay(args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()

	m, err := newManager()
	if err != nil {
		return err
	}
	defer m.Shutdown()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := replayLine(m, strings.Fields(line)); err != nil {
			return fmt.Errorf("%s:%d: %w", args[0], lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}

	return printStats(m.Stats())
}

func replayLine(m *filecache.Manager, fields []string) error {
	switch fields[0] {
	case "load":
		if len(fields) != 3 {
			return fmt.Errorf("usage: load <name> <size>")
		}
		size, err := strconv.Atoi(fields[2])
		if err != nil || size < 0 {
			return fmt.Errorf("invalid size %q", fields[2])
		}
		return replayLoad(m, fields[1], size)

	case "invalidate":
		if len(fields) != 2 {
			return fmt.Errorf("usage: invalidate <name>")
		}
		printVerbose("invalidate %s\n", fields[1])
		m.CacheInvalidate(m.Atoms().Intern(fields[1]))
		return nil

	case "flush":
		printVerbose("flush\n")
		m.CacheFlush()
		return nil

	default:
		return fmt.Errorf("unknown trace command %q", fields[0])
	}
}

func replayLoad(m *filecache.Manager, name string, size int) error {
	owner := m.Atoms().Intern(name)
	printVerbose("load %s (%d bytes, cached: %v)\n", name, size, m.CacheFind(owner) != nil)

	if buf := m.CacheRetrieve(owner); buf != nil {
		return m.BufFree(buf)
	}

	buf, err := m.BufAlloc(size, owner, false)
	if err != nil {
		return err
	}
	if err := m.CacheAdd(owner, buf, 1); err != nil {
		return err
	}
	return m.BufFree(buf)
}
