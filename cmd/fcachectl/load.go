package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/fcache/filecache"
	"github.com/joshuapare/fcache/filecache/atom"
	"github.com/joshuapare/fcache/filecache/blocks"
)

var loadPasses int

func init() {
	cmd := newLoadCmd()
	cmd.Flags().IntVar(&loadPasses, "passes", 2, "Number of times to load every file")
	rootCmd.AddCommand(cmd)
}

func newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <file>...",
		Short: "Load files through the cache",
		Long: `The load command reads files into cache buffers block by block, going
through the block cache, and caches their content. Later passes are served
from the cache where it still holds the file.

Example:
  fcachectl load data/*.xml
  fcachectl load big.bin --passes 3 --capacity 8388608`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(args)
		},
	}
	return cmd
}

func runLoad(args []string) error {
	m, err := newManager()
	if err != nil {
		return err
	}
	defer m.Shutdown()

	for pass := 0; pass < loadPasses; pass++ {
		printVerbose("Pass %d\n", pass+1)
		for _, path := range args {
			if err := loadFile(m, path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
	}

	return printStats(m.Stats())
}

// loadFile serves path from the cache or reads and caches it.
func loadFile(m *filecache.Manager, path string) error {
	owner := m.Atoms().Intern(path)
	if buf := m.CacheRetrieve(owner); buf != nil {
		printVerbose("  %s: cached\n", path)
		return m.BufFree(buf)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	buf, err := m.BufAlloc(int(info.Size()), owner, false)
	if err != nil {
		return err
	}
	if err := readThroughBlocks(m.Blocks(), owner, f, buf); err != nil {
		_ = m.BufFree(buf)
		return err
	}
	printVerbose("  %s: read %d bytes\n", path, len(buf))

	if err := m.CacheAdd(owner, buf, 1); err != nil {
		_ = m.BufFree(buf)
		return err
	}
	return m.BufFree(buf)
}

// readThroughBlocks fills dst from r one block at a time. Blocks already in
// the block cache are copied from there; others are read into a block slot
// first. When every slot is locked the block is read directly.
func readThroughBlocks(bc *blocks.Cache, owner *atom.Atom, r io.ReaderAt, dst []byte) error {
	bs := bc.BlockSize()
	for off := 0; off < len(dst); off += bs {
		id := bc.MakeID(owner, int64(off))
		want := min(bs, len(dst)-off)

		if data := bc.Find(id); data != nil {
			copy(dst[off:off+want], data)
			bc.Release(id)
			continue
		}

		slot, err := bc.Alloc(id)
		if errors.Is(err, blocks.ErrAllLocked) {
			if _, err := r.ReadAt(dst[off:off+want], int64(off)); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		n, err := r.ReadAt(slot, int64(off))
		if err != nil && !errors.Is(err, io.EOF) {
			bc.Invalidate(owner)
			return err
		}
		if n < want {
			bc.Invalidate(owner)
			return io.ErrUnexpectedEOF
		}
		bc.MarkCompleted(id)
		copy(dst[off:off+want], slot[:want])
	}
	return nil
}
