package main

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/joshuapare/fcache/filecache/alloc"
)

var (
	selftestSeed    int64
	selftestMaxSize int
	selftestRounds  int
)

func init() {
	cmd := newSelftestCmd()
	cmd.Flags().Int64Var(&selftestSeed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&selftestMaxSize, "max-size", 10*1024*1024, "Largest allocation in bytes")
	cmd.Flags().IntVar(&selftestRounds, "rounds", 4, "Allocate this many times the pool capacity in total")
	rootCmd.AddCommand(cmd)
}

func newSelftestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run the allocator torture test",
		Long: `The selftest command allocates random sizes until several times the
pool capacity has been handed out, freeing random earlier allocations
whenever the pool is full, and then checks that no two live allocations
overlap and that everything coalesces back into one region.

Example:
  fcachectl selftest
  fcachectl selftest --seed 42 --capacity 16777216 --max-size 1048576`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelftest()
		},
	}
	return cmd
}

// SelftestResult summarises a torture test run.
type SelftestResult struct {
	Seed        int64       `json:"seed"`
	Capacity    int         `json:"capacity"`
	Allocations int         `json:"allocations"`
	Frees       int         `json:"frees"`
	BytesHanded int         `json:"bytes_handed_out"`
	MaxLive     int         `json:"max_live"`
	Stats       alloc.Stats `json:"stats"`
}

func runSelftest() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if selftestMaxSize <= 0 {
		return fmt.Errorf("--max-size must be positive")
	}
	logger := newLogger(cfg)
	res, err := torture(logger, cfg.PoolCapacity, cfg.Alignment, selftestMaxSize, selftestRounds, selftestSeed)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(res)
	}
	printInfo("Selftest passed (seed %d)\n", res.Seed)
	printInfo("  %d allocations, %d frees, %s handed out from a %s pool\n",
		res.Allocations, res.Frees, formatBytes(res.BytesHanded), formatBytes(res.Capacity))
	printInfo("  at most %d live allocations\n", res.MaxLive)
	printVerbose("  %d from freelist, %d from pool, %d split from larger class, %d splits\n",
		res.Stats.FromFreelist, res.Stats.FromPool, res.Stats.FromLargerClass, res.Stats.Splits)
	return nil
}

// torture allocates random sizes until rounds*capacity bytes were handed out.
// When the pool is full a random live allocation is freed and the request
// retried.
func torture(logger logrus.FieldLogger, capacity, align, maxSize, rounds int, seed int64) (SelftestResult, error) {
	res := SelftestResult{Seed: seed, Capacity: capacity}

	a, err := alloc.New(capacity, align, alloc.Options{Logger: logger})
	if err != nil {
		return res, err
	}
	defer a.Shutdown()

	rng := rand.New(rand.NewSource(seed))
	live := make(map[int]int)
	var offs []int

	for res.BytesHanded < rounds*capacity {
		size := 1 + rng.Intn(min(maxSize, capacity))
		res.BytesHanded += size

		for {
			off, err := a.Alloc(size)
			if err == nil {
				if _, dup := live[off]; dup {
					return res, fmt.Errorf("offset %d handed out twice", off)
				}
				live[off] = size
				offs = append(offs, off)
				res.Allocations++
				break
			}
			if !errors.Is(err, alloc.ErrNoSpace) {
				return res, err
			}
			if len(offs) == 0 {
				return res, fmt.Errorf("empty pool cannot serve %d bytes", size)
			}

			// out of room: free a random earlier allocation
			i := rng.Intn(len(offs))
			victim := offs[i]
			offs[i] = offs[len(offs)-1]
			offs = offs[:len(offs)-1]
			if err := a.Free(victim, live[victim]); err != nil {
				return res, err
			}
			delete(live, victim)
			res.Frees++
		}
		res.MaxLive = max(res.MaxLive, len(live))
	}

	if err := checkNoOverlap(live, align); err != nil {
		return res, err
	}

	for _, off := range offs {
		if err := a.Free(off, live[off]); err != nil {
			return res, err
		}
		res.Frees++
	}
	if got := a.Available(); got != capacity {
		return res, fmt.Errorf("leak: %d of %d bytes available after freeing everything", got, capacity)
	}
	if regions := a.FreeRegions(); len(regions) > 1 {
		return res, fmt.Errorf("free space did not coalesce: %d regions", len(regions))
	}

	res.Stats = a.GetStats()
	return res, nil
}

func checkNoOverlap(live map[int]int, align int) error {
	offs := make([]int, 0, len(live))
	for off := range live {
		offs = append(offs, off)
	}
	sort.Ints(offs)
	for i := 1; i < len(offs); i++ {
		prev := offs[i-1]
		end := prev + roundUp(max(live[prev], 1), align)
		if offs[i] < end {
			return fmt.Errorf("allocations at %d and %d overlap", prev, offs[i])
		}
	}
	return nil
}

func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
