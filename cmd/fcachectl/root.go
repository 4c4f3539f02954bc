package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/joshuapare/fcache/filecache"
	"github.com/joshuapare/fcache/filecache/config"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	configPath string
	capacity   int
)

var rootCmd = &cobra.Command{
	Use:   "fcachectl",
	Short: "Exercise and inspect the file buffer cache",
	Long: `fcachectl drives the file buffer cache outside of an application:
it replays file access traces, loads real files through the cache and runs
the allocator torture test.`,
	Version: "0.1.0",
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().
		IntVar(&capacity, "capacity", 0, "Override the buffer pool capacity in bytes")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config (or the defaults) and applies --capacity.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return cfg, err
		}
	}
	if capacity > 0 {
		cfg.PoolCapacity = capacity
	}
	return cfg, cfg.Validate()
}

// newLogger writes to stderr at the configured level; --verbose forces debug.
func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	lvl, err := cfg.Level()
	if err != nil {
		lvl = logrus.WarnLevel
	}
	if verbose {
		lvl = logrus.DebugLevel
	}
	if quiet {
		lvl = logrus.ErrorLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// newManager builds a manager from the global flags.
func newManager() (*filecache.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return filecache.New(cfg, filecache.WithLogger(newLogger(cfg)))
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printStats writes a manager snapshot in the selected format.
func printStats(st filecache.Stats) error {
	if jsonOut {
		return printJSON(st)
	}
	printInfo("Buffers:   %d allocated, %d freed, %d refs, %d outstanding\n",
		st.BufAllocs, st.BufFrees, st.BufRefs, st.Extant)
	printInfo("Cache:     %d hits, %d misses, %d evictions\n",
		st.CacheHits, st.CacheMisses, st.Evictions)
	printInfo("Cached:    %d files, %s\n", st.CachedFiles, formatBytes(st.CachedBytes))
	printInfo("Pool:      %s committed, %s available\n",
		formatBytes(st.Committed), formatBytes(st.Available))
	printInfo("Blocks:    %d hits, %d misses, %d allocs\n",
		st.Blocks.Hits, st.Blocks.Misses, st.Blocks.Allocs)
	printVerbose("Allocator: %d from freelist, %d from pool, %d split from larger class, %d coalesced\n",
		st.Alloc.FromFreelist, st.Alloc.FromPool, st.Alloc.FromLargerClass,
		st.Alloc.CoalesceLeft+st.Alloc.CoalesceRight)
	return nil
}

func formatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
