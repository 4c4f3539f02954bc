// Package config holds the tunables of the file buffer cache.
package config

import (
	"os"

	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPoolCapacity is the size of the file buffer pool.
	DefaultPoolCapacity = 64 * 1024 * 1024

	// DefaultAlignment is the allocation granularity, one typical page.
	DefaultAlignment = 4 * 1024

	// DefaultBlockSize is the block cache slot size.
	DefaultBlockSize = 32 * 1024

	// DefaultMaxEvictAttempts is the number of evictions in one allocation
	// after which a warning is logged.
	DefaultMaxEvictAttempts = 50

	minAlignment = 64
)

// Config configures a filecache.Manager.
type Config struct {
	// PoolCapacity is the number of bytes reserved for file buffers.
	PoolCapacity int `yaml:"pool_capacity"`

	// Alignment is the granularity of every buffer. Power of two, >= 64.
	Alignment int `yaml:"alignment"`

	// BlockSize is the size of one block cache slot. Power of two.
	BlockSize int `yaml:"block_size"`

	MaxEvictAttempts int `yaml:"max_evict_attempts"`

	// ProtectCached marks cached buffers read-only where the platform allows.
	ProtectCached bool `yaml:"protect_cached"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		PoolCapacity:     DefaultPoolCapacity,
		Alignment:        DefaultAlignment,
		BlockSize:        DefaultBlockSize,
		MaxEvictAttempts: DefaultMaxEvictAttempts,
		ProtectCached:    true,
		LogLevel:         "warn",
	}
}

// Load reads a YAML file. Keys that are absent keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %q", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "config %q", path)
	}
	return cfg, nil
}

// Validate checks the geometry of the pools.
func (c Config) Validate() error {
	if !isPow2(c.Alignment) || c.Alignment < minAlignment {
		return errors.Errorf("alignment %d must be a power of two >= %d", c.Alignment, minAlignment)
	}
	if c.PoolCapacity <= 0 || c.PoolCapacity%c.Alignment != 0 {
		return errors.Errorf("pool_capacity %d must be a positive multiple of alignment %d",
			c.PoolCapacity, c.Alignment)
	}
	if total := memory.TotalMemory(); total > 0 && uint64(c.PoolCapacity) > total {
		return errors.Errorf("pool_capacity %d exceeds physical memory %d", c.PoolCapacity, total)
	}
	if !isPow2(c.BlockSize) || c.BlockSize%c.Alignment != 0 {
		return errors.Errorf("block_size %d must be a power of two and a multiple of alignment %d",
			c.BlockSize, c.Alignment)
	}
	if c.MaxEvictAttempts <= 0 {
		return errors.Errorf("max_evict_attempts %d must be positive", c.MaxEvictAttempts)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel. An empty level means warn.
func (c Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.WarnLevel, nil
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, errors.Wrap(err, "log_level")
	}
	return lvl, nil
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}
