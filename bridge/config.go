package bridge

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/memory"
	"github.com/lovell/sharp-sub001/threads"
)

// EnvPrefix prefixes every environment override, e.g. SHARPWASM_MEMORY_MAX.
const EnvPrefix = "SHARPWASM"

// Config configures a Bridge.
type Config struct {
	Memory  MemoryConfig  `toml:"memory"`
	Threads ThreadsConfig `toml:"threads"`
	FS      FSConfig      `toml:"fs"`
	Process ProcessConfig `toml:"process"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// MemoryConfig sizes linear memory, in bytes.
type MemoryConfig struct {
	Initial uint64 `toml:"initial" envconfig:"INITIAL"`
	Max     uint64 `toml:"max" envconfig:"MAX"`
	// ScratchStack is the host marshalling stack carved out of each instance.
	ScratchStack uint32 `toml:"scratch_stack" envconfig:"SCRATCH_STACK"`
}

// ThreadsConfig configures the worker pool.
type ThreadsConfig struct {
	Enabled bool `toml:"enabled" envconfig:"ENABLED"`
	// PoolSize workers are loaded before the addon registers.
	PoolSize   int `toml:"pool_size" envconfig:"POOL_SIZE"`
	MaxWorkers int `toml:"max_workers" envconfig:"MAX_WORKERS"`
	// StackSize is the guest stack each worker gets.
	StackSize uint32 `toml:"stack_size" envconfig:"STACK_SIZE"`
}

// FSConfig configures the virtual filesystem.
type FSConfig struct {
	// Mounts are host:guest[:ro] directory passthroughs.
	Mounts            []string `toml:"mounts" envconfig:"MOUNTS"`
	IgnorePermissions bool     `toml:"ignore_permissions" envconfig:"IGNORE_PERMISSIONS"`
}

// ProcessConfig is what the guest sees of its process.
type ProcessConfig struct {
	Args []string `toml:"args" envconfig:"ARGS"`
	// Env holds KEY=VALUE pairs.
	Env []string `toml:"env" envconfig:"ENV"`
	// Stdin is a host file read as fd 0; "-" is the host's stdin.
	Stdin string `toml:"stdin" envconfig:"STDIN"`
}

// LogConfig selects the zap logger the CLI builds.
type LogConfig struct {
	Level       string `toml:"level" envconfig:"LEVEL"`
	Development bool   `toml:"development" envconfig:"DEVELOPMENT"`
}

// MetricsConfig toggles prometheus collection.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" envconfig:"ENABLED"`
}

// Mount is a parsed FSConfig.Mounts entry.
type Mount struct {
	Host     string
	Guest    string
	ReadOnly bool
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Memory: MemoryConfig{
			Initial:      16 << 20,
			Max:          2 << 30,
			ScratchStack: 64 << 10,
		},
		Threads: ThreadsConfig{
			Enabled:    true,
			MaxWorkers: threads.DefaultMaxWorkers,
			StackSize:  64 << 10,
		},
		FS: FSConfig{IgnorePermissions: true},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path over the defaults, then applies SHARPWASM_*
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read config file")
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse "+path)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "environment overrides")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks limits and mount syntax.
func (c *Config) Validate() error {
	if c.Memory.Initial == 0 || c.Memory.Initial%memory.PageSize != 0 {
		return errors.InvalidInput(errors.PhaseConfig, "memory.initial must be a positive multiple of 64 KiB")
	}
	if c.Memory.Max%memory.PageSize != 0 {
		return errors.InvalidInput(errors.PhaseConfig, "memory.max must be a multiple of 64 KiB")
	}
	if c.Memory.Max < c.Memory.Initial {
		return errors.InvalidInput(errors.PhaseConfig, "memory.max is below memory.initial")
	}
	if c.Memory.Max > memory.MaxPages*memory.PageSize {
		return errors.InvalidInput(errors.PhaseConfig, "memory.max exceeds 4 GiB")
	}
	if c.Threads.PoolSize < 0 || c.Threads.MaxWorkers < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "negative worker count")
	}
	if c.Threads.MaxWorkers > 0 && c.Threads.PoolSize > c.Threads.MaxWorkers {
		return errors.InvalidInput(errors.PhaseConfig, "threads.pool_size exceeds threads.max_workers")
	}
	if _, err := c.FS.ParseMounts(); err != nil {
		return err
	}
	for _, kv := range c.Process.Env {
		if !strings.Contains(kv, "=") {
			return errors.InvalidInput(errors.PhaseConfig, "process.env entry without '=': "+kv)
		}
	}
	return nil
}

// ParseMounts splits every host:guest[:ro] entry.
func (f FSConfig) ParseMounts() ([]Mount, error) {
	out := make([]Mount, 0, len(f.Mounts))
	for _, s := range f.Mounts {
		parts := strings.Split(s, ":")
		m := Mount{}
		switch {
		case len(parts) == 2:
		case len(parts) == 3 && parts[2] == "ro":
			m.ReadOnly = true
		case len(parts) == 3 && parts[2] == "rw":
		default:
			return nil, errors.InvalidInput(errors.PhaseConfig, "mount "+s+": want host:guest[:ro]")
		}
		m.Host, m.Guest = parts[0], parts[1]
		if m.Host == "" || !strings.HasPrefix(m.Guest, "/") {
			return nil, errors.InvalidInput(errors.PhaseConfig, "mount "+s+": host must be set and guest absolute")
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Config) pages() (initial, max uint32) {
	return uint32(c.Memory.Initial / memory.PageSize), uint32(c.Memory.Max / memory.PageSize)
}
