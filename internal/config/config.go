// Package config loads mdexecctl's run-time configuration, following the
// same viper-with-defaults shape the rest of the pack uses for CLI config.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the knobs a RunAsync invocation needs that aren't specific
// to one particular graph: worker-pool sizing, allocator budget, and
// logging.
type Config struct {
	Run RunConfig `mapstructure:"run"`
	Log LogConfig `mapstructure:"log"`
}

// RunConfig mirrors the Args fields a CLI invocation can reasonably expose
// as flags/config instead of Go call sites.
type RunConfig struct {
	Concurrency     uint   `mapstructure:"concurrency"`
	AllocatorBudget uint64 `mapstructure:"allocator_budget"`
	SyncOnFinish    bool   `mapstructure:"sync_on_finish"`
	Iterations      int    `mapstructure:"iterations"`
}

// LogConfig controls the zap logger constructed for the run.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// Load reads configuration from configPath (if non-empty), environment
// variables prefixed MDEXEC_, and falls back to defaults otherwise.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", configPath, err)
		}
	} else {
		v.SetConfigName("mdexecctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("mdexec")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.concurrency", 4)
	v.SetDefault("run.allocator_budget", 0)
	v.SetDefault("run.sync_on_finish", true)
	v.SetDefault("run.iterations", 5)
	v.SetDefault("log.level", "info")
}
