// Package config loads process-level configuration for service mode.
//
// Precedence, highest first: runtime overrides, MAILBATCH_* environment
// variables, an optional mailbatch.yaml config file, built-in defaults.
// Job manifests are separate; see pkg/manifest.
package config

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the loaded process configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Bus     BusConfig     `mapstructure:"bus"`
	Runs    RunsConfig    `mapstructure:"runs"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the process loggers.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
	File    string `mapstructure:"file"`
}

// BusConfig configures the optional NATS event bus.
type BusConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// RunsConfig configures the on-disk run log.
type RunsConfig struct {
	// Dir is the run log root. Empty means the per-user data dir.
	Dir string `mapstructure:"dir"`
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// envAliases maps short MAILBATCH_* names onto config paths, in
// addition to the fully-qualified MAILBATCH_SERVER_PORT style names.
var envAliases = map[string][]string{
	"server.host":             {"MAILBATCH_HOST"},
	"server.port":             {"MAILBATCH_PORT"},
	"server.read_timeout":     {"MAILBATCH_READ_TIMEOUT"},
	"server.shutdown_timeout": {"MAILBATCH_SHUTDOWN_TIMEOUT"},
	"logging.level":           {"MAILBATCH_LOG_LEVEL"},
	"logging.file":            {"MAILBATCH_LOG_FILE"},
	"bus.enabled":             {"MAILBATCH_BUS_ENABLED"},
	"bus.url":                 {"MAILBATCH_NATS_URL"},
	"runs.dir":                {"MAILBATCH_RUNS_DIR"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")
	v.SetDefault("logging.file", "")

	v.SetDefault("bus.enabled", false)
	v.SetDefault("bus.url", "nats://127.0.0.1:4222")
	v.SetDefault("bus.subject_prefix", "mailbatch.events")

	v.SetDefault("runs.dir", "")
}

// Load builds the configuration and installs it as the process config.
// Optional runtime overrides take precedence over environment variables
// and defaults.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	_ = ctx

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MAILBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for path, names := range envAliases {
		args := append([]string{path}, names...)
		_ = v.BindEnv(args...)
	}

	// Optional config file; absence is not an error.
	v.SetConfigName("mailbatch")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mailbatch")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Runtime overrides use viper's explicit-set level so they beat
	// both env vars and the config file.
	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

func applyOverrides(v *viper.Viper, prefix string, m map[string]any) {
	for key, value := range m {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			applyOverrides(v, path, nested)
			continue
		}
		v.Set(path, value)
	}
}

// GetConfig returns the most recently loaded config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}
