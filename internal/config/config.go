// Package config loads encsql settings from defaults, an optional YAML
// file and ENCSQL_-prefixed environment variables, in increasing order of
// precedence. Command-line flags are applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
)

// EnvPrefix prefixes every environment variable: ENCSQL_STORE_PATH sets
// store.path.
const EnvPrefix = "ENCSQL"

// DefaultFile is read from the working directory when no file is named.
const DefaultFile = "encsql.yaml"

// Config holds encsql configuration.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Keys      KeysConfig      `mapstructure:"keys"`
	FHE       FHEConfig       `mapstructure:"fhe"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Server    ServerConfig    `mapstructure:"server"`
}

// StoreConfig locates the encrypted table store.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// KeysConfig locates client.key and server.key.
type KeysConfig struct {
	Dir string `mapstructure:"dir"`
}

// FHEConfig selects the encryption parameters used by keygen.
type FHEConfig struct {
	Preset string `mapstructure:"preset"`
}

// EvaluatorConfig tunes server-side evaluation.
type EvaluatorConfig struct {
	Workers int `mapstructure:"workers"` // rows evaluated concurrently
}

// ServerConfig configures the HTTP evaluation server and its clients.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	URL          string        `mapstructure:"url"` // set: query evaluates remotely
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	// ShutdownTimeout bounds the graceful drain on stop.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns default encsql configuration.
func DefaultConfig() *Config {
	return &Config{
		Store:     StoreConfig{Path: "./encsql.db"},
		Keys:      KeysConfig{Dir: "./keys"},
		FHE:       FHEConfig{Preset: fhe.PresetDefault},
		Evaluator: EvaluatorConfig{Workers: runtime.NumCPU()},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			MaxBodyBytes:    1 << 30,
			ShutdownTimeout: time.Minute,
		},
	}
}

// Load reads configuration. path names a YAML file; when empty,
// encsql.yaml in the working directory is read if it exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if _, err := os.Stat(DefaultFile); err == nil {
		v.SetConfigFile(DefaultFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", DefaultFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv also applies to
// keys absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("keys.dir", d.Keys.Dir)
	v.SetDefault("fhe.preset", d.FHE.Preset)
	v.SetDefault("evaluator.workers", d.Evaluator.Workers)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is empty"))
	}
	if c.Keys.Dir == "" {
		errs = append(errs, errors.New("keys.dir is empty"))
	}
	if !slices.Contains(fhe.Presets(), c.FHE.Preset) {
		errs = append(errs, fmt.Errorf("fhe.preset %q is not one of %v", c.FHE.Preset, fhe.Presets()))
	}
	if c.Evaluator.Workers < 0 {
		errs = append(errs, fmt.Errorf("evaluator.workers is %d, must not be negative", c.Evaluator.Workers))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
