package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	defaultEnvPrefix = "GOBUS_"
	configEnvVar     = "GOBUS_CONFIG_PATH"
)

var errConfigFileNotFound = errors.New("config file not found")

// Loader loads a Config from layered sources: built-in defaults, an
// optional YAML file, then environment variables, each layer overriding
// the last.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths overrides the list of file paths searched for a config
// file, in order, first match wins.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) { l.configPaths = paths }
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) { l.envPrefix = prefix }
}

// NewLoader builds a Loader with the given options applied over defaults.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"gobus.yaml",
			"config/gobus.yaml",
			"/etc/gobus/gobus.yaml",
		},
		envPrefix: defaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load applies defaults, then an optional config file, then environment
// variables, in that order of precedence, and unmarshals the result.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	if err := l.loadConfigFile(); err != nil {
		if !errors.Is(err, errConfigFileNotFound) {
			return nil, fmt.Errorf("config: load config file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "config: no config file loaded: %v\n", err)
	}
	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		"app.name":        "gobus-client",
		"app.environment": "development",

		"log.level": "info",
		"log.dev":   false,

		"bus.etcd.endpoints": []string{"localhost:2379"},

		"bus.redis.addr":     "localhost:6379",
		"bus.redis.password": "",
		"bus.redis.db":       0,

		"bus.rpc.listen_addr": "",
		"bus.rpc.codec":       "json",

		"bus.schema_monitor_interval": 30 * time.Second,
	}
	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}
	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}
	return fmt.Errorf("%w in paths: %v", errConfigFileNotFound, l.configPaths)
}

func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, l.envPrefix)),
			"_", ".",
		)
	}), nil)
}

// Load is a convenience entry point using default options.
func Load() (*Config, error) {
	return NewLoader().Load()
}

// MustLoad loads a Config or panics, for use in command-line entry points
// where a broken config should fail fast.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}
