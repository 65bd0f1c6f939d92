// Package config defines the bus client's configuration surface and the
// layered loader (defaults -> file -> env) that fills it.
//
// Config uses the usual koanf-tagged nested struct shape, loaded through a
// Loader with WithConfigPaths/WithEnvPrefix options, narrowed to the fields
// a bus client needs instead of a full microservice's.
package config

import "time"

// Config is the root configuration object a Loader produces.
type Config struct {
	App  AppConfig            `koanf:"app"`
	Log  LogConfig            `koanf:"log"`
	Bus  BusConfig            `koanf:"bus"`
	APIs map[string]APIConfig `koanf:"apis"`
}

// AppConfig carries process identity, used in startup log lines.
type AppConfig struct {
	Name        string `koanf:"name"`
	Environment string `koanf:"environment"`
}

// LogConfig configures the blog/zap logger.
type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
	Dev   bool   `koanf:"dev"`   // human-readable console encoding instead of JSON
}

// BusConfig names the backing addresses for the shipped transports.
type BusConfig struct {
	Etcd                  EtcdConfig      `koanf:"etcd"`
	Redis                 RedisConfig     `koanf:"redis"`
	RPC                   RPCListenConfig `koanf:"rpc"`
	SchemaMonitorInterval time.Duration   `koanf:"schema_monitor_interval"`
}

// EtcdConfig configures the schema transport's etcd client.
type EtcdConfig struct {
	Endpoints []string `koanf:"endpoints"`
}

// RedisConfig configures the event transport's Redis client.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// RPCListenConfig configures the tcprpc transport's inbound listener.
type RPCListenConfig struct {
	ListenAddr string `koanf:"listen_addr"`
	Codec      string `koanf:"codec"` // "json" or "binary"
}

// APIConfig holds per-API settings. RPCTimeout is the single authoritative
// source for a call's deadline absent a per-call override
// (rpc.CallOptions.Timeout).
type APIConfig struct {
	RPCTimeout time.Duration `koanf:"rpc_timeout"`
	CastValues bool          `koanf:"cast_values"`
	RateLimit  float64       `koanf:"rate_limit"`
	RateBurst  int           `koanf:"rate_burst"`
}

// defaultAPIConfig is used for any API name not explicitly configured.
var defaultAPIConfig = APIConfig{
	RPCTimeout: 5 * time.Second,
	CastValues: true,
	RateLimit:  0, // 0 disables rate limiting
	RateBurst:  0,
}

// API returns the configuration for apiName, falling back to sensible
// defaults when it has no explicit entry.
func (c *Config) API(apiName string) APIConfig {
	if cfg, ok := c.APIs[apiName]; ok {
		return cfg
	}
	return defaultAPIConfig
}
