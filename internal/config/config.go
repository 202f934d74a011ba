// Package config loads the host's configuration file: registry endpoint and
// credentials, local bind address, base weight, timeout threshold, the
// statistics window, the heartbeat cadence, and the per-identifier service
// and config-watch specs (spec.md §3 HostConfig, §6 Host config).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// minWindowSize is the spec-mandated floor on HostConfig.Health.StatWindowSize (§3: "integer ≥ 10").
const minWindowSize = 10

// ServerConfig holds the registry endpoint and credentials plus the
// heartbeat cadence.
type ServerConfig struct {
	Host              string `koanf:"host"`
	Username          string `koanf:"username"`
	Password          string `koanf:"password"`
	HeartbeatInterval int    `koanf:"heartbeat_interval"` // seconds
}

// InstanceConfig describes the local network instance advertised to the
// registry.
type InstanceConfig struct {
	IP               string  `koanf:"ip"`
	Port             int     `koanf:"port"`
	Weight           float64 `koanf:"weight"`
	TimeoutThreshold int     `koanf:"timeout_threshold"` // milliseconds
}

// HealthConfig parameterizes the rolling-window health controller.
type HealthConfig struct {
	StatWindowSize int `koanf:"stat_window_size"`
	AdjustCoolDown int `koanf:"adjust_cool_down"` // seconds
}

// ServiceConfig is one entry of the service.<k>.* namespace.
type ServiceConfig struct {
	Enable      bool              `koanf:"enable"`
	ServiceName string            `koanf:"serviceName"` // target implementation identifier
	Namespace   string            `koanf:"namespace"`
	Contract    map[string]string `koanf:"contract"`
}

// ConfigWatchConfig is one entry of the config.<name>.* namespace.
type ConfigWatchConfig struct {
	Enable   bool   `koanf:"enable"`
	Publish  bool   `koanf:"publish"`
	DataID   string `koanf:"dataId"`
	Group    string `koanf:"group"`
	Tenant   string `koanf:"tenant"`
	File     string `koanf:"file"`
	Callback string `koanf:"callback"` // name resolved against a registered sink at startup
}

// HostConfig is the fully-parsed, validated configuration. Treat as
// immutable after Load returns it (spec.md §3).
type HostConfig struct {
	Server   ServerConfig                 `koanf:"server"`
	Instance InstanceConfig               `koanf:"instance"`
	Health   HealthConfig                 `koanf:"health"`
	Service  map[string]ServiceConfig     `koanf:"service"`
	Config   map[string]ConfigWatchConfig `koanf:"config"`
}

// HeartbeatInterval returns Server.HeartbeatInterval as a time.Duration.
func (c *HostConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.Server.HeartbeatInterval) * time.Second
}

// TimeoutThreshold returns Instance.TimeoutThreshold as a time.Duration.
func (c *HostConfig) TimeoutThreshold() time.Duration {
	return time.Duration(c.Instance.TimeoutThreshold) * time.Millisecond
}

// AdjustCoolDown returns Health.AdjustCoolDown as a time.Duration.
func (c *HostConfig) AdjustCoolDown() time.Duration {
	return time.Duration(c.Health.AdjustCoolDown) * time.Second
}

// Validate enforces the HostConfig invariants from spec.md §3.
func (c *HostConfig) Validate() error {
	if c.Instance.Weight <= 0 {
		return fmt.Errorf("instance.weight must be > 0, got %v", c.Instance.Weight)
	}
	if c.Instance.TimeoutThreshold <= 0 {
		return fmt.Errorf("instance.timeout_threshold must be > 0ms, got %d", c.Instance.TimeoutThreshold)
	}
	if c.Health.StatWindowSize < minWindowSize {
		return fmt.Errorf("health.stat_window_size must be >= %d, got %d", minWindowSize, c.Health.StatWindowSize)
	}
	if c.Health.AdjustCoolDown <= 0 {
		return fmt.Errorf("health.adjust_cool_down must be > 0s, got %d", c.Health.AdjustCoolDown)
	}
	if c.Server.HeartbeatInterval <= 0 {
		return fmt.Errorf("server.heartbeat_interval must be > 0s, got %d", c.Server.HeartbeatInterval)
	}
	for name, cw := range c.Config {
		if cw.Enable && cw.DataID == "" {
			return fmt.Errorf("config.%s.dataId is required when enabled", name)
		}
	}
	return nil
}

// Loader loads HostConfig from a YAML file overridden by NACOSHOST_* env
// vars, following tomtom215-lyrebirdaudio-go/internal/config/koanf.go's
// multi-source precedence (env overrides file).
type Loader struct {
	filePath  string
	envPrefix string
}

// NewLoader returns a Loader reading path, overridden by vars prefixed with
// envPrefix (default "NACOSHOST").
func NewLoader(filePath string, envPrefix string) *Loader {
	if envPrefix == "" {
		envPrefix = "NACOSHOST"
	}
	return &Loader{filePath: filePath, envPrefix: envPrefix}
}

// Load reads, merges, unmarshals, and validates the configuration.
func (l *Loader) Load() (*HostConfig, error) {
	k := koanf.New(".")

	if l.filePath != "" {
		if err := k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: l.envPrefix + "_",
		TransformFunc: func(key, v string) (string, any) {
			key = strings.TrimPrefix(key, l.envPrefix+"_")
			key = strings.ToLower(key)
			return strings.ReplaceAll(key, "_", "."), v
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	var cfg HostConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Service == nil {
		cfg.Service = make(map[string]ServiceConfig)
	}
	if cfg.Config == nil {
		cfg.Config = make(map[string]ConfigWatchConfig)
	}
	for name, cw := range cfg.Config {
		if cw.Tenant == "" {
			cw.Tenant = "public"
			cfg.Config[name] = cw
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
