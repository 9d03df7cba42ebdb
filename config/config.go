// Package config loads and validates the SDK configuration: component
// identity, NATS connection, dispatch defaults, and server sizing.
// Configuration comes from JSON files layered over defaults, with
// environment variable overrides applied last.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c360/servicekit/errors"
)

// ComponentConfig identifies the running component.
type ComponentConfig struct {
	Name        string `json:"name"`                  // Component name, becomes the transport origin
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// NATSConfig defines the NATS connection.
type NATSConfig struct {
	URL              string   `json:"url"`
	Username         string   `json:"username,omitempty"`
	Password         string   `json:"password,omitempty"`
	Token            string   `json:"token,omitempty"`
	ConnectTimeout   Duration `json:"connect_timeout,omitempty"`
	MaxReconnects    int      `json:"max_reconnects,omitempty"`
	CircuitThreshold int32    `json:"circuit_threshold,omitempty"`

	TLS TLSConfig `json:"tls,omitempty"`
}

// TLSConfig holds optional TLS material for the NATS connection.
type TLSConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// DispatchConfig holds request processing defaults.
type DispatchConfig struct {
	DefaultTimeout Duration `json:"default_timeout,omitempty"` // Runtime call timeout when the schema declares none
	SchemaDir      string   `json:"schema_dir,omitempty"`      // Directory of JSON service definitions
}

// ServerConfig sizes the action server.
type ServerConfig struct {
	Workers     int      `json:"workers,omitempty"`
	QueueSize   int      `json:"queue_size,omitempty"`
	StopTimeout Duration `json:"stop_timeout,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled,omitempty"`
	Port    int  `json:"port,omitempty"`
}

// Config is the complete SDK configuration.
type Config struct {
	Component ComponentConfig `json:"component"`
	NATS      NATSConfig      `json:"nats"`
	Dispatch  DispatchConfig  `json:"dispatch,omitempty"`
	Server    ServerConfig    `json:"server,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Validate checks the configuration for problems that would only surface
// later as confusing runtime failures.
func (c *Config) Validate() error {
	if c.Component.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"component.name is required")
	}
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"nats.url is required")
	}
	if c.Dispatch.DefaultTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"dispatch.default_timeout cannot be negative")
	}
	if c.Server.Workers < 0 || c.Server.QueueSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"server.workers and server.queue_size cannot be negative")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
	}
	if c.NATS.TLS.Enabled && (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"nats.tls cert_file and key_file must be set together")
	}
	return nil
}

// Loader builds a Config from defaults, layered JSON files, and environment
// overrides. A field present in a later layer overrides earlier layers, even
// when set to its zero value; absent fields keep their current value.
type Loader struct {
	layers    []string
	envPrefix string
}

// NewLoader creates a loader with the default "SVK" env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "SVK"}
}

// AddLayer appends a JSON config file. Missing optional layers should not be
// added; Load fails on unreadable paths.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// Load merges defaults, file layers, and env overrides, then validates.
func (l *Loader) Load() (*Config, error) {
	cfg := defaults()

	for _, path := range l.layers {
		if err := l.applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:              "nats://localhost:4222",
			ConnectTimeout:   Duration(5 * time.Second),
			MaxReconnects:    -1,
			CircuitThreshold: 5,
		},
		Dispatch: DispatchConfig{
			DefaultTimeout: Duration(30 * time.Second),
		},
		Server: ServerConfig{
			Workers:     10,
			QueueSize:   1000,
			StopTimeout: Duration(30 * time.Second),
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
	}
}

// applyFile overlays one JSON layer onto cfg. Decoding into the accumulated
// config touches only the fields the document names, so a layer can set a
// field to its zero value, such as max_reconnects 0 over the -1 default.
func (l *Loader) applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "applyFile", "read "+path)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return errors.WrapInvalid(errors.ErrParsingFailed, "Loader", "applyFile",
			"parse "+path+": "+err.Error())
	}
	return nil
}

func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_COMPONENT_NAME"); val != "" {
		cfg.Component.Name = val
	}
	if val := os.Getenv(l.envPrefix + "_ENVIRONMENT"); val != "" {
		cfg.Component.Environment = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(l.envPrefix + "_SCHEMA_DIR"); val != "" {
		cfg.Dispatch.SchemaDir = val
	}
	if val := os.Getenv(l.envPrefix + "_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = port
			cfg.Metrics.Enabled = true
		}
	}
}
