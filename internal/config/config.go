// Package config provides configuration for the server.
//
// Sources are applied in order, later ones winning: defaults, YAML file,
// MEMKEYS_* environment variables, command line flags.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mnorrsken/memkeys/internal/logging"
)

// Config holds the server configuration
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Expiry  ExpiryConfig  `koanf:"expiry"`
	PubSub  PubSubConfig  `koanf:"pubsub"`
}

// ServerConfig configures the RESP listener.
type ServerConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	// Trace logs every command and reply at trace level.
	Trace bool `koanf:"trace"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr    string `koanf:"addr"`
	Enabled bool   `koanf:"enabled"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// ExpiryConfig tunes the active expiry sweeper.
type ExpiryConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
	SweepSamples  int           `koanf:"sweep_samples"`
}

// PubSubConfig configures the optional PostgreSQL relay.
type PubSubConfig struct {
	// RelayDSN enables cross-instance PUBLISH through LISTEN/NOTIFY.
	RelayDSN string `koanf:"relay_dsn"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":6379"},
		Metrics: MetricsConfig{Addr: ":9121", Enabled: true},
		Log:     LogConfig{Level: "info"},
		Expiry:  ExpiryConfig{SweepInterval: 100 * time.Millisecond, SweepSamples: 20},
	}
}

func defaultMap() map[string]any {
	d := Default()
	return map[string]any{
		"server.addr":           d.Server.Addr,
		"server.password":       d.Server.Password,
		"server.trace":          d.Server.Trace,
		"metrics.addr":          d.Metrics.Addr,
		"metrics.enabled":       d.Metrics.Enabled,
		"log.level":             d.Log.Level,
		"log.json":              d.Log.JSON,
		"expiry.sweep_interval": d.Expiry.SweepInterval.String(),
		"expiry.sweep_samples":  d.Expiry.SweepSamples,
		"pubsub.relay_dsn":      d.PubSub.RelayDSN,
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr must not be empty when metrics are enabled"))
	}
	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is not a known level", c.Log.Level))
	}
	if c.Expiry.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("expiry.sweep_interval must be positive, got %s", c.Expiry.SweepInterval))
	}
	if c.Expiry.SweepSamples <= 0 {
		errs = append(errs, fmt.Errorf("expiry.sweep_samples must be positive, got %d", c.Expiry.SweepSamples))
	}
	return errors.Join(errs...)
}
