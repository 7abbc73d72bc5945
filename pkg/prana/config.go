// Package prana exposes the device session surface: configuration,
// the state synchronizer and the read-only device state consumers see.
package prana

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"

	"github.com/srg/pranactl/internal/protocol"
)

// ConfigError reports an invalid session configuration value.
type ConfigError struct {
	Field string
	Msg   string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Msg)
}

// SessionConfig holds the per-session tunables supplied by the caller.
// It is immutable for the session's lifetime unless explicitly updated
// through Session.UpdateConfig, which resets the poll timer only.
type SessionConfig struct {
	// MaxSpeed caps the fan level accepted from callers. The device
	// itself goes to 10, but most installations never run above 5.
	MaxSpeed int `yaml:"max_speed" default:"5"`
	// UpdateInterval is the telemetry poll period.
	UpdateInterval time.Duration `yaml:"update_interval" default:"30s"`
	// TableVersion selects the firmware protocol table.
	TableVersion string `yaml:"table_version" default:"v1"`
}

// DefaultSessionConfig returns the configuration used when the caller
// supplies nothing.
func DefaultSessionConfig() *SessionConfig {
	cfg := &SessionConfig{}
	defaults.SetDefaults(cfg)
	return cfg
}

// LoadSessionConfig reads a yaml config file over the defaults.
func LoadSessionConfig(path string) (*SessionConfig, error) {
	cfg := DefaultSessionConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UnmarshalYAML decodes the config, accepting durations in the usual
// "30s" / "1m" notation. Keys absent from the document keep whatever
// value the receiver already has, so defaults survive partial files.
func (c *SessionConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		MaxSpeed       *int    `yaml:"max_speed"`
		UpdateInterval *string `yaml:"update_interval"`
		TableVersion   *string `yaml:"table_version"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	if r.MaxSpeed != nil {
		c.MaxSpeed = *r.MaxSpeed
	}
	if r.UpdateInterval != nil {
		d, err := time.ParseDuration(*r.UpdateInterval)
		if err != nil {
			return fmt.Errorf("invalid update_interval %q: %w", *r.UpdateInterval, err)
		}
		c.UpdateInterval = d
	}
	if r.TableVersion != nil {
		c.TableVersion = *r.TableVersion
	}
	return nil
}

// minUpdateInterval floors the poll period so a misconfigured interval
// cannot hammer the radio. Variable so tests can run fast cadences.
var minUpdateInterval = time.Second

// Validate checks the configuration against device limits.
func (c *SessionConfig) Validate() error {
	if c.MaxSpeed < 1 || c.MaxSpeed > protocol.DeviceMaxSpeed {
		return &ConfigError{
			Field: "max_speed",
			Msg:   fmt.Sprintf("%d outside 1..%d", c.MaxSpeed, protocol.DeviceMaxSpeed),
		}
	}
	if c.UpdateInterval < minUpdateInterval {
		return &ConfigError{
			Field: "update_interval",
			Msg:   fmt.Sprintf("%s below the %s minimum", c.UpdateInterval, minUpdateInterval),
		}
	}
	if _, err := protocol.LookupTable(c.TableVersion); err != nil {
		return &ConfigError{Field: "table_version", Msg: err.Error()}
	}
	return nil
}

// CommandTimeout is how long an unconfirmed command stays pending
// before it is surfaced as timed out: two poll cycles, so one missed
// poll does not fail a command that the next snapshot would confirm.
func (c *SessionConfig) CommandTimeout() time.Duration {
	return 2 * c.UpdateInterval
}

// StaleAfter is the age past which the last snapshot is no longer
// presented as current.
func (c *SessionConfig) StaleAfter() time.Duration {
	return 2 * c.UpdateInterval
}

// clone returns an independent copy.
func (c *SessionConfig) clone() *SessionConfig {
	out := *c
	return &out
}
