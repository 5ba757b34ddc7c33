// Package config loads the goaltrack process configuration file.
//
// Every field is optional. Get* accessors return the built-in default for
// any field the file leaves out, so a partial file is always safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/goaltrack/internal/calibration"
	"github.com/banshee-data/goaltrack/internal/serialmux"
	"github.com/banshee-data/goaltrack/internal/vision"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/goaltrack.defaults.json"

// Feed names.
const (
	FeedSerial   = "serial"
	FeedUDP      = "udp"
	FeedDisabled = "disabled"
)

// GoaltrackConfig is the root of the configuration file.
type GoaltrackConfig struct {
	// Tracking. Durations are strings like "500ms".
	Profile              *string `json:"profile,omitempty" yaml:"profile,omitempty"`
	Strategy             *string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	WaitForNewData       *bool   `json:"wait_for_new_data,omitempty" yaml:"wait_for_new_data,omitempty"`
	CatchUpDelay         *string `json:"catch_up_delay,omitempty" yaml:"catch_up_delay,omitempty"`
	ListenerPollInterval *string `json:"listener_poll_interval,omitempty" yaml:"listener_poll_interval,omitempty"`
	MaxRetry             *int    `json:"max_retry,omitempty" yaml:"max_retry,omitempty"`
	ControlPeriod        *string `json:"control_period,omitempty" yaml:"control_period,omitempty"`

	// Feed
	Feed       *string                `json:"feed,omitempty" yaml:"feed,omitempty"`
	SerialPort *string                `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	Serial     *serialmux.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty"`
	UDPAddress *string                `json:"udp_address,omitempty" yaml:"udp_address,omitempty"`
	UDPRcvBuf  *int                   `json:"udp_rcvbuf,omitempty" yaml:"udp_rcvbuf,omitempty"`

	// Diagnostics
	DebugListen *string `json:"debug_listen,omitempty" yaml:"debug_listen,omitempty"`
	GRPCListen  *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
	StaleAfter  *string `json:"stale_after,omitempty" yaml:"stale_after,omitempty"`
	HistorySize *int    `json:"history_size,omitempty" yaml:"history_size,omitempty"`
	Verbose     *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

// EmptyConfig returns a config with every field unset.
func EmptyConfig() *GoaltrackConfig {
	return &GoaltrackConfig{}
}

// LoadConfig loads a config from a JSON or YAML file, chosen by extension.
// The file must be under 1MB.
func LoadConfig(path string) (*GoaltrackConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *GoaltrackConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from cmd/* and internal/*
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *GoaltrackConfig) Validate() error {
	if c.Profile != nil {
		if _, err := calibration.ParseName(*c.Profile); err != nil {
			return err
		}
	}
	if c.Strategy != nil {
		if _, err := vision.ParseStrategy(*c.Strategy); err != nil {
			return err
		}
	}

	durations := []struct {
		name  string
		value *string
	}{
		{"catch_up_delay", c.CatchUpDelay},
		{"listener_poll_interval", c.ListenerPollInterval},
		{"control_period", c.ControlPeriod},
		{"stale_after", c.StaleAfter},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.value)
		}
	}

	if c.MaxRetry != nil && *c.MaxRetry < 1 {
		return fmt.Errorf("max_retry must be at least 1, got %d", *c.MaxRetry)
	}
	if c.HistorySize != nil && *c.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1, got %d", *c.HistorySize)
	}
	if c.UDPRcvBuf != nil && *c.UDPRcvBuf < 0 {
		return fmt.Errorf("udp_rcvbuf must be non-negative, got %d", *c.UDPRcvBuf)
	}

	if c.Feed != nil {
		switch strings.ToLower(*c.Feed) {
		case FeedSerial, FeedUDP, FeedDisabled:
		default:
			return fmt.Errorf("unknown feed %q: expected serial, udp or disabled", *c.Feed)
		}
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("invalid serial options: %w", err)
		}
	}
	return nil
}

func durationOr(value *string, def time.Duration) time.Duration {
	if value == nil || *value == "" {
		return def
	}
	d, err := time.ParseDuration(*value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetProfile returns the calibration profile name or the default.
func (c *GoaltrackConfig) GetProfile() calibration.Name {
	if c.Profile == nil {
		return calibration.DefaultProfile
	}
	name, err := calibration.ParseName(*c.Profile)
	if err != nil {
		return calibration.DefaultProfile
	}
	return name
}

// GetStrategy returns the acquisition strategy or the default (poll).
func (c *GoaltrackConfig) GetStrategy() vision.Strategy {
	if c.Strategy == nil {
		return vision.StrategyPoll
	}
	s, err := vision.ParseStrategy(*c.Strategy)
	if err != nil {
		return vision.StrategyPoll
	}
	return s
}

// GetWaitForNewData returns the wait_for_new_data value or the default.
func (c *GoaltrackConfig) GetWaitForNewData() bool {
	if c.WaitForNewData == nil {
		return true
	}
	return *c.WaitForNewData
}

// GetCatchUpDelay returns the catch-up delay or the default.
func (c *GoaltrackConfig) GetCatchUpDelay() time.Duration {
	return durationOr(c.CatchUpDelay, vision.DefaultCatchUpDelay)
}

// GetListenerPollInterval returns the listener poll interval or the default.
func (c *GoaltrackConfig) GetListenerPollInterval() time.Duration {
	return durationOr(c.ListenerPollInterval, vision.DefaultListenerPollInterval)
}

// GetMaxRetry returns the max_retry value or the default.
func (c *GoaltrackConfig) GetMaxRetry() int {
	if c.MaxRetry == nil {
		return vision.MaxRetry
	}
	return *c.MaxRetry
}

// GetControlPeriod returns the control loop period or the default.
func (c *GoaltrackConfig) GetControlPeriod() time.Duration {
	return durationOr(c.ControlPeriod, 20*time.Millisecond)
}

// GetFeed returns the feed name or the default.
func (c *GoaltrackConfig) GetFeed() string {
	if c.Feed == nil {
		return FeedUDP
	}
	return strings.ToLower(*c.Feed)
}

// GetSerialPort returns the serial device path or the default.
func (c *GoaltrackConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

// GetSerialOptions returns the serial options or the defaults.
func (c *GoaltrackConfig) GetSerialOptions() serialmux.PortOptions {
	if c.Serial == nil {
		return serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate}
	}
	return *c.Serial
}

// GetUDPAddress returns the UDP listen address or the default.
func (c *GoaltrackConfig) GetUDPAddress() string {
	if c.UDPAddress == nil {
		return ":5800"
	}
	return *c.UDPAddress
}

// GetUDPRcvBuf returns the UDP receive buffer size or the default.
func (c *GoaltrackConfig) GetUDPRcvBuf() int {
	if c.UDPRcvBuf == nil {
		return 1 << 20
	}
	return *c.UDPRcvBuf
}

// GetDebugListen returns the debug HTTP listen address or the default.
func (c *GoaltrackConfig) GetDebugListen() string {
	if c.DebugListen == nil {
		return "localhost:5801"
	}
	return *c.DebugListen
}

// GetGRPCListen returns the gRPC health listen address or the default.
func (c *GoaltrackConfig) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return "localhost:5802"
	}
	return *c.GRPCListen
}

// GetStaleAfter returns the feed staleness threshold or the default.
func (c *GoaltrackConfig) GetStaleAfter() time.Duration {
	return durationOr(c.StaleAfter, 2*time.Second)
}

// GetHistorySize returns the estimate history length or the default.
func (c *GoaltrackConfig) GetHistorySize() int {
	if c.HistorySize == nil {
		return 500
	}
	return *c.HistorySize
}

// GetVerbose returns the verbose value or the default.
func (c *GoaltrackConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}
