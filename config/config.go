package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/c360/resilkit/channel"
	"github.com/c360/resilkit/errors"
)

// Transports accepted in FeedConfig.Transport
const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
)

// Config is the daemon configuration.
type Config struct {
	Feed    FeedConfig    `json:"feed" yaml:"feed"`
	Limiter LimiterConfig `json:"limiter" yaml:"limiter"`
	Filter  FilterConfig  `json:"filter" yaml:"filter"`
	State   StateConfig   `json:"state" yaml:"state"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

// FeedConfig configures the reconnecting feed.
type FeedConfig struct {
	URL                  string            `json:"url" yaml:"url"`
	Transport            string            `json:"transport" yaml:"transport"`
	Subject              string            `json:"subject,omitempty" yaml:"subject,omitempty"`
	Query                map[string]string `json:"query,omitempty" yaml:"query,omitempty"`
	MaxReconnectAttempts int               `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	BaseDelay            Duration          `json:"base_delay" yaml:"base_delay"`
	Multiplier           float64           `json:"multiplier" yaml:"multiplier"`
	MaxDelay             Duration          `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	DialTimeout          Duration          `json:"dial_timeout" yaml:"dial_timeout"`
}

// LimiterConfig sizes the token bucket that gates inbound messages.
type LimiterConfig struct {
	Capacity   float64 `json:"capacity" yaml:"capacity"`
	RefillRate float64 `json:"refill_rate" yaml:"refill_rate"`
}

// FilterConfig sizes the membership filter over known state keys.
type FilterConfig struct {
	ExpectedItems     int     `json:"expected_items" yaml:"expected_items"`
	FalsePositiveRate float64 `json:"false_positive_rate" yaml:"false_positive_rate"`
}

// StateConfig configures the replicated state map.
type StateConfig struct {
	Replica          string `json:"replica,omitempty" yaml:"replica,omitempty"`
	CompressSnapshot bool   `json:"compress_snapshot" yaml:"compress_snapshot"`
}

// ServerConfig configures the HTTP endpoint for metrics, health and state.
type ServerConfig struct {
	Addr        string `json:"addr" yaml:"addr"`
	MetricsPath string `json:"metrics_path" yaml:"metrics_path"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration used before any file or environment
// layer is applied.
func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			Transport:            TransportWebSocket,
			MaxReconnectAttempts: channel.DefaultMaxReconnectAttempts,
			BaseDelay:            Duration(channel.DefaultBaseDelay),
			Multiplier:           channel.DefaultMultiplier,
			DialTimeout:          Duration(channel.DefaultDialTimeout),
		},
		Limiter: LimiterConfig{Capacity: 100, RefillRate: 50},
		Filter:  FilterConfig{ExpectedItems: 10000, FalsePositiveRate: 0.01},
		Server:  ServerConfig{Addr: ":9090", MetricsPath: "/metrics"},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	switch c.Feed.Transport {
	case TransportWebSocket:
	case TransportNATS:
		if c.Feed.Subject == "" && c.Feed.Query["subject"] == "" {
			return invalid("Validate", "feed.subject is required for the nats transport")
		}
	default:
		return invalid("Validate", fmt.Sprintf("unknown feed.transport %q", c.Feed.Transport))
	}

	feed := c.ChannelConfig()
	if err := feed.Validate(); err != nil {
		return err
	}

	if !(c.Limiter.Capacity > 0) || !(c.Limiter.RefillRate > 0) {
		return invalid("Validate", "limiter.capacity and limiter.refill_rate must be positive")
	}
	if c.Filter.ExpectedItems <= 0 {
		return invalid("Validate", "filter.expected_items must be positive")
	}
	if !(c.Filter.FalsePositiveRate > 0 && c.Filter.FalsePositiveRate < 1) {
		return invalid("Validate", "filter.false_positive_rate must be in (0,1)")
	}
	if c.Server.Addr == "" {
		return invalid("Validate", "server.addr is required")
	}
	if !strings.HasPrefix(c.Server.MetricsPath, "/") {
		return invalid("Validate", "server.metrics_path must start with /")
	}
	return nil
}

func invalid(method, msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "config", method, "validate")
}

// ChannelConfig maps the feed section onto a channel.Config.
func (c *Config) ChannelConfig() channel.Config {
	return channel.Config{
		URL:                  c.Feed.URL,
		Query:                c.Feed.Query,
		MaxReconnectAttempts: c.Feed.MaxReconnectAttempts,
		BaseDelay:            time.Duration(c.Feed.BaseDelay),
		Multiplier:           c.Feed.Multiplier,
		MaxDelay:             time.Duration(c.Feed.MaxDelay),
		DialTimeout:          time.Duration(c.Feed.DialTimeout),
	}
}

// String renders the configuration as indented JSON.
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

// Duration is a time.Duration that reads "1.5s" style strings from JSON and
// YAML. Plain JSON numbers are taken as nanoseconds.
type Duration time.Duration

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
