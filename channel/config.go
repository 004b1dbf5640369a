package channel

import (
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/c360/resilkit/errors"
	"github.com/c360/resilkit/pkg/retry"
)

// Defaults applied by DefaultConfig and, for zero durations, by Validate.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultBaseDelay            = time.Second
	DefaultMultiplier           = 2.0
	DefaultDialTimeout          = 10 * time.Second
)

// Config describes the endpoint and the reconnect policy of a Channel.
type Config struct {
	// URL of the feed endpoint (ws://, wss://, nats://).
	URL string

	// Query parameters appended to URL to scope the feed, for example
	// {"topic": "docket-42"}. Existing parameters with the same name are
	// replaced.
	Query map[string]string

	// MaxReconnectAttempts bounds consecutive failed reconnects before the
	// channel gives up and reports a terminal error. 0 means retry forever.
	MaxReconnectAttempts int

	// BaseDelay is the wait after the first failure.
	BaseDelay time.Duration

	// Multiplier grows the delay after each further failure. Must be >= 1.
	Multiplier float64

	// MaxDelay caps any single delay. Zero derives the cap as
	// BaseDelay * Multiplier^MaxReconnectAttempts.
	MaxDelay time.Duration

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration
}

// DefaultConfig returns the default reconnect policy for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		BaseDelay:            DefaultBaseDelay,
		Multiplier:           DefaultMultiplier,
		DialTimeout:          DefaultDialTimeout,
	}
}

// Validate checks the configuration and fills zero values with defaults.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: url is required", errors.ErrMissingConfig), "channel", "Validate", "check url")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "channel", "Validate", "parse url")
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max reconnect attempts cannot be negative", errors.ErrInvalidConfig),
			"channel", "Validate", "check attempts")
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 || c.DialTimeout < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: delays cannot be negative", errors.ErrInvalidConfig),
			"channel", "Validate", "check delays")
	}
	if c.Multiplier != 0 && (c.Multiplier < 1 || math.IsInf(c.Multiplier, 0) || math.IsNaN(c.Multiplier)) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: multiplier must be >= 1, got %v", errors.ErrInvalidConfig, c.Multiplier),
			"channel", "Validate", "check multiplier")
	}

	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = DefaultMultiplier
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = derivedMaxDelay(c.BaseDelay, c.Multiplier, c.MaxReconnectAttempts)
	}
	if c.MaxDelay < c.BaseDelay {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max delay %v is below base delay %v", errors.ErrInvalidConfig, c.MaxDelay, c.BaseDelay),
			"channel", "Validate", "check delays")
	}
	return nil
}

// derivedMaxDelay returns base * multiplier^attempts, saturating at
// math.MaxInt64. Unlimited attempts use the default attempt count.
func derivedMaxDelay(base time.Duration, multiplier float64, attempts int) time.Duration {
	if attempts <= 0 {
		attempts = DefaultMaxReconnectAttempts
	}
	d := float64(base) * math.Pow(multiplier, float64(attempts))
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Endpoint returns URL with Query merged in.
func (c Config) Endpoint() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", errors.WrapInvalid(err, "channel", "Endpoint", "parse url")
	}
	if len(c.Query) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, v := range c.Query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// backoffConfig maps the reconnect policy onto a retry.Backoff.
func (c Config) backoffConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  c.MaxReconnectAttempts,
		InitialDelay: c.BaseDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
	}
}
