package channel

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resilkit/errors"
)

func TestConfig_ValidateFillsDefaults(t *testing.T) {
	cfg := Config{URL: "ws://localhost:8080/feed", MaxReconnectAttempts: 3}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultBaseDelay, cfg.BaseDelay)
	assert.Equal(t, DefaultMultiplier, cfg.Multiplier)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, 8*time.Second, cfg.MaxDelay, "base * multiplier^attempts")
}

func TestConfig_ValidateUnlimitedAttemptsStillCapped(t *testing.T) {
	cfg := Config{URL: "ws://localhost/feed", BaseDelay: 500 * time.Millisecond, Multiplier: 3}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.MaxReconnectAttempts)
	assert.Equal(t, time.Duration(float64(500*time.Millisecond)*243), cfg.MaxDelay)
}

func TestConfig_ValidateSaturatesHugeCap(t *testing.T) {
	cfg := Config{URL: "ws://localhost/feed", MaxReconnectAttempts: 200}
	require.NoError(t, cfg.Validate())
	assert.Greater(t, cfg.MaxDelay, time.Duration(0))
}

func TestConfig_ValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"missing url", Config{}, errors.ErrMissingConfig},
		{"bad url", Config{URL: "://nope"}, errors.ErrInvalidConfig},
		{"negative attempts", Config{URL: "ws://x", MaxReconnectAttempts: -1}, errors.ErrInvalidConfig},
		{"negative delay", Config{URL: "ws://x", BaseDelay: -time.Second}, errors.ErrInvalidConfig},
		{"shrinking multiplier", Config{URL: "ws://x", Multiplier: 0.9}, errors.ErrInvalidConfig},
		{"cap below base", Config{URL: "ws://x", BaseDelay: time.Minute, MaxDelay: time.Second}, errors.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_Endpoint(t *testing.T) {
	cfg := Config{
		URL:   "wss://feeds.example.com/events?format=json&topic=old",
		Query: map[string]string{"topic": "docket-42", "court": "cand"},
	}
	endpoint, err := cfg.Endpoint()
	require.NoError(t, err)

	u, err := url.Parse(endpoint)
	require.NoError(t, err)
	assert.Equal(t, "feeds.example.com", u.Host)
	assert.Equal(t, "/events", u.Path)
	assert.Equal(t, url.Values{
		"format": {"json"},
		"topic":  {"docket-42"},
		"court":  {"cand"},
	}, u.Query())
}

func TestConfig_EndpointWithoutQuery(t *testing.T) {
	cfg := Config{URL: "nats://localhost:4222?subject=feeds.dockets"}
	endpoint, err := cfg.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222?subject=feeds.dockets", endpoint)
}
