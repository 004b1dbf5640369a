package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/c360/resilkit/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RESILKIT"

// Loader handles configuration loading with layers and overrides.
//
// Load starts from Default, applies each file layer in order (a layer only
// overrides the fields it sets), loads the dotenv files, applies RESILKIT_*
// environment overrides and finally validates.
type Loader struct {
	layers     []string
	dotenv     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer (.json, .yaml or .yml).
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// AddDotEnv loads path with godotenv before environment overrides are read.
// Missing files are skipped; variables already set in the process win.
func (l *Loader) AddDotEnv(path string) {
	l.dotenv = append(l.dotenv, path)
}

// EnableValidation enables or disables configuration validation.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.applyLayer(cfg, path); err != nil {
			return nil, err
		}
	}

	for _, path := range l.dotenv {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("load dotenv %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// applyLayer decodes a file on top of cfg. Fields absent from the file keep
// their current values.
func (l *Loader) applyLayer(cfg *Config, path string) error {
	data, err := safeReadFile(path)
	if err != nil {
		return errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("read %s", path))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		if err = validateJSONDepth(data); err == nil {
			err = json.Unmarshal(data, cfg)
		}
	}
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "config", "Load", fmt.Sprintf("decode %s", path))
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strVars := map[string]*string{
		"FEED_URL":       &cfg.Feed.URL,
		"FEED_TRANSPORT": &cfg.Feed.Transport,
		"FEED_SUBJECT":   &cfg.Feed.Subject,
		"STATE_REPLICA":  &cfg.State.Replica,
		"SERVER_ADDR":    &cfg.Server.Addr,
		"LOG_LEVEL":      &cfg.Log.Level,
		"LOG_FORMAT":     &cfg.Log.Format,
	}
	for name, dst := range strVars {
		if val, ok := l.env(name); ok {
			if err := checkEnvValue(l.envPrefix+"_"+name, val); err != nil {
				return errors.WrapInvalid(err, "config", "applyEnvOverrides", "check "+name)
			}
			*dst = val
		}
	}

	if val, ok := l.env("FEED_MAX_RECONNECT_ATTEMPTS"); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return l.envError("FEED_MAX_RECONNECT_ATTEMPTS", err)
		}
		cfg.Feed.MaxReconnectAttempts = n
	}
	if val, ok := l.env("FEED_BASE_DELAY"); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return l.envError("FEED_BASE_DELAY", err)
		}
		cfg.Feed.BaseDelay = Duration(d)
	}
	if val, ok := l.env("FEED_MAX_DELAY"); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return l.envError("FEED_MAX_DELAY", err)
		}
		cfg.Feed.MaxDelay = Duration(d)
	}

	floats := map[string]*float64{
		"FEED_MULTIPLIER":     &cfg.Feed.Multiplier,
		"LIMITER_CAPACITY":    &cfg.Limiter.Capacity,
		"LIMITER_REFILL_RATE": &cfg.Limiter.RefillRate,
	}
	for name, dst := range floats {
		if val, ok := l.env(name); ok {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return l.envError(name, err)
			}
			*dst = f
		}
	}
	return nil
}

func (l *Loader) env(name string) (string, bool) {
	val, ok := l.lookupEnv(l.envPrefix + "_" + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (l *Loader) envError(name string, err error) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s_%s: %v", errors.ErrInvalidConfig, l.envPrefix, name, err),
		"config", "applyEnvOverrides", "parse "+name)
}

// SaveToFile writes the configuration as JSON or YAML depending on the
// extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.WrapInvalid(err, "config", "SaveToFile", "encode config")
	}
	return safeWriteFile(path, data)
}
