// Package config loads suite settings from a YAML file and MEETSUITE_*
// environment variables. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thesyncim/meetsuite/pkg/driver"
	"github.com/thesyncim/meetsuite/pkg/logging"
)

// EnvConfigFile names the YAML file loaded by FromEnv.
const EnvConfigFile = "MEETSUITE_CONFIG"

// Config is the suite configuration.
type Config struct {
	// BaseURL is the conference server, e.g. https://meet.example.com.
	// Empty makes end-to-end tests start an in-process fixture.
	BaseURL string `yaml:"base_url"`

	Backend       string        `yaml:"backend"`
	Headless      bool          `yaml:"headless"`
	Timeout       time.Duration `yaml:"timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	FakeAudioFile string        `yaml:"fake_audio_file"`
	ChromeBinary  string        `yaml:"chrome_binary"`
	ArtifactsDir  string        `yaml:"artifacts_dir"`

	MaxParticipants int `yaml:"max_participants"`

	Log       LogConfig       `yaml:"log"`
	LongLived LongLivedConfig `yaml:"long_lived"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LongLivedConfig schedules the long-lived heartbeat.
type LongLivedConfig struct {
	Duration   time.Duration `yaml:"duration"`
	Interval   time.Duration `yaml:"interval"`
	StartDelay time.Duration `yaml:"start_delay"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Backend:         driver.BackendRod,
		Headless:        true,
		Timeout:         10 * time.Second,
		PollInterval:    500 * time.Millisecond,
		ArtifactsDir:    "artifacts",
		MaxParticipants: 10,
		Log: LogConfig{
			Level:  logging.LevelInfo,
			Format: logging.FormatConsole,
		},
		LongLived: LongLivedConfig{
			Duration:   10 * time.Minute,
			Interval:   5 * time.Second,
			StartDelay: 5 * time.Second,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// FromEnv loads the file named by MEETSUITE_CONFIG, if any, then the
// environment overrides.
func FromEnv() (Config, error) {
	return Load(os.Getenv(EnvConfigFile))
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("MEETSUITE_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("MEETSUITE_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("MEETSUITE_FAKE_AUDIO_FILE"); v != "" {
		cfg.FakeAudioFile = v
	}
	if v := os.Getenv("MEETSUITE_CHROME_BINARY"); v != "" {
		cfg.ChromeBinary = v
	}
	if v := os.Getenv("MEETSUITE_ARTIFACTS_DIR"); v != "" {
		cfg.ArtifactsDir = v
	}
	if v := os.Getenv("MEETSUITE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MEETSUITE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	var errs []error
	if v, ok, err := envBool("MEETSUITE_HEADLESS"); err != nil {
		errs = append(errs, err)
	} else if ok {
		cfg.Headless = v
	}
	if v, ok, err := envInt("MEETSUITE_MAX_PARTICIPANTS"); err != nil {
		errs = append(errs, err)
	} else if ok {
		cfg.MaxParticipants = v
	}
	for key, dst := range map[string]*time.Duration{
		"MEETSUITE_TIMEOUT":                &cfg.Timeout,
		"MEETSUITE_POLL_INTERVAL":          &cfg.PollInterval,
		"MEETSUITE_LONG_LIVED_DURATION":    &cfg.LongLived.Duration,
		"MEETSUITE_LONG_LIVED_INTERVAL":    &cfg.LongLived.Interval,
		"MEETSUITE_LONG_LIVED_START_DELAY": &cfg.LongLived.StartDelay,
	} {
		if v, ok, err := envDuration(key); err != nil {
			errs = append(errs, err)
		} else if ok {
			*dst = v
		}
	}
	return errors.Join(errs...)
}

func envBool(key string) (bool, bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return false, false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

func envInt(key string) (int, bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

func envDuration(key string) (time.Duration, bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("base_url %q must be an absolute http(s) URL", c.BaseURL))
		}
	}
	if _, err := driver.Launcher(c.Backend); err != nil {
		errs = append(errs, err)
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.PollInterval > c.Timeout {
		errs = append(errs, fmt.Errorf("poll_interval %v exceeds timeout %v", c.PollInterval, c.Timeout))
	}
	if c.MaxParticipants < 1 {
		errs = append(errs, errors.New("max_participants must be at least 1"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logging.FormatJSON, logging.FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Log.Format))
	}
	if c.LongLived.Duration <= 0 || c.LongLived.Interval <= 0 || c.LongLived.StartDelay < 0 {
		errs = append(errs, errors.New("long_lived durations must be positive"))
	}
	return errors.Join(errs...)
}

// BrowserOptions derives the launch options for one participant browser.
func (c Config) BrowserOptions() driver.Options {
	opts := driver.DefaultOptions()
	opts.Headless = c.Headless
	opts.FakeAudioFile = c.FakeAudioFile
	opts.Bin = c.ChromeBinary
	return opts
}
