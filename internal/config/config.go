package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sdpower/clauditor-go/internal/types"
)

type Config struct {
	General GeneralConfig `toml:"general"`
	Engine  EngineConfig  `toml:"engine"`
	Watch   WatchConfig   `toml:"watch"`
	Pricing PricingConfig `toml:"pricing"`
	Output  OutputConfig  `toml:"output"`
	Metrics MetricsConfig `toml:"metrics"`
}

type GeneralConfig struct {
	Roots       []string `toml:"roots"`
	WindowHours int      `toml:"window_hours"`
	Timezone    string   `toml:"timezone"`
	LogLevel    string   `toml:"log_level"`
	LogFormat   string   `toml:"log_format"`
}

type EngineConfig struct {
	MaxFileAgeHours   int `toml:"max_file_age_hours"`
	RetentionHours    int `toml:"retention_hours"`
	FutureSkewMinutes int `toml:"future_skew_minutes"`
	ReadRetries       int `toml:"read_retries"`
}

type WatchConfig struct {
	IntervalSeconds int  `toml:"interval_seconds"`
	DebounceMillis  int  `toml:"debounce_ms"`
	Notify          bool `toml:"notify"`
}

type PricingConfig struct {
	FetchRemote bool   `toml:"fetch_remote"`
	URL         string `toml:"url"`
}

type OutputConfig struct {
	TokenLimit int `toml:"token_limit"`
}

type MetricsConfig struct {
	Listen string `toml:"listen"`
}

func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			WindowHours: 5,
			Timezone:    "Local",
			LogLevel:    "info",
			LogFormat:   "text",
		},
		Engine: EngineConfig{
			MaxFileAgeHours:   10,
			RetentionHours:    10,
			FutureSkewMinutes: 10,
			ReadRetries:       3,
		},
		Watch: WatchConfig{
			IntervalSeconds: 5,
			DebounceMillis:  200,
			Notify:          true,
		},
	}
}

func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "clauditor", "config.toml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // use defaults
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func Save(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Validate checks value ranges. Errors wrap types.ErrInvalidConfig.
func (c Config) Validate() error {
	if c.General.WindowHours <= 0 || c.General.WindowHours > 24 {
		return types.ValidationError{Field: "general.window_hours", Message: "must be between 1 and 24"}
	}
	if _, err := c.Location(); err != nil {
		return types.ValidationError{Field: "general.timezone", Message: err.Error()}
	}
	if c.Engine.MaxFileAgeHours < 0 {
		return types.ValidationError{Field: "engine.max_file_age_hours", Message: "must not be negative"}
	}
	if c.Engine.RetentionHours < 0 {
		return types.ValidationError{Field: "engine.retention_hours", Message: "must not be negative"}
	}
	if c.Engine.FutureSkewMinutes < 0 {
		return types.ValidationError{Field: "engine.future_skew_minutes", Message: "must not be negative"}
	}
	if c.Engine.ReadRetries < 0 || c.Engine.ReadRetries > 10 {
		return types.ValidationError{Field: "engine.read_retries", Message: "must be between 0 and 10"}
	}
	if c.Watch.IntervalSeconds <= 0 {
		return types.ValidationError{Field: "watch.interval_seconds", Message: "must be positive"}
	}
	if c.Watch.DebounceMillis < 0 || c.Watch.DebounceMillis > 5000 {
		return types.ValidationError{Field: "watch.debounce_ms", Message: "must be between 0 and 5000"}
	}
	if c.Output.TokenLimit < 0 {
		return types.ValidationError{Field: "output.token_limit", Message: "must not be negative"}
	}
	return nil
}

// Location resolves the display timezone.
func (c Config) Location() (*time.Location, error) {
	switch c.General.Timezone {
	case "", "Local", "local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.General.Timezone)
	}
}

func (c Config) WindowDuration() time.Duration {
	return time.Duration(c.General.WindowHours) * time.Hour
}

func (c Config) MaxFileAge() time.Duration {
	return time.Duration(c.Engine.MaxFileAgeHours) * time.Hour
}

func (c Config) Retention() time.Duration {
	return time.Duration(c.Engine.RetentionHours) * time.Hour
}

func (c Config) FutureSkew() time.Duration {
	return time.Duration(c.Engine.FutureSkewMinutes) * time.Minute
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.Watch.IntervalSeconds) * time.Second
}

func (c Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMillis) * time.Millisecond
}
