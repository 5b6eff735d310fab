package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Dashboard       DashboardConfig `yaml:"dashboard"`
	Database        DatabaseConfig  `yaml:"database"`
	Log             LogConfig       `yaml:"log"`
	Locale          LocaleConfig    `yaml:"locale"`
	Viewport        ViewportConfig  `yaml:"viewport"`
	API             APIConfig       `yaml:"api"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	EventBus        EventBusConfig  `yaml:"eventbus"`
	Script          string          `yaml:"script"`                           // Lua hooks, empty = none
	ShutdownTimeout Duration        `yaml:"shutdown_timeout" validate:"gt=0"` // General shutdown timeout for graceful stops
}

// DashboardConfig points at the dashboard definition
type DashboardConfig struct {
	Path     string   `yaml:"path" validate:"required"`
	Watch    bool     `yaml:"watch"`    // Reload the dashboard when the file changes
	Debounce Duration `yaml:"debounce"` // Quiet period before a reload (default: 250ms)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"` // Structured JSON output instead of the console writer
}

// LocaleConfig describes where and for whom the dashboard is shown
type LocaleConfig struct {
	Timezone string `yaml:"timezone"`
	User     string `yaml:"user"` // Initial user id for user conditions
}

// Location loads the configured time zone
func (c LocaleConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ViewportConfig is the viewport assumed until a client reports one
type ViewportConfig struct {
	Width       int    `yaml:"width" validate:"gte=0"`
	Height      int    `yaml:"height" validate:"gte=0"`
	ColorScheme string `yaml:"color_scheme" validate:"omitempty,oneof=light dark"`
	Hover       bool   `yaml:"hover"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	Enabled      bool         `yaml:"enabled"`
	Host         string       `yaml:"host"`
	Port         int          `yaml:"port" validate:"min=1,max=65535"`
	RateLimitRPS float64      `yaml:"rate_limit_rps" validate:"gt=0"` // Event ingestion rate limit
	Burst        int          `yaml:"burst" validate:"gt=0"`
	Ingest       IngestConfig `yaml:"ingest"`
}

// IngestConfig holds gjson paths used to pull entity updates out of posted
// events
type IngestConfig struct {
	EntityPath     string `yaml:"entity_path" validate:"required"`
	StatePath      string `yaml:"state_path" validate:"required"`
	AttributesPath string `yaml:"attributes_path"`
}

// LedgerConfig contains visibility ledger settings
type LedgerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	RetentionDays   int    `yaml:"retention_days" validate:"gte=0"`
	CleanupSchedule string `yaml:"cleanup_schedule"` // Cron expression for history cleanup
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Variables from .env fill in what the environment does not set
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes configuration data, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Locale.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./dashd.sqlite"
	}
	if cfg.Dashboard.Path == "" {
		cfg.Dashboard.Path = "dashboard.yaml"
	}
	if cfg.Dashboard.Debounce == 0 {
		cfg.Dashboard.Debounce = Duration(250 * time.Millisecond)
	}

	// Locale defaults
	if cfg.Locale.Timezone == "" {
		cfg.Locale.Timezone = "UTC"
	}

	// Viewport defaults: a desktop browser
	if cfg.Viewport.Width == 0 {
		cfg.Viewport.Width = 1920
	}
	if cfg.Viewport.Height == 0 {
		cfg.Viewport.Height = 1080
	}
	if cfg.Viewport.ColorScheme == "" {
		cfg.Viewport.ColorScheme = "light"
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8123
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}
	if cfg.API.RateLimitRPS == 0 {
		cfg.API.RateLimitRPS = 50.0
	}
	if cfg.API.Burst == 0 {
		cfg.API.Burst = 100
	}
	if cfg.API.Ingest.EntityPath == "" {
		cfg.API.Ingest.EntityPath = "data.entity_id"
	}
	if cfg.API.Ingest.StatePath == "" {
		cfg.API.Ingest.StatePath = "data.new_state.state"
	}
	if cfg.API.Ingest.AttributesPath == "" {
		cfg.API.Ingest.AttributesPath = "data.new_state.attributes"
	}

	// Ledger defaults
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}
	if cfg.Ledger.CleanupSchedule == "" {
		cfg.Ledger.CleanupSchedule = "@daily"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
