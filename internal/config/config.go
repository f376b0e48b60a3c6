// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Scrape  ScrapeConfig  `mapstructure:"scrape" yaml:"scrape"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Replay  ReplayConfig  `mapstructure:"replay" yaml:"replay"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browser session.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// RemoteURL points at an already running browser's DevTools endpoint.
	// When set, no local browser process is started.
	RemoteURL         string         `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath          string         `mapstructure:"exec_path" yaml:"exec_path"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	DeviceScaleFactor float64        `mapstructure:"device_scale_factor" yaml:"device_scale_factor"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	Locale            string         `mapstructure:"locale" yaml:"locale"`
	Timezone          string         `mapstructure:"timezone" yaml:"timezone"`
}

// ViewportConfig is the emulated window size in CSS pixels.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// NetworkConfig tunes waits on the browser and the replay HTTP client.
type NetworkConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// QuietPeriod is how long the page must show no network activity and no
	// height change before it counts as settled.
	QuietPeriod     time.Duration     `mapstructure:"quiet_period" yaml:"quiet_period"`
	SettleTimeout   time.Duration     `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	PollInterval    time.Duration     `mapstructure:"poll_interval" yaml:"poll_interval"`
	Headers         map[string]string `mapstructure:"headers" yaml:"headers"`
	IgnoreTLSErrors bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ProxyURL        string            `mapstructure:"proxy_url" yaml:"proxy_url"`
}

// AuthConfig carries the archive login. Values usually come from the
// environment or a .env file.
type AuthConfig struct {
	Email    string `mapstructure:"email" yaml:"-"`
	Password string `mapstructure:"password" yaml:"-"`
}

// ScrapeConfig describes one archive search and the page heuristics used to walk it.
type ScrapeConfig struct {
	BaseURL      string `mapstructure:"base_url" yaml:"base_url"`
	Query        string `mapstructure:"query" yaml:"query"`
	Country      string `mapstructure:"country" yaml:"country"`
	AdType       string `mapstructure:"ad_type" yaml:"ad_type"`
	ActiveStatus string `mapstructure:"active_status" yaml:"active_status"`
	Limit        int    `mapstructure:"limit" yaml:"limit"`

	ContentSelector  string `mapstructure:"content_selector" yaml:"content_selector"`
	ContainerBorder  string `mapstructure:"container_border" yaml:"container_border"`
	LoadMoreXPath    string `mapstructure:"load_more_xpath" yaml:"load_more_xpath"`
	LoginFailureText string `mapstructure:"login_failure_text" yaml:"login_failure_text"`
	NoResultsText    string `mapstructure:"no_results_text" yaml:"no_results_text"`
	// PerformanceXPath is evaluated inside each container. An empty value
	// disables the per-container performance panel toggle.
	PerformanceXPath string `mapstructure:"performance_xpath" yaml:"performance_xpath"`
	DOMFallback      bool   `mapstructure:"dom_fallback" yaml:"dom_fallback"`
}

// CaptureConfig controls screenshot stitching.
type CaptureConfig struct {
	// Scale is the device pixel ratio used for cropping. Zero or less means
	// it is measured from each capture.
	Scale    float64 `mapstructure:"scale" yaml:"scale"`
	FullPage bool    `mapstructure:"full_page" yaml:"full_page"`
}

// ReplayConfig controls how harvested requests are replayed and correlated.
type ReplayConfig struct {
	Pacing        time.Duration `mapstructure:"pacing" yaml:"pacing"`
	FramingPrefix string        `mapstructure:"framing_prefix" yaml:"framing_prefix"`
	// Categories maps a payload category name to the literal URL prefix of
	// the requests that produce it.
	Categories map[string]string `mapstructure:"categories" yaml:"categories"`
}

// OutputConfig controls where artifacts land.
type OutputConfig struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`
	CSVName string `mapstructure:"csv_name" yaml:"csv_name"`
}

// StoreConfig configures the optional PostgreSQL record sink.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
	Table   string `mapstructure:"table" yaml:"table"`
}

// Category names understood by the correlation engine.
const (
	CategoryCreative    = "creative"
	CategoryPerformance = "performance"
)

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "adarchive")
	v.SetDefault("logger.log_file", "adarchive.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 900)
	v.SetDefault("browser.device_scale_factor", 2.0)
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "America/New_York")

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.quiet_period", "1500ms")
	v.SetDefault("network.settle_timeout", "45s")
	v.SetDefault("network.poll_interval", "250ms")

	// -- Scrape --
	v.SetDefault("scrape.base_url", "https://www.facebook.com/politicalcontentads/")
	v.SetDefault("scrape.country", "US")
	v.SetDefault("scrape.ad_type", "political_and_issue_ads")
	v.SetDefault("scrape.active_status", "all")
	v.SetDefault("scrape.limit", 0)
	v.SetDefault("scrape.content_selector", "#content")
	v.SetDefault("scrape.container_border", "1px solid rgb(233, 234, 235)")
	v.SetDefault("scrape.load_more_xpath", `//a[text()="See More"]`)
	v.SetDefault("scrape.login_failure_text", "Log into Facebook")
	v.SetDefault("scrape.no_results_text", "There are no ads matching")
	v.SetDefault("scrape.performance_xpath", `.//a[text()="See Ad Performance"]`)
	v.SetDefault("scrape.dom_fallback", true)

	// -- Capture --
	v.SetDefault("capture.scale", 0.0)
	v.SetDefault("capture.full_page", false)

	// -- Replay --
	v.SetDefault("replay.pacing", "750ms")
	v.SetDefault("replay.framing_prefix", ")]}',\n")
	v.SetDefault("replay.categories", map[string]string{
		CategoryCreative:    "https://www.facebook.com/ads/library/async/search_ads/",
		CategoryPerformance: "https://www.facebook.com/ads/library/async/insights/",
	})

	// -- Output --
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.csv_name", "ads.csv")

	// -- Store --
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.table", "ad_records")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials are never expected in the config file.
	_ = v.BindEnv("auth.email", "ADARCHIVE_EMAIL")
	_ = v.BindEnv("auth.password", "ADARCHIVE_PASSWORD")
	_ = v.BindEnv("store.url", "ADARCHIVE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network configuration invalid: %w", err)
	}
	if err := c.Scrape.Validate(); err != nil {
		return fmt.Errorf("scrape configuration invalid: %w", err)
	}
	if err := c.Replay.Validate(); err != nil {
		return fmt.Errorf("replay configuration invalid: %w", err)
	}
	if c.Store.Enabled && c.Store.URL == "" {
		return fmt.Errorf("store.url is required when the store is enabled")
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	if b.Viewport.Width <= 0 || b.Viewport.Height <= 0 {
		return fmt.Errorf("viewport width and height must be positive integers")
	}
	if b.DeviceScaleFactor < 0 {
		return fmt.Errorf("device_scale_factor must not be negative")
	}
	return nil
}

// Validate checks the wait and timeout settings.
func (n *NetworkConfig) Validate() error {
	if n.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if n.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	if n.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if n.SettleTimeout < n.QuietPeriod {
		return fmt.Errorf("settle_timeout must not be shorter than quiet_period")
	}
	return nil
}

// Validate checks the search parameters.
func (s *ScrapeConfig) Validate() error {
	if strings.TrimSpace(s.Query) == "" {
		return fmt.Errorf("query is required")
	}
	if s.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	if s.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if s.ContentSelector == "" || s.ContainerBorder == "" {
		return fmt.Errorf("content_selector and container_border are required")
	}
	return nil
}

// Validate checks the replay settings.
func (r *ReplayConfig) Validate() error {
	if r.Pacing < 0 {
		return fmt.Errorf("pacing must not be negative")
	}
	if r.Categories[CategoryCreative] == "" {
		return fmt.Errorf("categories.%s prefix is required", CategoryCreative)
	}
	return nil
}

// ResolveDir expands a leading ~ in the output directory.
func (o OutputConfig) ResolveDir() (string, error) {
	dir, err := homedir.Expand(o.Dir)
	if err != nil {
		return "", fmt.Errorf("failed to expand output dir %q: %w", o.Dir, err)
	}
	return dir, nil
}
