package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Telegram Telegram `yaml:"telegram"`
	Database Database `yaml:"database"`
	Schedule Schedule `yaml:"schedule"`
	Sources  []Source `yaml:"sources"`
	Limits   Limits   `yaml:"limits"`
	Fetch    Fetch    `yaml:"fetch"`
	Delivery Delivery `yaml:"delivery"`
	Content  Content  `yaml:"content"`
	Rewrite  Rewrite  `yaml:"rewrite"`
	Stats    Stats    `yaml:"stats"`
	Server   Server   `yaml:"server"`
	Log      Logging  `yaml:"log"`
}

// Telegram holds bot credentials and the target channel.
type Telegram struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// Database configures SQLite storage.
type Database struct {
	Path string `yaml:"path"`
}

// Schedule configures the check-and-publish interval.
type Schedule struct {
	CheckInterval string `yaml:"check_interval"`
}

// ParseCheckInterval returns the check interval as time.Duration.
func (s Schedule) ParseCheckInterval() time.Duration {
	d, err := time.ParseDuration(s.CheckInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// Source is a single RSS feed entry.
type Source struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Limits bounds publication volume.
type Limits struct {
	MaxPostsPerDay   int `yaml:"max_posts_per_day"`
	MaxPostsPerCheck int `yaml:"max_posts_per_check"`
	ItemsPerFeed     int `yaml:"items_per_feed"`
}

// Fetch configures feed retrieval and source suspension.
type Fetch struct {
	RetryAttempts int    `yaml:"retry_attempts"`
	SourceBackoff string `yaml:"source_backoff"`
}

// ParseSourceBackoff returns the suspension window as time.Duration.
func (f Fetch) ParseSourceBackoff() time.Duration {
	d, err := time.ParseDuration(f.SourceBackoff)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// Delivery configures the outbound retry policy.
type Delivery struct {
	RetryAttempts int    `yaml:"retry_attempts"`
	RetryDelay    string `yaml:"retry_delay"`
	MaxWait       string `yaml:"max_wait"`
	Pacing        string `yaml:"pacing"`
}

// ParseRetryDelay returns the delay between transient-failure retries.
func (d Delivery) ParseRetryDelay() time.Duration {
	v, err := time.ParseDuration(d.RetryDelay)
	if err != nil {
		return 30 * time.Second
	}
	return v
}

// ParseMaxWait returns the cap on cumulative rate-limit waiting per item.
func (d Delivery) ParseMaxWait() time.Duration {
	v, err := time.ParseDuration(d.MaxWait)
	if err != nil {
		return 3 * time.Minute
	}
	return v
}

// ParsePacing returns the pause between successful publications in one cycle.
func (d Delivery) ParsePacing() time.Duration {
	v, err := time.ParseDuration(d.Pacing)
	if err != nil {
		return 2 * time.Second
	}
	return v
}

// Content configures item validation and caption shaping.
type Content struct {
	MinTitleLength   int    `yaml:"min_title_length"`
	MinSummaryLength int    `yaml:"min_summary_length"`
	MinCaptionLength int    `yaml:"min_caption_length"`
	CaptionLimit     int    `yaml:"caption_limit"`
	DefaultImageURL  string `yaml:"default_image_url"`
}

// Rewrite configures the optional hosted-model caption rewriter.
type Rewrite struct {
	Token    string `yaml:"token"`
	Model    string `yaml:"model"`
	MaxChars int    `yaml:"max_chars"`
}

// Stats configures daily-counter retention.
type Stats struct {
	RetentionDays int `yaml:"retention_days"`
}

// Server configures the healthcheck HTTP server.
type Server struct {
	Port int `yaml:"port"`
}

// Logging configures the optional log file next to stdout.
type Logging struct {
	File string `yaml:"file"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: Database{Path: "./feedrelay.db"},
		Schedule: Schedule{CheckInterval: "1h"},
		Sources: []Source{
			{Name: "Bits Media", URL: "https://bits.media/rss/"},
			{Name: "ForkLog", URL: "https://forklog.com/feed/"},
			{Name: "Cointelegraph", URL: "https://cointelegraph.com/rss"},
		},
		Limits: Limits{
			MaxPostsPerDay:   10,
			MaxPostsPerCheck: 2,
			ItemsPerFeed:     30,
		},
		Fetch: Fetch{
			RetryAttempts: 2,
			SourceBackoff: "5m",
		},
		Delivery: Delivery{
			RetryAttempts: 3,
			RetryDelay:    "30s",
			MaxWait:       "3m",
			Pacing:        "2s",
		},
		Content: Content{
			MinTitleLength:   10,
			MinSummaryLength: 20,
			MinCaptionLength: 10,
			CaptionLimit:     1000,
		},
		Rewrite: Rewrite{
			Model:    "google/flan-t5-large",
			MaxChars: 750,
		},
		Stats:  Stats{RetentionDays: 30},
		Server: Server{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate checks the values a running daemon cannot do without.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.Channel == "" {
		return fmt.Errorf("telegram.channel is required")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	if c.Limits.MaxPostsPerDay <= 0 {
		return fmt.Errorf("limits.max_posts_per_day must be positive")
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FEEDRELAY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHANNEL"); v != "" {
		cfg.Telegram.Channel = v
	}
	if v := os.Getenv("HF_TOKEN"); v != "" {
		cfg.Rewrite.Token = v
	}
}
