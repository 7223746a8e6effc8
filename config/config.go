package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds harvester configuration for both stages.
type Config struct {
	BaseURL string

	// File layout. QuarantineFile is derived from OutputFile's directory
	// when left empty.
	RefsFile       string
	OutputFile     string
	QuarantineFile string
	ImageDir       string

	// Browser session.
	Headless             bool
	WindowWidth          int
	WindowHeight         int
	DisableNotifications bool
	NavTimeout           time.Duration
	SettleDelay          time.Duration
	FirstSettleDelay     time.Duration
	ClickSettle          time.Duration
	ClickTimeout         time.Duration

	// Extraction stage.
	ChunkSize     int
	MaxAttempts   int
	RetryCooldown time.Duration
	DedupeMaxSize int

	// Discovery stage.
	PageRetries int
	HTTPTimeout time.Duration

	UserAgent   string
	Verbose     bool
	MetricsAddr string
}

// DefaultConfig returns the defaults the original pipeline ran with.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:              "https://www.ikea.com/pl/pl/",
		RefsFile:             "data/products_urls.json",
		OutputFile:           "data/products_metadata.json",
		ImageDir:             "imgs",
		Headless:             true,
		WindowWidth:          1920,
		WindowHeight:         1080,
		DisableNotifications: true,
		NavTimeout:           60 * time.Second,
		SettleDelay:          3 * time.Second,
		FirstSettleDelay:     5 * time.Second,
		ClickSettle:          100 * time.Millisecond,
		ClickTimeout:         5 * time.Second,
		ChunkSize:            1000,
		MaxAttempts:          5,
		RetryCooldown:        5 * time.Second,
		DedupeMaxSize:        500000,
		PageRetries:          1,
		HTTPTimeout:          20 * time.Second,
		UserAgent:            "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:              false,
		MetricsAddr:          "",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.RefsFile == "" {
		return fmt.Errorf("refs file cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.ImageDir == "" {
		return fmt.Errorf("image directory cannot be empty")
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		return fmt.Errorf("window size must be positive")
	}
	if c.NavTimeout <= 0 {
		return fmt.Errorf("navigation timeout must be positive")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle delay cannot be negative")
	}
	if c.FirstSettleDelay < 0 {
		return fmt.Errorf("first settle delay cannot be negative")
	}
	if c.ClickSettle < 0 {
		return fmt.Errorf("click settle cannot be negative")
	}
	if c.ClickTimeout <= 0 {
		return fmt.Errorf("click timeout must be positive")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryCooldown < 0 {
		return fmt.Errorf("retry cooldown cannot be negative")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.PageRetries < 0 {
		return fmt.Errorf("page retries cannot be negative")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// EnvString reads a string override from the environment.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// EnvInt reads an integer override from the environment.
func EnvInt(key string) (int, bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, true, nil
}

// EnvBool reads a boolean override from the environment.
func EnvBool(key string) (bool, bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return parsed, true, nil
}
