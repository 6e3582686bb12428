package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Server
	Port      string `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`

	// Summarization webhook
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`

	// OCR
	OCREngine     string `mapstructure:"ocr_engine"` // "gosseract" | "cli"
	TesseractPath string `mapstructure:"tesseract_path"`

	// Limits
	MaxUploadBytes   int64 `mapstructure:"max_upload_bytes"`
	MaxJSONBodyBytes int64 `mapstructure:"max_json_body_bytes"`

	// Concurrency
	MaxConcurrentRequests int64 `mapstructure:"max_concurrent_requests"`

	// Server timeouts
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"`

	// rate limiting (per IP)
	RateLimitEvery time.Duration `mapstructure:"rate_limit_every"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`

	// housekeeping
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// health
	HealthDegradeRatio float64 `mapstructure:"health_degrade_ratio"`

	// CORS
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "text" | "json"
}

var defaults = map[string]any{
	"port":       "8080",
	"static_dir": "static",

	"webhook_url":     "",
	"webhook_timeout": 30 * time.Second,

	"ocr_engine":     "gosseract",
	"tesseract_path": "tesseract",

	"max_upload_bytes":    int64(50 << 20),
	"max_json_body_bytes": int64(2 << 20),

	"max_concurrent_requests": int64(15),

	"read_header_timeout": 10 * time.Second,
	"read_timeout":        60 * time.Second,
	"write_timeout":       300 * time.Second,
	"idle_timeout":        60 * time.Second,
	"max_header_bytes":    1 << 20,

	"rate_limit_every": 600 * time.Millisecond,
	"rate_limit_burst": 20,

	"cleanup_interval": 5 * time.Minute,

	"health_degrade_ratio": 0.9,

	"cors_allowed_origins": []string{"*"},

	"log_level":  "info",
	"log_format": "text",
}

// Load builds the config from defaults, an optional config file and the
// environment (upper-cased keys, e.g. PORT, WEBHOOK_URL). Environment wins.
func Load(path string) (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Port = strings.TrimSpace(c.Port)
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	c.OCREngine = strings.ToLower(strings.TrimSpace(c.OCREngine))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))

	origins := make([]string, 0, len(c.CORSAllowedOrigins))
	for _, o := range c.CORSAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSAllowedOrigins = origins
}

func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, errors.New("WEBHOOK_URL must be an http/https URL"))
		}
	}
	switch c.OCREngine {
	case "gosseract", "cli":
	default:
		errs = append(errs, fmt.Errorf("OCR_ENGINE must be gosseract or cli, got %q", c.OCREngine))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.MaxUploadBytes <= 0 || c.MaxJSONBodyBytes <= 0 {
		errs = append(errs, errors.New("body limits must be positive"))
	}
	if c.MaxConcurrentRequests <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_REQUESTS must be positive"))
	}
	return errors.Join(errs...)
}
