package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Code issuers selectable with CODE_ISSUER
const (
	IssuerDemo  = "demo"
	IssuerStore = "store"
)

// Config holds the application configuration
type Config struct {
	Port        string `yaml:"port" envconfig:"PORT"`
	DatabaseURL string `yaml:"database_url" envconfig:"DATABASE_URL"`

	// CodeIssuer is "demo" (fixed code shown in the prompt) or "store"
	// (random code, hashed and stored, sent through the dry-run SMS sender)
	CodeIssuer  string        `yaml:"code_issuer" envconfig:"CODE_ISSUER"`
	OTPSalt     string        `yaml:"otp_salt" envconfig:"OTP_SALT"`
	CodeTTL     time.Duration `yaml:"code_ttl" envconfig:"CODE_TTL"`
	MaxAttempts int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`

	// RecordSecret enables signed session records when set
	RecordSecret string        `yaml:"record_secret" envconfig:"RECORD_SECRET"`
	RecordTTL    time.Duration `yaml:"record_ttl" envconfig:"RECORD_TTL"`

	StreamDelay time.Duration `yaml:"stream_delay" envconfig:"STREAM_EVENT_DELAY"`

	RateLimitWindow time.Duration `yaml:"rate_limit_window" envconfig:"RATE_LIMIT_WINDOW"`
	RateLimitMax    int           `yaml:"rate_limit_max" envconfig:"RATE_LIMIT_MAX"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Port:            "8848",
		CodeIssuer:      IssuerDemo,
		CodeTTL:         5 * time.Minute,
		MaxAttempts:     2,
		RecordTTL:       30 * time.Minute,
		StreamDelay:     time.Second,
		RateLimitWindow: time.Minute,
		RateLimitMax:    60,
	}
}

// Load reads the optional YAML file named by CONFIG_FILE, then applies
// environment variable overrides
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	cfg.CodeIssuer = strings.ToLower(strings.TrimSpace(cfg.CodeIssuer))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.DatabaseURL != "" {
		logDatabaseTarget(cfg.DatabaseURL)
	}
	return cfg, nil
}

// Validate rejects inconsistent settings
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.CodeIssuer {
	case IssuerDemo:
	case IssuerStore:
		if c.OTPSalt == "" {
			return fmt.Errorf("OTP_SALT is required when CODE_ISSUER is %q", IssuerStore)
		}
	default:
		return fmt.Errorf("invalid CODE_ISSUER %q; allowed: %s, %s", c.CodeIssuer, IssuerDemo, IssuerStore)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be >= 1")
	}
	if c.CodeTTL <= 0 || c.RecordTTL <= 0 {
		return fmt.Errorf("CODE_TTL and RECORD_TTL must be > 0")
	}
	if c.StreamDelay < 0 {
		return fmt.Errorf("STREAM_EVENT_DELAY must be >= 0")
	}
	if c.RateLimitWindow <= 0 || c.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW and RATE_LIMIT_MAX must be > 0")
	}
	return nil
}

// SigningEnabled reports whether session records are signed
func (c *Config) SigningEnabled() bool {
	return c.RecordSecret != ""
}

// logDatabaseTarget logs connection details with the password left out
func logDatabaseTarget(databaseURL string) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	user := u.User.Username()
	if user == "" {
		user = "(none)"
	}
	log.Printf("DB connect: host=%s port=%s db=%s user=%s", host, port, strings.TrimPrefix(u.Path, "/"), user)
}
