package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iase/mailmerge/internal/email"
)

// Mailer modes
const (
	MailerSMTP    = "smtp"
	MailerBridge  = "bridge"
	MailerSandbox = "sandbox"
)

// SMTP TLS modes
const (
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
	TLSNone     = "none"
)

// Environment variables overriding secrets from the config file
const (
	EnvSMTPPassword = "MAILMERGE_SMTP_PASSWORD"
	EnvAPIKey       = "MAILMERGE_API_KEY"
	EnvBridgeAPIKey = "MAILMERGE_BRIDGE_API_KEY"
	EnvRemoteAPIKey = "MAILMERGE_REMOTE_API_KEY"
)

// Config is the main configuration structure
type Config struct {
	Remote    RemoteConfig    `yaml:"remote"`
	Session   SessionConfig   `yaml:"session"`
	Mailer    MailerConfig    `yaml:"mailer"`
	Templates TemplatesConfig `yaml:"templates"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"` // Prometheus metrics configuration
}

// RemoteConfig describes the remote contact source
type RemoteConfig struct {
	ContactsURL     string        `yaml:"contacts_url"`
	NationsURL      string        `yaml:"nations_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`          // Default: 5s
	RefreshInterval time.Duration `yaml:"refresh_interval"` // 0 = no periodic sync
	FallbackNations []string      `yaml:"fallback_nations"` // Used when the nations list can't be fetched
}

// SessionConfig contains sending session defaults
type SessionConfig struct {
	From         string        `yaml:"from"`
	FromName     string        `yaml:"from_name"`
	ReplyTo      string        `yaml:"reply_to"`
	Language     string        `yaml:"language"`      // en, no
	Letter       string        `yaml:"letter"`        // letter id from the catalog
	Delay        time.Duration `yaml:"delay"`         // Default: 3s, minimum 1s
	RandomWindow time.Duration `yaml:"random_window"` // Extra random delay, default: 1s
	FinalDelay   time.Duration `yaml:"final_delay"`   // Delay after the last email, default: 2s
	MaxCount     int           `yaml:"max_count"`     // Emails per session, default: 10
	Nations      []string      `yaml:"nations"`       // Default nation selection
}

// MailerConfig selects and configures email delivery
type MailerConfig struct {
	Mode    string        `yaml:"mode"` // smtp, bridge, sandbox
	SMTP    SMTPConfig    `yaml:"smtp"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	DKIM    DKIMConfig    `yaml:"dkim"`
	Sandbox SandboxConfig `yaml:"sandbox"`
}

// SMTPConfig contains outgoing SMTP settings
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	TLS      string        `yaml:"tls"` // starttls, tls, none
	HeloName string        `yaml:"helo_name"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Addr returns host:port
func (s SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BridgeConfig points at the host application that sends mail on our behalf
type BridgeConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
}

// SandboxConfig controls the capturing mailer
type SandboxConfig struct {
	FailureRate float64 `yaml:"failure_rate"` // 0.0 to 1.0, simulated send failures
}

// TemplatesConfig points at an optional letters catalog
type TemplatesConfig struct {
	CatalogFile string `yaml:"catalog_file"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	APIKeyHash     string        `yaml:"api_key_hash"`     // bcrypt hash, alternative to api_key
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IPs/CIDRs allowed to reach the API, empty = all
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`   // Max import body size (default: 32MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path      string `yaml:"path"`
	BackupDir string `yaml:"backup_dir"` // Where Backup snapshots go when no path is given
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9090
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to access metrics
	// FlushInterval is how often counters are persisted (default: 10s)
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides secrets with MAILMERGE_* environment variables
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvSMTPPassword); v != "" {
		c.Mailer.SMTP.Password = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv(EnvBridgeAPIKey); v != "" {
		c.Mailer.Bridge.APIKey = v
	}
	if v := os.Getenv(EnvRemoteAPIKey); v != "" {
		c.Remote.APIKey = v
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 5 * time.Second
	}
	if len(c.Remote.FallbackNations) == 0 {
		c.Remote.FallbackNations = []string{"EU", "FR", "GB", "NO"}
	}

	if c.Session.Language == "" {
		c.Session.Language = "en"
	}
	if c.Session.Delay == 0 {
		c.Session.Delay = 3 * time.Second
	}
	if c.Session.RandomWindow == 0 {
		c.Session.RandomWindow = time.Second
	}
	if c.Session.FinalDelay == 0 {
		c.Session.FinalDelay = 2 * time.Second
	}
	if c.Session.MaxCount == 0 {
		c.Session.MaxCount = 10
	}

	if c.Mailer.Mode == "" {
		c.Mailer.Mode = MailerSandbox
	}
	if c.Mailer.SMTP.TLS == "" {
		c.Mailer.SMTP.TLS = TLSStartTLS
	}
	if c.Mailer.SMTP.Port == 0 {
		switch c.Mailer.SMTP.TLS {
		case TLSImplicit:
			c.Mailer.SMTP.Port = 465
		case TLSNone:
			c.Mailer.SMTP.Port = 25
		default:
			c.Mailer.SMTP.Port = 587
		}
	}
	if c.Mailer.SMTP.HeloName == "" {
		hostname, _ := os.Hostname()
		c.Mailer.SMTP.HeloName = hostname
	}
	if c.Mailer.SMTP.Timeout == 0 {
		c.Mailer.SMTP.Timeout = 30 * time.Second
	}
	if c.Mailer.DKIM.Domain == "" {
		c.Mailer.DKIM.Domain = email.ExtractDomain(c.Session.From)
	}
	if c.Mailer.Bridge.Timeout == 0 {
		c.Mailer.Bridge.Timeout = 30 * time.Second
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 32 << 20
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "mailmerge.db"
	}
	if c.Storage.BackupDir == "" {
		c.Storage.BackupDir = filepath.Join(filepath.Dir(c.Storage.Path), "backups")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.validateSession(); err != nil {
		return err
	}

	if err := c.validateMailer(); err != nil {
		return err
	}

	if c.Remote.RefreshInterval < 0 {
		return fmt.Errorf("remote.refresh_interval must not be negative")
	}
	if c.Remote.RefreshInterval > 0 && c.Remote.ContactsURL == "" {
		return fmt.Errorf("remote.contacts_url is required when refresh_interval is set")
	}

	if c.API.Enabled && c.API.APIKey == "" && c.API.APIKeyHash == "" {
		return fmt.Errorf("api.api_key or api.api_key_hash is required when the API is enabled")
	}

	return nil
}

func (c *Config) validateSession() error {
	s := c.Session
	if s.Language != "en" && s.Language != "no" {
		return fmt.Errorf("invalid session.language: %s (must be en or no)", s.Language)
	}
	if s.Delay < time.Second {
		return fmt.Errorf("session.delay must be at least 1s, got %s", s.Delay)
	}
	if s.RandomWindow < 0 || s.FinalDelay < 0 {
		return fmt.Errorf("session.random_window and session.final_delay must not be negative")
	}
	if s.MaxCount < 0 {
		return fmt.Errorf("session.max_count must not be negative")
	}
	return nil
}

func (c *Config) validateMailer() error {
	m := c.Mailer
	switch m.Mode {
	case MailerSMTP:
		if m.SMTP.Host == "" {
			return fmt.Errorf("mailer.smtp.host is required in smtp mode")
		}
		if c.Session.From == "" {
			return fmt.Errorf("session.from is required in smtp mode")
		}
		switch m.SMTP.TLS {
		case TLSStartTLS, TLSImplicit, TLSNone:
		default:
			return fmt.Errorf("invalid mailer.smtp.tls: %s (must be starttls, tls, or none)", m.SMTP.TLS)
		}
	case MailerBridge:
		if m.Bridge.URL == "" {
			return fmt.Errorf("mailer.bridge.url is required in bridge mode")
		}
	case MailerSandbox:
		if m.Sandbox.FailureRate < 0 || m.Sandbox.FailureRate > 1 {
			return fmt.Errorf("mailer.sandbox.failure_rate must be between 0 and 1")
		}
	default:
		return fmt.Errorf("invalid mailer.mode: %s (must be smtp, bridge, or sandbox)", m.Mode)
	}

	if m.DKIM.Enabled {
		if m.DKIM.Selector == "" {
			return fmt.Errorf("mailer.dkim.selector is required when DKIM is enabled")
		}
		if m.DKIM.KeyFile == "" {
			return fmt.Errorf("mailer.dkim.key_file is required when DKIM is enabled")
		}
		if m.DKIM.Domain == "" {
			return fmt.Errorf("mailer.dkim.domain is required when DKIM is enabled")
		}
	}

	return nil
}
