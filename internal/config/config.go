package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`

	HIPAAEncryptionKey string `mapstructure:"HIPAA_ENCRYPTION_KEY"`

	X12UsageIndicator string `mapstructure:"X12_USAGE_INDICATOR"`
	X12ReceiverID     string `mapstructure:"X12_RECEIVER_ID"`
	X12PayerName      string `mapstructure:"X12_PAYER_NAME"`
	X12PayerID        string `mapstructure:"X12_PAYER_ID"`

	COREEndpoint    string        `mapstructure:"CORE_ENDPOINT"`
	CORETimeout     time.Duration `mapstructure:"CORE_TIMEOUT"`
	COREMaxAttempts int           `mapstructure:"CORE_MAX_ATTEMPTS"`
	CORERuleVersion string        `mapstructure:"CORE_RULE_VERSION"`

	SFTPHost        string        `mapstructure:"SFTP_HOST"`
	SFTPPort        int           `mapstructure:"SFTP_PORT"`
	SFTPEnvironment string        `mapstructure:"SFTP_ENVIRONMENT"`
	SFTPKnownHosts  string        `mapstructure:"SFTP_KNOWN_HOSTS"`
	SFTPTimeout     time.Duration `mapstructure:"SFTP_TIMEOUT"`

	AvailityEndpoint string `mapstructure:"AVAILITY_ENDPOINT"`
}

var keys = []string{
	"ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"HIPAA_ENCRYPTION_KEY",
	"X12_USAGE_INDICATOR", "X12_RECEIVER_ID", "X12_PAYER_NAME", "X12_PAYER_ID",
	"CORE_ENDPOINT", "CORE_TIMEOUT", "CORE_MAX_ATTEMPTS", "CORE_RULE_VERSION",
	"SFTP_HOST", "SFTP_PORT", "SFTP_ENVIRONMENT", "SFTP_KNOWN_HOSTS", "SFTP_TIMEOUT",
	"AVAILITY_ENDPOINT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_SCHEMA", "claims")
	v.SetDefault("X12_USAGE_INDICATOR", "T")
	v.SetDefault("X12_RECEIVER_ID", "OKMEDICAID")
	v.SetDefault("X12_PAYER_NAME", "OKLAHOMA HEALTH CARE AUTHORITY")
	v.SetDefault("X12_PAYER_ID", "731476619")
	v.SetDefault("CORE_TIMEOUT", "30s")
	v.SetDefault("CORE_MAX_ATTEMPTS", 3)
	v.SetDefault("CORE_RULE_VERSION", "2.2.0")
	v.SetDefault("SFTP_PORT", 22)
	v.SetDefault("SFTP_ENVIRONMENT", "TEST")
	v.SetDefault("SFTP_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when interchanges go to the payer's production
// system.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Production requires
// the production usage indicator, a credential encryption key and a known
// hosts file for the payer's SFTP server.
func (c *Config) Validate() error {
	if c.X12UsageIndicator != "T" && c.X12UsageIndicator != "P" {
		return fmt.Errorf("X12_USAGE_INDICATOR must be \"T\" or \"P\", got %q", c.X12UsageIndicator)
	}
	if c.X12ReceiverID == "" || c.X12PayerID == "" {
		return fmt.Errorf("X12_RECEIVER_ID and X12_PAYER_ID are required")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.COREEndpoint != "" {
		if _, err := url.ParseRequestURI(c.COREEndpoint); err != nil {
			return fmt.Errorf("CORE_ENDPOINT is not a valid URL: %w", err)
		}
	}
	if c.COREMaxAttempts < 1 {
		return fmt.Errorf("CORE_MAX_ATTEMPTS must be at least 1, got %d", c.COREMaxAttempts)
	}
	if c.SFTPPort <= 0 || c.SFTPPort > 65535 {
		return fmt.Errorf("SFTP_PORT out of range: %d", c.SFTPPort)
	}

	if c.HIPAAEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.HIPAAEncryptionKey)
		if err != nil {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if c.IsProduction() {
		if c.X12UsageIndicator != "P" {
			return fmt.Errorf("X12_USAGE_INDICATOR must be \"P\" in production")
		}
		if c.HIPAAEncryptionKey == "" {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY is required in production")
		}
		if c.SFTPHost != "" && c.SFTPKnownHosts == "" {
			return fmt.Errorf("SFTP_KNOWN_HOSTS is required in production")
		}
	}
	return nil
}
