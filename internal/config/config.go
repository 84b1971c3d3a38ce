// Package config loads the host configuration from a YAML file and
// CLOUDBOX_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete host configuration.
//
// Sources, highest precedence first:
//  1. Environment variables (CLOUDBOX_*, "." replaced by "_")
//  2. Configuration file
//  3. Defaults
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	WOPI     WOPIConfig     `mapstructure:"wopi"`
	Token    TokenConfig    `mapstructure:"token"`
	Locks    LocksConfig    `mapstructure:"locks"`
	Database DatabaseConfig `mapstructure:"database"`
	Content  ContentConfig  `mapstructure:"content"`
	Events   EventsConfig   `mapstructure:"events"`
	Tracing  TracingConfig  `mapstructure:"tracing"`

	// DevMode swaps AWS backed secrets for environment variables and
	// enables gin debug output.
	DevMode bool `mapstructure:"dev_mode"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// WOPIConfig holds protocol level switches.
type WOPIConfig struct {
	// EditEnabled turns every write operation on or off globally.
	EditEnabled bool `mapstructure:"edit_enabled"`

	// MaxFileSize is the byte ceiling for PutFile and PutRelativeFile.
	MaxFileSize int64 `mapstructure:"max_file_size" validate:"gt=0"`

	// PublicURL is the externally visible base URL of the web application
	// and the WOPI endpoints.
	PublicURL string `mapstructure:"public_url" validate:"required,url"`

	BrandName     string `mapstructure:"brand_name"`
	IncludeSHA256 bool   `mapstructure:"include_sha256"`
}

// TokenConfig locates the HMAC secret used for access tokens.
type TokenConfig struct {
	// Secret, when set, is used as is.
	Secret string `mapstructure:"secret"`

	// SecretParam names the secret in the configured source.
	SecretParam string `mapstructure:"secret_param"`

	// SecretSource is one of env, ssm or kms.
	SecretSource string `mapstructure:"secret_source" validate:"required,oneof=env ssm kms"`

	// KMSKeyID is passed to KMS Decrypt when SecretSource is kms.
	KMSKeyID string `mapstructure:"kms_key_id"`
}

type LocksConfig struct {
	Type       string        `mapstructure:"type" validate:"required,oneof=memory dynamodb badger"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Table      string        `mapstructure:"table"`
	BadgerPath string        `mapstructure:"badger_path"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=memory postgres sqlite"`
	DSN    string `mapstructure:"dsn"`
}

// ContentConfig selects the content store. Only the section matching Type
// is decoded.
type ContentConfig struct {
	Type       string         `mapstructure:"type" validate:"required,oneof=filesystem s3 minio"`
	Filesystem map[string]any `mapstructure:"filesystem"`
	S3         map[string]any `mapstructure:"s3"`
	MinIO      map[string]any `mapstructure:"minio"`
}

type EventsConfig struct {
	// NATSURL enables JetStream publishing when set.
	NATSURL string `mapstructure:"nats_url"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load reads configuration from configPath (optional), the environment and
// defaults, then validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	registerDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Example: CLOUDBOX_WOPI_EDIT_ENABLED=false
	v.SetEnvPrefix("CLOUDBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.SetConfigName("wopi")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/cloudbox")
}

// registerDefaults sets every key so environment variables can override
// keys that never appear in a file.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("dev_mode", false)

	v.SetDefault("logging.level", "INFO")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("wopi.edit_enabled", true)
	v.SetDefault("wopi.max_file_size", int64(100<<20))
	v.SetDefault("wopi.public_url", "http://localhost:8080")
	v.SetDefault("wopi.brand_name", "CloudBox")
	v.SetDefault("wopi.include_sha256", false)

	v.SetDefault("token.secret", "")
	v.SetDefault("token.secret_param", "/cloudbox/wopi-token-secret")
	v.SetDefault("token.secret_source", "env")
	v.SetDefault("token.kms_key_id", "")

	v.SetDefault("locks.type", "memory")
	v.SetDefault("locks.timeout", 30*time.Minute)
	v.SetDefault("locks.table", "WopiLocks")
	v.SetDefault("locks.badger_path", "")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")

	v.SetDefault("content.type", "filesystem")
	v.SetDefault("content.filesystem.path", "./data/content")
	v.SetDefault("content.s3.bucket", "")
	v.SetDefault("content.s3.region", "us-east-1")
	v.SetDefault("content.s3.endpoint", "")
	v.SetDefault("content.s3.access_key_id", "")
	v.SetDefault("content.s3.secret_access_key", "")
	v.SetDefault("content.s3.key_prefix", "")
	v.SetDefault("content.minio.endpoint", "")
	v.SetDefault("content.minio.access_key", "")
	v.SetDefault("content.minio.secret_key", "")
	v.SetDefault("content.minio.bucket", "")
	v.SetDefault("content.minio.key_prefix", "")
	v.SetDefault("content.minio.use_ssl", false)

	v.SetDefault("events.nats_url", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "cloudbox-wopi")
}
