// Package config loads pantry settings from an optional YAML file and
// PANTRY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dukerupert/pantry/internal/backup"
	"github.com/dukerupert/pantry/internal/database"
	"github.com/dukerupert/pantry/internal/email"
	"github.com/dukerupert/pantry/internal/foodfacts"
)

type Config struct {
	LogLevel  string           `yaml:"log_level"`
	LogFormat string           `yaml:"log_format" validate:"oneof=text json"`
	Server    ServerConfig     `yaml:"server"`
	Remote    RemoteConfig     `yaml:"remote"`
	FoodFacts foodfacts.Config `yaml:"foodfacts"`
	Expiry    ExpiryConfig     `yaml:"expiry"`
	Backup    backup.Config    `yaml:"backup"`
	Email     email.Config     `yaml:"email"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	DBDriver string `yaml:"db_driver" validate:"oneof=sqlite postgres"`
	DSN      string `yaml:"dsn"`
	// TokenHash is the bcrypt hash of the API token.
	TokenHash          string  `yaml:"token_hash"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second" validate:"gte=0"`
	RateLimitBurst     int     `yaml:"rate_limit_burst" validate:"gte=0"`
}

type RemoteConfig struct {
	URL   string `yaml:"url" validate:"omitempty,url"`
	Token string `yaml:"token"`
}

type ExpiryConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gte=0"`
}

// Default returns the settings used when neither the file nor the
// environment sets a value.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Addr:     ":8080",
			DBDriver: database.DriverSQLite,
			DSN:      "pantry.db",
		},
		FoodFacts: foodfacts.Config{
			BaseURL:           foodfacts.DefaultBaseURL,
			RequestsPerSecond: 1,
		},
		Expiry: ExpiryConfig{SweepInterval: time.Hour},
		Backup: backup.Config{Prefix: "backups/"},
	}
}

// Load reads path (skipped when empty), then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var errs []error
	parse := func(key string, fn func(string) error) {
		if v, ok := lookup(key); ok && v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) (err error) {
			*dst, err = time.ParseDuration(v)
			return err
		}
	}

	str("PANTRY_LOG_LEVEL", &cfg.LogLevel)
	str("PANTRY_LOG_FORMAT", &cfg.LogFormat)
	str("PANTRY_ADDR", &cfg.Server.Addr)
	str("PANTRY_DB_DRIVER", &cfg.Server.DBDriver)
	str("PANTRY_DSN", &cfg.Server.DSN)
	str("PANTRY_TOKEN_HASH", &cfg.Server.TokenHash)
	str("PANTRY_REMOTE_URL", &cfg.Remote.URL)
	str("PANTRY_REMOTE_TOKEN", &cfg.Remote.Token)
	str("PANTRY_FOODFACTS_URL", &cfg.FoodFacts.BaseURL)
	parse("PANTRY_FOODFACTS_RPS", func(v string) (err error) {
		cfg.FoodFacts.RequestsPerSecond, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("PANTRY_SWEEP_INTERVAL", duration(&cfg.Expiry.SweepInterval))

	str("PANTRY_S3_ENDPOINT", &cfg.Backup.S3.Endpoint)
	str("PANTRY_S3_BUCKET", &cfg.Backup.S3.Bucket)
	str("PANTRY_S3_REGION", &cfg.Backup.S3.Region)
	str("PANTRY_S3_ACCESS_KEY", &cfg.Backup.S3.AccessKey)
	str("PANTRY_S3_SECRET_KEY", &cfg.Backup.S3.SecretKey)
	str("PANTRY_BACKUP_PASSPHRASE", &cfg.Backup.Passphrase)
	parse("PANTRY_BACKUP_INTERVAL", duration(&cfg.Backup.Interval))
	parse("PANTRY_BACKUP_KEEP", func(v string) (err error) {
		cfg.Backup.Keep, err = strconv.Atoi(v)
		return err
	})

	str("PANTRY_POSTMARK_TOKEN", &cfg.Email.ServerToken)
	str("PANTRY_EMAIL_FROM", &cfg.Email.From)
	str("PANTRY_APP_URL", &cfg.Email.AppURL)
	return errors.Join(errs...)
}

// RequireRemote reports whether the settings needed to reach a remote
// document store are present.
func (c Config) RequireRemote() error {
	if c.Remote.URL == "" {
		return errors.New("remote.url (PANTRY_REMOTE_URL) is required")
	}
	return nil
}

// RequireDatabase reports whether a database is configured.
func (c Config) RequireDatabase() error {
	if c.Server.DSN == "" {
		return errors.New("server.dsn (PANTRY_DSN) is required")
	}
	return nil
}

// RequireBackup reports every missing setting needed to run or restore a backup.
func (c Config) RequireBackup() error {
	var errs []error
	if c.Backup.S3.Bucket == "" {
		errs = append(errs, errors.New("backup.s3.bucket (PANTRY_S3_BUCKET) is required"))
	}
	if c.Backup.S3.AccessKey == "" || c.Backup.S3.SecretKey == "" {
		errs = append(errs, errors.New("backup.s3.access_key and backup.s3.secret_key are required"))
	}
	if c.Backup.Passphrase == "" {
		errs = append(errs, errors.New("backup.passphrase (PANTRY_BACKUP_PASSPHRASE) is required"))
	}
	return errors.Join(errs...)
}
