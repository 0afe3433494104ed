package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DBDriver        string        `mapstructure:"DB_DRIVER"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	SQLitePath      string        `mapstructure:"SQLITE_PATH"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	ExportStore     string        `mapstructure:"EXPORT_STORE"`
	ExportDir       string        `mapstructure:"EXPORT_DIR"`
	MinioEndpoint   string        `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey  string        `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey  string        `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket     string        `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL     bool          `mapstructure:"MINIO_USE_SSL"`
	LookupsFile     string        `mapstructure:"LOOKUPS_FILE"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	TransferTimeout time.Duration `mapstructure:"TRANSFER_TIMEOUT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("SQLITE_PATH", "dmp.db")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("EXPORT_STORE", "file")
	v.SetDefault("EXPORT_DIR", "data/exports")
	v.SetDefault("MINIO_BUCKET", "dmp-exports")
	v.SetDefault("BODY_LIMIT", "10M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("TRANSFER_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DB_DRIVER")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("SQLITE_PATH")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("EXPORT_STORE")
	v.BindEnv("EXPORT_DIR")
	v.BindEnv("MINIO_ENDPOINT")
	v.BindEnv("MINIO_ACCESS_KEY")
	v.BindEnv("MINIO_SECRET_KEY")
	v.BindEnv("MINIO_BUCKET")
	v.BindEnv("MINIO_USE_SSL")
	v.BindEnv("LOOKUPS_FILE")
	v.BindEnv("BODY_LIMIT")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("TRANSFER_TIMEOUT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); console logging enabled.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks the driver and export-store settings. Postgres needs
// DATABASE_URL, SQLite needs SQLITE_PATH, and the MinIO store needs an
// endpoint and a bucket.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER is \"postgres\"")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER is \"sqlite\"")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be \"postgres\" or \"sqlite\", got %q", c.DBDriver)
	}

	switch c.ExportStore {
	case "file":
		if c.ExportDir == "" {
			return fmt.Errorf("EXPORT_DIR is required when EXPORT_STORE is \"file\"")
		}
	case "minio":
		if c.MinioEndpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required when EXPORT_STORE is \"minio\"")
		}
		if c.MinioBucket == "" {
			return fmt.Errorf("MINIO_BUCKET is required when EXPORT_STORE is \"minio\"")
		}
	default:
		return fmt.Errorf("EXPORT_STORE must be \"file\" or \"minio\", got %q", c.ExportStore)
	}

	if c.TransferTimeout < 0 {
		return fmt.Errorf("TRANSFER_TIMEOUT must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}

	return nil
}
