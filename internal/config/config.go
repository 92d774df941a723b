package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Storage   StorageConfig   `json:"storage"`
	Rendering RenderingConfig `json:"rendering"`
	Security  SecurityConfig  `json:"security"`
	Logging   LoggingConfig   `json:"logging"`
	Worker    WorkerConfig    `json:"worker"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// StorageConfig selects where rendered certificates and template assets live.
type StorageConfig struct {
	Driver        string        `json:"driver"` // local | s3
	LocalDir      string        `json:"local_dir"`
	PublicBaseURL string        `json:"public_base_url"`
	Bucket        string        `json:"bucket"`
	Region        string        `json:"region"`
	Endpoint      string        `json:"endpoint"`
	UsePathStyle  bool          `json:"use_path_style"`
	PresignExpiry time.Duration `json:"presign_expiry"`

	// Static credentials; the default AWS chain is used when empty.
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// RenderingConfig
type RenderingConfig struct {
	Format              string        `json:"format"` // pdf | png
	CodePrefix          string        `json:"code_prefix"`
	VerificationBaseURL string        `json:"verification_base_url"`
	ProgressInterval    int           `json:"progress_interval"`
	MaxCodeAttempts     int           `json:"max_code_attempts"`
	AssetCacheTTL       time.Duration `json:"asset_cache_ttl"`
	LotPolicy           string        `json:"lot_policy"` // continue | stop
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// WorkerConfig drives the scheduled regeneration worker.
type WorkerConfig struct {
	Schedule  string `json:"schedule"`
	BatchSize int    `json:"batch_size"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// Default config
	config := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  2 * time.Minute,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "certificates",
			SSLMode:        "disable",
			MaxConnections: 20,
			MaxIdleConns:   5,
			MaxLifetime:    time.Hour,
		},
		Storage: StorageConfig{
			Driver:        "local",
			LocalDir:      "./data",
			PresignExpiry: 15 * time.Minute,
		},
		Rendering: RenderingConfig{
			Format:           "pdf",
			CodePrefix:       "CERT",
			ProgressInterval: 10,
			MaxCodeAttempts:  3,
			AssetCacheTTL:    10 * time.Minute,
			LotPolicy:        "continue",
		},
		Logging: LoggingConfig{Level: "info"},
		Worker: WorkerConfig{
			Schedule:  "@every 1m",
			BatchSize: 5,
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func overrideWithEnv(config *Config) {
	setString(&config.Server.Host, "SERVER_HOST")
	setInt(&config.Server.Port, "SERVER_PORT")

	setString(&config.Database.Host, "DATABASE_HOST")
	setInt(&config.Database.Port, "DATABASE_PORT")
	setString(&config.Database.User, "DATABASE_USER")
	setString(&config.Database.Password, "DATABASE_PASSWORD")
	setString(&config.Database.DBName, "DATABASE_DBNAME")

	setString(&config.Storage.Driver, "STORAGE_DRIVER")
	setString(&config.Storage.LocalDir, "STORAGE_LOCAL_DIR")
	setString(&config.Storage.PublicBaseURL, "STORAGE_PUBLIC_BASE_URL")
	setString(&config.Storage.Bucket, "S3_BUCKET")
	setString(&config.Storage.Region, "S3_REGION")
	setString(&config.Storage.Endpoint, "S3_ENDPOINT")
	setString(&config.Storage.AccessKeyID, "S3_ACCESS_KEY_ID")
	setString(&config.Storage.SecretAccessKey, "S3_SECRET_ACCESS_KEY")

	setString(&config.Rendering.Format, "RENDER_FORMAT")
	setString(&config.Rendering.CodePrefix, "CODE_PREFIX")
	setString(&config.Rendering.VerificationBaseURL, "VERIFICATION_BASE_URL")

	setString(&config.Security.JWTSecret, "JWT_SECRET")
	setString(&config.Logging.Level, "LOG_LEVEL")
	setString(&config.Worker.Schedule, "WORKER_SCHEDULE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local driver")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Rendering.Format {
	case "pdf", "png":
	default:
		return fmt.Errorf("unknown render format %q", c.Rendering.Format)
	}

	switch c.Rendering.LotPolicy {
	case "continue", "stop":
	default:
		return fmt.Errorf("unknown lot regeneration policy %q", c.Rendering.LotPolicy)
	}

	if c.Rendering.MaxCodeAttempts < 1 {
		return fmt.Errorf("rendering.max_code_attempts must be at least 1")
	}
	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
