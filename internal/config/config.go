// Package config loads server and client settings from the environment.
// A .env file in the working directory is read first when present;
// variables already set in the environment take precedence over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ServerConfig настройки reference backend'а
type ServerConfig struct {
	JWTSecret       string        `envconfig:"JWT_SECRET" required:"true"`
	Address         string        `envconfig:"SERVER_ADDRESS" default:":8090"`
	DBPath          string        `envconfig:"SERVER_DB_PATH" default:"gophsync-server.db"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"15m"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"720h"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
	RateWindow      time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	TokenCleanup    time.Duration `envconfig:"TOKEN_CLEANUP_INTERVAL" default:"1h"`
	RateLimit       int           `envconfig:"RATE_LIMIT" default:"600"`
	RequireAuth     bool          `envconfig:"REQUIRE_AUTH" default:"true"`
}

// ClientConfig настройки CLI клиента кэша.
// Флаги командной строки перекрывают эти значения.
type ClientConfig struct {
	ServerURL       string        `envconfig:"SERVER_URL" default:"http://localhost:8090"`
	DataDir         string        `envconfig:"DATA_DIR" default:""`
	LogFile         string        `envconfig:"LOG_FILE" default:""`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	ProbeInterval   time.Duration `envconfig:"PROBE_INTERVAL" default:"10s"`
	RefreshBefore   time.Duration `envconfig:"REFRESH_BEFORE" default:"5m"`
	SessionTTL      time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	ResyncBatchSize int           `envconfig:"RESYNC_BATCH_SIZE" default:"500"`
	LogMaxSizeMB    int           `envconfig:"LOG_MAX_SIZE_MB" default:"10"`
	LogMaxBackups   int           `envconfig:"LOG_MAX_BACKUPS" default:"3"`
}

// loadDotenv читает .env файлы; отсутствие файла не ошибка
func loadDotenv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadServer читает настройки сервера из окружения (префикс GOPHSYNC_)
func LoadServer(envFiles ...string) (*ServerConfig, error) {
	if err := loadDotenv(envFiles...); err != nil {
		return nil, err
	}

	var cfg ServerConfig
	if err := envconfig.Process("gophsync", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}
	return &cfg, nil
}

// LoadClient читает настройки клиента из окружения (префикс GOPHSYNC_)
func LoadClient(envFiles ...string) (*ClientConfig, error) {
	if err := loadDotenv(envFiles...); err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := envconfig.Process("gophsync", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}
	return &cfg, nil
}
