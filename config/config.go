package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type HTTP struct {
	Addr        string   `yaml:"addr" env:"HTTP_ADDR"`
	CORSOrigins []string `yaml:"corsOrigins" env:"CORS_ORIGINS" envSeparator:","`
}

type Store struct {
	Backend     string `yaml:"backend" env:"STORE_BACKEND"` // postgres|sqlite
	PostgresDSN string `yaml:"postgresDsn" env:"POSTGRES_DSN"`
	SQLitePath  string `yaml:"sqlitePath" env:"SQLITE_PATH"`
}

type NATS struct {
	URL string `yaml:"url" env:"NATS_URL"` // пусто — однопроцессный режим
}

type Profile struct {
	BaseURL string `yaml:"baseUrl" env:"PROFILE_URL"`
}

type Expo struct {
	URL string `yaml:"url" env:"EXPO_URL"` // пусто — дефолтный exp.host
}

type Uploads struct {
	Dir       string `yaml:"dir" env:"UPLOADS_DIR"`
	MaxSizeMB int64  `yaml:"maxSizeMb" env:"UPLOADS_MAX_SIZE_MB"`
}

type Logging struct {
	Env       string `yaml:"env" env:"LOG_ENV"`         // dev|prod
	Service   string `yaml:"service" env:"LOG_SERVICE"` // chat-service
	Version   string `yaml:"version" env:"LOG_VERSION"`
	Backend   string `yaml:"backend" env:"LOG_BACKEND"` // std|zap
	AddSource bool   `yaml:"addSource" env:"LOG_ADD_SOURCE"`
	Debug     bool   `yaml:"debug" env:"LOG_DEBUG"`
}

type Config struct {
	HTTP    HTTP    `yaml:"http"`
	Store   Store   `yaml:"store"`
	NATS    NATS    `yaml:"nats"`
	Profile Profile `yaml:"profile"`
	Expo    Expo    `yaml:"expo"`
	Uploads Uploads `yaml:"uploads"`
	Logging Logging `yaml:"logging"`
}

// LoadConfig: yaml (CONFIG_PATH) -> .env (dev) -> переменные окружения.
// Окружение перекрывает файл.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.Getenv("CONFIG_PATH") != "" {
		// путь задан явно — файл обязан читаться
		return nil, err
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendSQLite
	}
	switch c.Store.Backend {
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgresDsn is required for the postgres backend")
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			c.Store.SQLitePath = "./chat.db"
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "./uploads"
	}
	if c.Uploads.MaxSizeMB <= 0 {
		c.Uploads.MaxSizeMB = 10
	}
	// дефолты логгера
	if c.Logging.Service == "" {
		c.Logging.Service = "chat-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	return nil
}
