package server

import (
	"time"

	"github.com/eteran/meshvault/internal/auth"
	"github.com/eteran/meshvault/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
)

const DefaultMaxUploadMemory = 32 << 20

type Config struct {
	DataDir         string
	Engine          storage.Store
	DatabaseDriver  string
	DatabaseDSN     string
	Authenticator   auth.AuthEngine
	AdminSecret     string
	TokenSecret     string
	TokenTTL        time.Duration
	MaxUploadMemory int64
	Registry        *prometheus.Registry
}

type ConfigOption func(*Config)

func WithDataDir(dataDir string) ConfigOption {
	return func(cfg *Config) {
		cfg.DataDir = dataDir
	}
}

func WithStorageEngine(engine storage.Store) ConfigOption {
	return func(cfg *Config) {
		cfg.Engine = engine
	}
}

// WithDatabase selects the SQL driver ("sqlite3" or "pgx") and its DSN.
func WithDatabase(driver string, dsn string) ConfigOption {
	return func(cfg *Config) {
		cfg.DatabaseDriver = driver
		cfg.DatabaseDSN = dsn
	}
}

// WithAuthEngine replaces the default shared secret and token engines.
func WithAuthEngine(authenticator auth.AuthEngine) ConfigOption {
	return func(cfg *Config) {
		cfg.Authenticator = authenticator
	}
}

func WithAdminSecret(secret string) ConfigOption {
	return func(cfg *Config) {
		cfg.AdminSecret = secret
	}
}

func WithTokenSecret(secret string) ConfigOption {
	return func(cfg *Config) {
		cfg.TokenSecret = secret
	}
}

func WithTokenTTL(ttl time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.TokenTTL = ttl
	}
}

// WithMaxUploadMemory bounds how much of a multipart upload is held in
// memory before the rest spills to temporary files.
func WithMaxUploadMemory(n int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxUploadMemory = n
	}
}

func WithRegistry(reg *prometheus.Registry) ConfigOption {
	return func(cfg *Config) {
		cfg.Registry = reg
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
