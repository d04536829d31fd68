package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eteran/meshvault/internal/database"
	"github.com/eteran/meshvault/internal/server"
	"github.com/eteran/meshvault/internal/storage"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "MESHVAULT"

// Config is everything the command line, environment and config file can
// set. Keys match the flag names; the environment uses MESHVAULT_ plus the
// key in upper case with dashes turned into underscores.
type Config struct {
	DataDir  string `mapstructure:"data-dir"`
	LogLevel string `mapstructure:"log-level"`

	Listen      string `mapstructure:"listen"`
	HTTPSListen string `mapstructure:"https-listen"`
	TLSCert     string `mapstructure:"tls-cert"`
	TLSKey      string `mapstructure:"tls-key"`

	Storage         string `mapstructure:"storage"`
	DBDriver        string `mapstructure:"db-driver"`
	DBDSN           string `mapstructure:"db-dsn"`
	MaxUploadMemory int64  `mapstructure:"max-upload-memory"`

	S3Endpoint  string `mapstructure:"s3-endpoint"`
	S3Region    string `mapstructure:"s3-region"`
	S3Bucket    string `mapstructure:"s3-bucket"`
	S3AccessKey string `mapstructure:"s3-access-key"`
	S3SecretKey string `mapstructure:"s3-secret-key"`
	S3UseSSL    bool   `mapstructure:"s3-use-ssl"`
	S3PathStyle bool   `mapstructure:"s3-path-style"`

	AdminSecret string        `mapstructure:"admin-secret"`
	TokenSecret string        `mapstructure:"token-secret"`
	TokenTTL    time.Duration `mapstructure:"token-ttl"`
}

// newViper returns a viper instance reading MESHVAULT_* variables, with
// defaults for the keys that have no flag.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("s3-endpoint", "")
	v.SetDefault("s3-region", "")
	v.SetDefault("s3-bucket", "meshvault")
	v.SetDefault("s3-access-key", "")
	v.SetDefault("s3-secret-key", "")
	v.SetDefault("s3-use-ssl", true)
	v.SetDefault("s3-path-style", false)
	v.SetDefault("admin-secret", "")
	v.SetDefault("token-secret", "")
	v.SetDefault("token-ttl", time.Hour)
	v.SetDefault("max-upload-memory", server.DefaultMaxUploadMemory)
	return v
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	if err := v.BindPFlags(flags); err != nil {
		// Only fails for a nil flag, which would be a programming error.
		panic(err)
	}
}

// loadConfig reads the optional .env and config files and decodes the
// merged settings.
func loadConfig(v *viper.Viper, configFile string) (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.DataDir != "" {
		abs, err := filepath.Abs(cfg.DataDir)
		if err != nil {
			return Config{}, fmt.Errorf("failed to resolve data directory: %w", err)
		}
		cfg.DataDir = abs
	}

	return cfg, nil
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           lvl,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    lvl == log.DebugLevel,
	})

	slog.SetDefault(slog.New(handler))
	return nil
}

func (c Config) storageEngine(ctx context.Context) (storage.Store, error) {
	switch c.Storage {
	case "", "local":
		// server.NewServer creates local storage under the data dir.
		return nil, nil
	case "memory":
		slog.Warn("Using in-memory storage, blobs will be lost on exit")
		return storage.NewMemoryStorage(), nil
	case "s3":
		engine, err := storage.NewMinioStorage(ctx, storage.MinioConfig{
			Endpoint:  c.S3Endpoint,
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			UseSSL:    c.S3UseSSL,
			PathStyle: c.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("unknown storage %q (want local, s3 or memory)", c.Storage)
	}
}

// openServer builds a server.Server from the configuration. The caller must
// Close it.
func (c Config) openServer(ctx context.Context) (*server.Server, error) {
	if c.DBDriver == database.DriverPostgres && c.DBDSN == "" {
		return nil, errors.New("--db-dsn is required for the pgx driver")
	}

	engine, err := c.storageEngine(ctx)
	if err != nil {
		return nil, err
	}

	opts := []server.ConfigOption{
		server.WithDataDir(c.DataDir),
		server.WithDatabase(c.DBDriver, c.DBDSN),
		server.WithAdminSecret(c.AdminSecret),
		server.WithTokenSecret(c.TokenSecret),
		server.WithTokenTTL(c.TokenTTL),
		server.WithMaxUploadMemory(c.MaxUploadMemory),
	}
	if engine != nil {
		opts = append(opts, server.WithStorageEngine(engine))
	}

	srv, err := server.NewServer(ctx, server.NewConfig(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create meshvault server: %w", err)
	}
	return srv, nil
}
