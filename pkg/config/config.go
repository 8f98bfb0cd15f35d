package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Database   struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	// Worker holds the per-process settings shared by every phase worker.
	// A worker instance may be dedicated to a single tenant, user or
	// execution system; empty filters mean the worker claims from anyone.
	Worker struct {
		TenantID             string        `mapstructure:"TENANT_ID"`
		Username             string        `mapstructure:"USERNAME"`
		SystemID             string        `mapstructure:"SYSTEM_ID"`
		DedicatedLocal       bool          `mapstructure:"DEDICATED_LOCAL"`
		AllowFailure         bool          `mapstructure:"ALLOW_FAILURE"`
		MaxSubmissionRetries int           `mapstructure:"MAX_SUBMISSION_RETRIES"`
		StagingWindow        time.Duration `mapstructure:"STAGING_WINDOW"`
		SubmissionWindow     time.Duration `mapstructure:"SUBMISSION_WINDOW"`
		SystemCacheWindow    time.Duration `mapstructure:"SYSTEM_CACHE_WINDOW"`
		PollInterval         time.Duration `mapstructure:"POLL_INTERVAL"`
		Concurrency          int           `mapstructure:"CONCURRENCY"`
		MaxJobsPerUser       int64         `mapstructure:"MAX_JOBS_PER_USER"`
		MaxJobsPerSystem     int64         `mapstructure:"MAX_JOBS_PER_SYSTEM"`
	} `mapstructure:"WORKER"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults()

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}

	if p.Vault != nil {
		overlaySecrets(p.Vault, &cfg)
	}

	return &cfg
}

func setDefaults() {
	config.SetDefault("WORKER.MAX_SUBMISSION_RETRIES", 3)
	config.SetDefault("WORKER.STAGING_WINDOW", 7*24*time.Hour)
	config.SetDefault("WORKER.SUBMISSION_WINDOW", 30*24*time.Hour)
	config.SetDefault("WORKER.SYSTEM_CACHE_WINDOW", 30*time.Minute)
	config.SetDefault("WORKER.POLL_INTERVAL", 30*time.Second)
	config.SetDefault("WORKER.CONCURRENCY", 10)
	config.SetDefault("WORKER.MAX_JOBS_PER_USER", 50)
	config.SetDefault("WORKER.MAX_JOBS_PER_SYSTEM", 500)
}

// overlaySecrets replaces credential fields with the values held in Vault.
func overlaySecrets(client *vault.Client, cfg *Config) {
	ctx := context.Background()

	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}

	get := func(key string) string {
		if val, ok := secret.Data.Data[key].(string); ok {
			return val
		}
		return ""
	}

	cfg.Database.User = get("postgres_user")
	cfg.Database.Password = get("postgres_password")
	cfg.Redis.Password = get("redis_password")
	cfg.Minio.AccessKey = get("minio_access_key")
	cfg.Minio.SecretKey = get("minio_secret_key")
}
