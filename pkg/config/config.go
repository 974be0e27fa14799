package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "production"

	EnvAppEnv = "BILDUNGSLOGIN_APP_ENV"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Directory    DirectoryConfig
	Cache        CacheConfig
	Provider     ProviderConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

// Load reads configuration from the environment. Missing required connection
// parameters fail here, before any handler runs.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BILDUNGSLOGIN_APP_ENV" required:"true"`
	Port         string `envconfig:"BILDUNGSLOGIN_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BILDUNGSLOGIN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BILDUNGSLOGIN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BILDUNGSLOGIN_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BILDUNGSLOGIN_DB_DSN"`
	Driver string `envconfig:"BILDUNGSLOGIN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BILDUNGSLOGIN_DB_HOST"`
	LegacyPort     int    `envconfig:"BILDUNGSLOGIN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BILDUNGSLOGIN_DB_USER"`
	LegacyPassword string `envconfig:"BILDUNGSLOGIN_DB_PASSWORD"`
	LegacyName     string `envconfig:"BILDUNGSLOGIN_DB_NAME"`
	LegacySSLMode  string `envconfig:"BILDUNGSLOGIN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BILDUNGSLOGIN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BILDUNGSLOGIN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BILDUNGSLOGIN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BILDUNGSLOGIN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BILDUNGSLOGIN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BILDUNGSLOGIN_REDIS_ADDR"`
	Password     string        `envconfig:"BILDUNGSLOGIN_REDIS_PASSWORD"`
	DB           int           `envconfig:"BILDUNGSLOGIN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BILDUNGSLOGIN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BILDUNGSLOGIN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BILDUNGSLOGIN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BILDUNGSLOGIN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BILDUNGSLOGIN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// DirectoryConfig anchors the directory subtree all services operate on.
type DirectoryConfig struct {
	BaseDN string `envconfig:"BILDUNGSLOGIN_DIRECTORY_BASE_DN" default:"dc=bildungslogin,dc=local"`
}

// CacheConfig locates the shared read-model files and bounds query results.
type CacheConfig struct {
	File        string `envconfig:"BILDUNGSLOGIN_CACHE_FILE" default:"/var/lib/bildungslogin/license-cache.json"`
	DeltaDir    string `envconfig:"BILDUNGSLOGIN_CACHE_DELTA_DIR" default:"/var/lib/bildungslogin/deltas"`
	SearchLimit int    `envconfig:"BILDUNGSLOGIN_CACHE_SEARCH_LIMIT" default:"2000"`
}

// ProviderConfig holds the external license provider endpoints and OAuth2
// client-credentials parameters.
type ProviderConfig struct {
	AuthServer     string        `envconfig:"BILDUNGSLOGIN_PROVIDER_AUTH_SERVER"`
	ResourceServer string        `envconfig:"BILDUNGSLOGIN_PROVIDER_RESOURCE_SERVER"`
	ClientID       string        `envconfig:"BILDUNGSLOGIN_PROVIDER_CLIENT_ID"`
	ClientSecret   string        `envconfig:"BILDUNGSLOGIN_PROVIDER_CLIENT_SECRET"`
	Scope          string        `envconfig:"BILDUNGSLOGIN_PROVIDER_SCOPE" default:"licence"`
	Timeout        time.Duration `envconfig:"BILDUNGSLOGIN_PROVIDER_TIMEOUT" default:"30s"`
}

// Validate reports the first missing provider parameter. Called by the
// retrieval CLIs, which are the only consumers of the provider client.
func (p ProviderConfig) Validate() error {
	switch {
	case p.AuthServer == "":
		return fmt.Errorf("provider auth server is required")
	case p.ResourceServer == "":
		return fmt.Errorf("provider resource server is required")
	case p.ClientID == "":
		return fmt.Errorf("provider client id is required")
	case p.ClientSecret == "":
		return fmt.Errorf("provider client secret is required")
	}
	return nil
}

type CronConfig struct {
	Interval time.Duration `envconfig:"BILDUNGSLOGIN_CRON_INTERVAL" default:"1h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BILDUNGSLOGIN_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.LegacyHost == "" || db.LegacyUser == "" || db.LegacyName == "" {
		return fmt.Errorf("either BILDUNGSLOGIN_DB_DSN or BILDUNGSLOGIN_DB_HOST/USER/NAME must be set")
	}
	db.DSN = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(db.LegacyUser),
		url.QueryEscape(db.LegacyPassword),
		db.LegacyHost,
		db.LegacyPort,
		db.LegacyName,
		db.LegacySSLMode,
	)
	return nil
}
