package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "brokerage"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "BROKERAGE_DB_DSN"
	EnvDBHost = "BROKERAGE_DB_HOST"
	EnvDBUser = "BROKERAGE_DB_USER"
	EnvDBName = "BROKERAGE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App      AppConfig
	Service  ServiceConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	GCP      GCPConfig
	PubSub   PubSubConfig
	Outbox   OutboxConfig
	Eventing EventingConfig
	Ops      OpsConfig
}

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
	Env          string `envconfig:"BROKERAGE_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"BROKERAGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BROKERAGE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BROKERAGE_SERVICE_KIND" default:"worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"BROKERAGE_DB_DSN"`
	Driver string `envconfig:"BROKERAGE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BROKERAGE_DB_HOST"`
	LegacyPort     int    `envconfig:"BROKERAGE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BROKERAGE_DB_USER"`
	LegacyPassword string `envconfig:"BROKERAGE_DB_PASSWORD"`
	LegacyName     string `envconfig:"BROKERAGE_DB_NAME"`
	LegacySSLMode  string `envconfig:"BROKERAGE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BROKERAGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BROKERAGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BROKERAGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BROKERAGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BROKERAGE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BROKERAGE_REDIS_ADDR"`
	Password     string        `envconfig:"BROKERAGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"BROKERAGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BROKERAGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BROKERAGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BROKERAGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BROKERAGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BROKERAGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BROKERAGE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BROKERAGE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BROKERAGE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BROKERAGE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"BROKERAGE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BROKERAGE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic           string `envconfig:"BROKERAGE_PUBSUB_ORDERS_TOPIC" required:"true"`
	OrdersSubscription    string `envconfig:"BROKERAGE_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	PortfolioTopic        string `envconfig:"BROKERAGE_PUBSUB_PORTFOLIO_TOPIC" required:"true"`
	PortfolioSubscription string `envconfig:"BROKERAGE_PUBSUB_PORTFOLIO_SUBSCRIPTION" required:"true"`
	RealtimeTopic         string `envconfig:"BROKERAGE_PUBSUB_REALTIME_TOPIC" default:"brokerage-realtime"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BROKERAGE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BROKERAGE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BROKERAGE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type EventingConfig struct {
	IdempotencyTTL      time.Duration `envconfig:"BROKERAGE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	MaxDeliveryAttempts int           `envconfig:"BROKERAGE_EVENTING_MAX_DELIVERY_ATTEMPTS" default:"5"`
	HandlerTimeout      time.Duration `envconfig:"BROKERAGE_EVENTING_HANDLER_TIMEOUT" default:"30s"`
}

type OpsConfig struct {
	Port string `envconfig:"BROKERAGE_OPS_PORT" default:"9090"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
