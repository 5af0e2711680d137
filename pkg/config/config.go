package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Family       FamilyConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Mail         MailConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	CORS         CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Auth.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Family.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"KEEPLY_APP_ENV" required:"true"`
	Port         string `envconfig:"KEEPLY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"KEEPLY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KEEPLY_LOG_WARN_STACK" default:"false"`
	LogConsole   bool   `envconfig:"KEEPLY_LOG_CONSOLE" default:"false"`
	BaseURL      string `envconfig:"KEEPLY_APP_BASE_URL" default:"https://app.keeply.io"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// InviteLink builds the acceptance link embedded in invite emails.
func (a AppConfig) InviteLink(inviteID string) string {
	base := strings.TrimRight(strings.TrimSpace(a.BaseURL), "/")
	return base + "/invite?inviteId=" + url.QueryEscape(inviteID)
}

type ServiceConfig struct {
	Kind string `envconfig:"KEEPLY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"KEEPLY_DB_DSN"`
	Driver string `envconfig:"KEEPLY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"KEEPLY_DB_HOST"`
	LegacyPort     int    `envconfig:"KEEPLY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KEEPLY_DB_USER"`
	LegacyPassword string `envconfig:"KEEPLY_DB_PASSWORD"`
	LegacyName     string `envconfig:"KEEPLY_DB_NAME"`
	LegacySSLMode  string `envconfig:"KEEPLY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KEEPLY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KEEPLY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KEEPLY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KEEPLY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"KEEPLY_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KEEPLY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"KEEPLY_REDIS_ADDR"`
	Password     string        `envconfig:"KEEPLY_REDIS_PASSWORD"`
	DB           int           `envconfig:"KEEPLY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KEEPLY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KEEPLY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KEEPLY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KEEPLY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KEEPLY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// AuthConfig describes how bearer tokens issued by the identity provider are verified.
// Exactly one of Secret (HS256) or PublicKeyPEM (RS256) must be set.
type AuthConfig struct {
	Secret       string        `envconfig:"KEEPLY_AUTH_JWT_SECRET"`
	PublicKeyPEM string        `envconfig:"KEEPLY_AUTH_JWT_PUBLIC_KEY"`
	Issuer       string        `envconfig:"KEEPLY_AUTH_JWT_ISSUER" required:"true"`
	Audience     string        `envconfig:"KEEPLY_AUTH_JWT_AUDIENCE"`
	ClockSkew    time.Duration `envconfig:"KEEPLY_AUTH_CLOCK_SKEW" default:"30s"`
}

func (a AuthConfig) validate() error {
	hasSecret := strings.TrimSpace(a.Secret) != ""
	hasKey := strings.TrimSpace(a.PublicKeyPEM) != ""
	switch {
	case hasSecret && hasKey:
		return fmt.Errorf("only one of %s or %s may be set", EnvAuthSecret, EnvAuthPublicKey)
	case !hasSecret && !hasKey:
		return fmt.Errorf("either %s or %s is required", EnvAuthSecret, EnvAuthPublicKey)
	}
	return nil
}

// FamilyConfig carries the membership policy knobs.
type FamilyConfig struct {
	// StrictRoles restricts invite/remove/delete to admins; by default parent and guardian share them.
	StrictRoles      bool          `envconfig:"KEEPLY_FAMILY_STRICT_ROLES" default:"false"`
	InviteDefaultTTL time.Duration `envconfig:"KEEPLY_FAMILY_INVITE_DEFAULT_TTL" default:"72h"`
	InviteMaxTTL     time.Duration `envconfig:"KEEPLY_FAMILY_INVITE_MAX_TTL" default:"720h"`
	OperationTimeout time.Duration `envconfig:"KEEPLY_FAMILY_OP_TIMEOUT" default:"10s"`
	VersionRetries   int           `envconfig:"KEEPLY_FAMILY_VERSION_RETRIES" default:"3"`
	ReadRetries      int           `envconfig:"KEEPLY_FAMILY_READ_RETRIES" default:"2"`
}

func (f FamilyConfig) validate() error {
	if f.InviteDefaultTTL <= 0 || f.InviteMaxTTL <= 0 {
		return fmt.Errorf("invite ttl values must be positive")
	}
	if f.InviteDefaultTTL > f.InviteMaxTTL {
		return fmt.Errorf("%s exceeds %s", EnvFamilyInviteDefaultTTL, EnvFamilyInviteMaxTTL)
	}
	if f.VersionRetries < 0 || f.ReadRetries < 0 {
		return fmt.Errorf("retry budgets must not be negative")
	}
	return nil
}

type RateLimitConfig struct {
	AcceptWindow    time.Duration `envconfig:"KEEPLY_RATE_LIMIT_ACCEPT_WINDOW" default:"1m"`
	AcceptIPLimit   int           `envconfig:"KEEPLY_RATE_LIMIT_ACCEPT_IP_LIMIT" default:"30"`
	AcceptUserLimit int           `envconfig:"KEEPLY_RATE_LIMIT_ACCEPT_USER_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"KEEPLY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"KEEPLY_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	ConsumerIdempotencyTTL time.Duration `envconfig:"KEEPLY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

// MailConfig configures SES delivery; an empty FromEmail disables sending.
type MailConfig struct {
	Region    string `envconfig:"KEEPLY_MAIL_SES_REGION" default:"eu-north-1"`
	FromEmail string `envconfig:"KEEPLY_MAIL_FROM_EMAIL"`
	FromName  string `envconfig:"KEEPLY_MAIL_FROM_NAME" default:"Keeply"`
}

func (m MailConfig) Enabled() bool {
	return strings.TrimSpace(m.FromEmail) != ""
}

type GCPConfig struct {
	ProjectID              string `envconfig:"KEEPLY_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"KEEPLY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"KEEPLY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	AvatarBucket      string        `envconfig:"KEEPLY_GCS_AVATAR_BUCKET" required:"true"`
	UploadURLExpiry   time.Duration `envconfig:"KEEPLY_GCS_UPLOAD_URL_EXPIRY" default:"5m"`
	DownloadURLExpiry time.Duration `envconfig:"KEEPLY_GCS_DOWNLOAD_URL_EXPIRY" default:"15m"`
}

type PubSubConfig struct {
	DomainEventsTopic       string `envconfig:"KEEPLY_PUBSUB_DOMAIN_EVENTS_TOPIC" default:"keeply-family-events"`
	UserDeletedSubscription string `envconfig:"KEEPLY_PUBSUB_USER_DELETED_SUBSCRIPTION" default:"keeply-user-deleted-sub"`
	MaxOutstanding          int    `envconfig:"KEEPLY_PUBSUB_MAX_OUTSTANDING" default:"100"`
	ReceiveGoroutines       int    `envconfig:"KEEPLY_PUBSUB_RECEIVE_GOROUTINES" default:"2"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"KEEPLY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"KEEPLY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"KEEPLY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"KEEPLY_CRON_INTERVAL" default:"1h"`
	LockTTL         time.Duration `envconfig:"KEEPLY_CRON_LOCK_TTL" default:"10m"`
	InviteRetention time.Duration `envconfig:"KEEPLY_CRON_INVITE_RETENTION" default:"720h"`
	OutboxRetention time.Duration `envconfig:"KEEPLY_CRON_OUTBOX_RETENTION" default:"720h"`
	SweepBatchSize  int           `envconfig:"KEEPLY_CRON_SWEEP_BATCH_SIZE" default:"500"`
	JobTimeout      time.Duration `envconfig:"KEEPLY_CRON_JOB_TIMEOUT" default:"5m"`
}

type CORSConfig struct {
	AllowedOrigins []string      `envconfig:"KEEPLY_CORS_ALLOWED_ORIGINS" default:"http://localhost:5173,https://app.keeply.io"`
	MaxAge         time.Duration `envconfig:"KEEPLY_CORS_MAX_AGE" default:"5m"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DBDriverSQLite
	}
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = "file:keeply.db?cache=shared"
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
