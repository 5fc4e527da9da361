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
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	AWS          AWSConfig
	Outbox       OutboxConfig
	Cadence      CadenceConfig
	Quota        QuotaConfig
	Transport    TransportConfig
	OptOut       OptOutConfig
	Retention    RetentionConfig
	Cron         CronConfig
	API          APIConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Cadence.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Transport.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PITCHTRAIL_APP_ENV" required:"true"`
	Port         string `envconfig:"PITCHTRAIL_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PITCHTRAIL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PITCHTRAIL_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PITCHTRAIL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PITCHTRAIL_DB_DSN"`
	Driver string `envconfig:"PITCHTRAIL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PITCHTRAIL_DB_HOST"`
	LegacyPort     int    `envconfig:"PITCHTRAIL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PITCHTRAIL_DB_USER"`
	LegacyPassword string `envconfig:"PITCHTRAIL_DB_PASSWORD"`
	LegacyName     string `envconfig:"PITCHTRAIL_DB_NAME"`
	LegacySSLMode  string `envconfig:"PITCHTRAIL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PITCHTRAIL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PITCHTRAIL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PITCHTRAIL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PITCHTRAIL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PITCHTRAIL_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PITCHTRAIL_REDIS_ADDR"`
	Password     string        `envconfig:"PITCHTRAIL_REDIS_PASSWORD"`
	DB           int           `envconfig:"PITCHTRAIL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PITCHTRAIL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PITCHTRAIL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PITCHTRAIL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PITCHTRAIL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PITCHTRAIL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PITCHTRAIL_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PITCHTRAIL_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"PITCHTRAIL_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PITCHTRAIL_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"PITCHTRAIL_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PITCHTRAIL_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	CadenceTopic               string `envconfig:"PITCHTRAIL_PUBSUB_CADENCE_TOPIC" required:"true"`
	ActivitySubscription       string `envconfig:"PITCHTRAIL_PUBSUB_ACTIVITY_SUBSCRIPTION" required:"true"`
	ProposalEventsTopic        string `envconfig:"PITCHTRAIL_PUBSUB_PROPOSAL_EVENTS_TOPIC" default:"pt-proposal-events"`
	ProposalEventsSubscription string `envconfig:"PITCHTRAIL_PUBSUB_PROPOSAL_EVENTS_SUBSCRIPTION" required:"true"`
}

type AWSConfig struct {
	Region          string `envconfig:"PITCHTRAIL_AWS_REGION" default:"us-east-1"`
	AccessKeyID     string `envconfig:"PITCHTRAIL_AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"PITCHTRAIL_AWS_SECRET_ACCESS_KEY"`
}

// HasStaticCredentials reports whether explicit keys were configured instead of the default chain.
func (a AWSConfig) HasStaticCredentials() bool {
	return a.AccessKeyID != "" && a.SecretAccessKey != ""
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PITCHTRAIL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PITCHTRAIL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PITCHTRAIL_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// CadenceConfig tunes the dispatcher loop. LeaseTimeout and MaxAttempts bound how long a
// crashed worker can hold an event and how many times a transient failure is retried.
type CadenceConfig struct {
	PollInterval     time.Duration `envconfig:"PITCHTRAIL_CADENCE_POLL_INTERVAL" default:"1m"`
	LeaseTimeout     time.Duration `envconfig:"PITCHTRAIL_CADENCE_LEASE_TIMEOUT" default:"10m"`
	MaxAttempts      int           `envconfig:"PITCHTRAIL_CADENCE_MAX_ATTEMPTS" default:"5"`
	BatchSize        int           `envconfig:"PITCHTRAIL_CADENCE_BATCH_SIZE" default:"100"`
	Concurrency      int           `envconfig:"PITCHTRAIL_CADENCE_CONCURRENCY" default:"8"`
	TransportTimeout time.Duration `envconfig:"PITCHTRAIL_CADENCE_TRANSPORT_TIMEOUT" default:"30s"`
}

func (c CadenceConfig) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%s must be positive", EnvCadencePollInterval)
	}
	if c.LeaseTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvCadenceLeaseTimeout)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvCadenceMaxAttempts)
	}
	if c.TransportTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvCadenceTransportTimeout)
	}
	if c.TransportTimeout >= c.LeaseTimeout {
		return fmt.Errorf("%s must be shorter than %s", EnvCadenceTransportTimeout, EnvCadenceLeaseTimeout)
	}
	return nil
}

type QuotaConfig struct {
	// DefaultMonthlyLimit applies when an organization has no active subscription. Zero denies sending.
	DefaultMonthlyLimit int `envconfig:"PITCHTRAIL_QUOTA_DEFAULT_MONTHLY_LIMIT" default:"50"`
}

type TransportConfig struct {
	Mode        string `envconfig:"PITCHTRAIL_TRANSPORT_MODE" default:"log"`
	FromAddress string `envconfig:"PITCHTRAIL_TRANSPORT_FROM_ADDRESS"`
	FromName    string `envconfig:"PITCHTRAIL_TRANSPORT_FROM_NAME" default:"PitchTrail"`
	ConfigSet   string `envconfig:"PITCHTRAIL_TRANSPORT_SES_CONFIGURATION_SET"`
}

func (t TransportConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(t.Mode)) {
	case TransportModeLog:
		return nil
	case TransportModeSES:
		if t.FromAddress == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvTransportFromAddress, EnvTransportMode, TransportModeSES)
		}
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", EnvTransportMode, t.Mode)
	}
}

type OptOutConfig struct {
	RateLimitWindow   time.Duration `envconfig:"PITCHTRAIL_OPT_OUT_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitPerIP    int           `envconfig:"PITCHTRAIL_OPT_OUT_RATE_LIMIT_PER_IP" default:"30"`
	RateLimitPerEmail int           `envconfig:"PITCHTRAIL_OPT_OUT_RATE_LIMIT_PER_EMAIL" default:"5"`
}

type APIConfig struct {
	CORSOrigins    []string      `envconfig:"PITCHTRAIL_API_CORS_ORIGINS" default:"http://localhost:3000"`
	IdempotencyTTL time.Duration `envconfig:"PITCHTRAIL_API_IDEMPOTENCY_TTL" default:"24h"`
	ReadTimeout    time.Duration `envconfig:"PITCHTRAIL_API_READ_TIMEOUT" default:"15s"`
	WriteTimeout   time.Duration `envconfig:"PITCHTRAIL_API_WRITE_TIMEOUT" default:"30s"`
}

// CronConfig drives the cron worker cycle. The lock TTL must stay below the interval so a
// crashed holder cannot skip more than one cycle.
type CronConfig struct {
	Interval time.Duration `envconfig:"PITCHTRAIL_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"PITCHTRAIL_CRON_LOCK_TTL" default:"4m"`
}

type RetentionConfig struct {
	UsageCounterDays int `envconfig:"PITCHTRAIL_RETENTION_USAGE_COUNTER_DAYS" default:"400"`
	OutboxDays       int `envconfig:"PITCHTRAIL_RETENTION_OUTBOX_DAYS" default:"30"`
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
