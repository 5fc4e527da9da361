package config

const (
	EnvPrefix = "PITCHTRAIL"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	TransportModeLog = "log"
	TransportModeSES = "ses"
)

const (
	EnvAppEnv   = "PITCHTRAIL_APP_ENV"
	EnvPort     = "PITCHTRAIL_APP_PORT"
	EnvLogLevel = "PITCHTRAIL_LOG_LEVEL"

	EnvDBDSN  = "PITCHTRAIL_DB_DSN"
	EnvDBHost = "PITCHTRAIL_DB_HOST"
	EnvDBUser = "PITCHTRAIL_DB_USER"
	EnvDBName = "PITCHTRAIL_DB_NAME"

	EnvRedisURL = "PITCHTRAIL_REDIS_URL"

	EnvGCPProjectID              = "PITCHTRAIL_GCP_PROJECT_ID"
	EnvPubSubCadenceTopic        = "PITCHTRAIL_PUBSUB_CADENCE_TOPIC"
	EnvPubSubActivitySub         = "PITCHTRAIL_PUBSUB_ACTIVITY_SUBSCRIPTION"
	EnvPubSubProposalEventsTopic = "PITCHTRAIL_PUBSUB_PROPOSAL_EVENTS_TOPIC"
	EnvPubSubProposalEventsSub   = "PITCHTRAIL_PUBSUB_PROPOSAL_EVENTS_SUBSCRIPTION"
	EnvCadencePollInterval       = "PITCHTRAIL_CADENCE_POLL_INTERVAL"
	EnvCadenceLeaseTimeout       = "PITCHTRAIL_CADENCE_LEASE_TIMEOUT"
	EnvCadenceMaxAttempts        = "PITCHTRAIL_CADENCE_MAX_ATTEMPTS"
	EnvCadenceTransportTimeout   = "PITCHTRAIL_CADENCE_TRANSPORT_TIMEOUT"
	EnvQuotaDefaultMonthlyLimit  = "PITCHTRAIL_QUOTA_DEFAULT_MONTHLY_LIMIT"
	EnvTransportMode             = "PITCHTRAIL_TRANSPORT_MODE"
	EnvTransportFromAddress      = "PITCHTRAIL_TRANSPORT_FROM_ADDRESS"
	EnvOptOutRateLimitPerIP      = "PITCHTRAIL_OPT_OUT_RATE_LIMIT_PER_IP"
	EnvRetentionUsageCounterDays = "PITCHTRAIL_RETENTION_USAGE_COUNTER_DAYS"
	EnvEventingIdempotencyTTL    = "PITCHTRAIL_EVENTING_IDEMPOTENCY_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
