package config

const (
	EnvPrefix = "KEEPLY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	EnvAppEnv    = "KEEPLY_APP_ENV"
	EnvPort      = "KEEPLY_APP_PORT"
	EnvLogLevel  = "KEEPLY_LOG_LEVEL"
	EnvAppBase   = "KEEPLY_APP_BASE_URL"
	EnvUseSQLite = "KEEPLY_USE_SQLITE"

	EnvDBDSN  = "KEEPLY_DB_DSN"
	EnvDBHost = "KEEPLY_DB_HOST"
	EnvDBUser = "KEEPLY_DB_USER"
	EnvDBName = "KEEPLY_DB_NAME"

	EnvRedisURL = "KEEPLY_REDIS_URL"

	EnvAuthSecret    = "KEEPLY_AUTH_JWT_SECRET"
	EnvAuthPublicKey = "KEEPLY_AUTH_JWT_PUBLIC_KEY"
	EnvAuthIssuer    = "KEEPLY_AUTH_JWT_ISSUER"

	EnvFamilyStrictRoles      = "KEEPLY_FAMILY_STRICT_ROLES"
	EnvFamilyInviteDefaultTTL = "KEEPLY_FAMILY_INVITE_DEFAULT_TTL"
	EnvFamilyInviteMaxTTL     = "KEEPLY_FAMILY_INVITE_MAX_TTL"

	EnvMailFrom = "KEEPLY_MAIL_FROM_EMAIL"

	EnvGCPProjectID = "KEEPLY_GCP_PROJECT_ID"
	EnvGCSBucket    = "KEEPLY_GCS_AVATAR_BUCKET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
