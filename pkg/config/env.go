package config

// EnvPrefix is handed to envconfig; every field carries its full name.
const EnvPrefix = "BEATDROP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv             = "BEATDROP_APP_ENV"
	EnvPort               = "BEATDROP_APP_PORT"
	EnvDBDSN              = "BEATDROP_DB_DSN"
	EnvDBHost             = "BEATDROP_DB_HOST"
	EnvDBUser             = "BEATDROP_DB_USER"
	EnvDBName             = "BEATDROP_DB_NAME"
	EnvRedisURL           = "BEATDROP_REDIS_URL"
	EnvJWTSecret          = "BEATDROP_JWT_SECRET"
	EnvJWTIssuer          = "BEATDROP_JWT_ISSUER"
	EnvBattleVotingWindow = "BEATDROP_BATTLE_VOTING_WINDOW"
	EnvBattleVoteCost     = "BEATDROP_BATTLE_VOTE_COST"
	EnvCronInterval       = "BEATDROP_CRON_INTERVAL"
	EnvCronLockTTL        = "BEATDROP_CRON_LOCK_TTL"
	EnvCronJobTimeout     = "BEATDROP_CRON_JOB_TIMEOUT"
	EnvJWTClockSkew       = "BEATDROP_JWT_CLOCK_SKEW"
)

var dsnPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
