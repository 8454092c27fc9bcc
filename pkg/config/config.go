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
	JWT          JWTConfig
	Battles      BattlesConfig
	Votes        VotesConfig
	Leaderboard  LeaderboardConfig
	Cron         CronConfig
	Outbox       OutboxConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Battles.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Cron.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BEATDROP_APP_ENV" required:"true"`
	Port         string `envconfig:"BEATDROP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BEATDROP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BEATDROP_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"BEATDROP_LOG_FORMAT" default:"json"`

	CORSOrigins []string `envconfig:"BEATDROP_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BEATDROP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BEATDROP_DB_DSN"`
	Driver string `envconfig:"BEATDROP_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"BEATDROP_DB_HOST"`
	Port     int    `envconfig:"BEATDROP_DB_PORT" default:"5432"`
	User     string `envconfig:"BEATDROP_DB_USER"`
	Password string `envconfig:"BEATDROP_DB_PASSWORD"`
	Name     string `envconfig:"BEATDROP_DB_NAME"`
	SSLMode  string `envconfig:"BEATDROP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BEATDROP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BEATDROP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BEATDROP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BEATDROP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// TxRetryMaxElapsed bounds how long a transaction is retried after
	// serialization failures or deadlocks.
	TxRetryMaxElapsed time.Duration `envconfig:"BEATDROP_DB_TX_RETRY_MAX_ELAPSED" default:"2s"`
	// SlowQueryThreshold logs statements slower than this at warn. Zero
	// disables slow query logging.
	SlowQueryThreshold time.Duration `envconfig:"BEATDROP_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BEATDROP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BEATDROP_REDIS_ADDR"`
	Password     string        `envconfig:"BEATDROP_REDIS_PASSWORD"`
	DB           int           `envconfig:"BEATDROP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BEATDROP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BEATDROP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BEATDROP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BEATDROP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BEATDROP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BEATDROP_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BEATDROP_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BEATDROP_JWT_EXPIRATION_MINUTES" default:"60"`
	// ClockSkew is the leeway applied to exp, iat and nbf checks.
	ClockSkew time.Duration `envconfig:"BEATDROP_JWT_CLOCK_SKEW" default:"30s"`
}

// BattlesConfig holds the lifecycle knobs for battles and voting.
type BattlesConfig struct {
	VotingWindow   time.Duration `envconfig:"BEATDROP_BATTLE_VOTING_WINDOW" default:"144h"`
	VoteCostFlames int64         `envconfig:"BEATDROP_BATTLE_VOTE_COST" default:"1"`
	MaxTitleLength int           `envconfig:"BEATDROP_BATTLE_MAX_TITLE_LENGTH" default:"140"`
}

func (b BattlesConfig) validate() error {
	if b.VotingWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvBattleVotingWindow)
	}
	if b.VoteCostFlames <= 0 {
		return fmt.Errorf("%s must be positive", EnvBattleVoteCost)
	}
	return nil
}

type VotesConfig struct {
	RateLimitWindow time.Duration `envconfig:"BEATDROP_VOTE_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitUser   int           `envconfig:"BEATDROP_VOTE_RATE_LIMIT_USER" default:"30"`
	RateLimitIP     int           `envconfig:"BEATDROP_VOTE_RATE_LIMIT_IP" default:"120"`
}

type LeaderboardConfig struct {
	CacheTTL time.Duration `envconfig:"BEATDROP_LEADERBOARD_CACHE_TTL" default:"10m"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"BEATDROP_CRON_INTERVAL" default:"1m"`
	SweepBatchSize int           `envconfig:"BEATDROP_CRON_SWEEP_BATCH_SIZE" default:"200"`
	LockTTL        time.Duration `envconfig:"BEATDROP_CRON_LOCK_TTL" default:"5m"`
	JobTimeout     time.Duration `envconfig:"BEATDROP_CRON_JOB_TIMEOUT" default:"45s"`
}

// validate rejects a lease that could expire while a job still runs.
func (c CronConfig) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%s must be positive", EnvCronInterval)
	}
	if c.JobTimeout > 0 && c.LockTTL <= c.JobTimeout {
		return fmt.Errorf("%s must exceed %s", EnvCronLockTTL, EnvCronJobTimeout)
	}
	return nil
}

type OutboxConfig struct {
	BatchSize     int           `envconfig:"BEATDROP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	Channel       string        `envconfig:"BEATDROP_OUTBOX_CHANNEL" default:"bd:battle-events"`
	MaxAttempts   int           `envconfig:"BEATDROP_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays int           `envconfig:"BEATDROP_OUTBOX_RETENTION_DAYS" default:"30"`
	RelayTimeout  time.Duration `envconfig:"BEATDROP_OUTBOX_RELAY_TIMEOUT" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BEATDROP_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dsnPartEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
