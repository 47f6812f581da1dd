package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPricingConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	SnowflakeNodeID int64

	// PlatformAdmins are user ids allowed to change limits on personal quotas.
	PlatformAdmins []string

	LogLevel  string
	LogFormat string

	OTLPEndpoint      string
	OtelEnabled       bool
	OtelSamplingRatio float64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Redis RedisConfig

	UsageTrack UsageTrackConfig
	Reset      ResetScheduleConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// UsageTrackConfig bounds the per-subject rate of POST /usage/track.
type UsageTrackConfig struct {
	RateLimitEnabled bool
	Rate             float64
	Burst            int
	AlertLockTTL     time.Duration
}

// ResetScheduleConfig holds cron specs for each reset period cohort and
// for flagging usage events of closed billing periods.
type ResetScheduleConfig struct {
	Enabled      bool
	Daily        string
	Weekly       string
	Monthly      string
	Yearly       string
	CloseUsage   string
	JobTimeout   time.Duration
	RunOnStartup bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "quotaflow"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		SnowflakeNodeID: int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		PlatformAdmins:  getenvList("PLATFORM_ADMIN_USER_IDS"),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenv("LOG_FORMAT", "json")),

		OTLPEndpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OtelEnabled:       getenvBool("OTEL_ENABLED", false),
		OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "quotaflow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},

		UsageTrack: UsageTrackConfig{
			RateLimitEnabled: getenvBool("USAGE_TRACK_RATE_LIMIT_ENABLED", true),
			Rate:             getenvFloat("USAGE_TRACK_RATE", 50),
			Burst:            getenvInt("USAGE_TRACK_BURST", 100),
			AlertLockTTL:     time.Duration(getenvInt("USAGE_ALERT_LOCK_TTL_MS", 2000)) * time.Millisecond,
		},

		Reset: ResetScheduleConfig{
			Enabled: getenvBool("RESET_SCHEDULER_ENABLED", true),
			Daily:   getenv("RESET_SCHEDULE_DAILY", "0 0 * * *"),
			Weekly:  getenv("RESET_SCHEDULE_WEEKLY", "0 0 * * 1"),
			Monthly: getenv("RESET_SCHEDULE_MONTHLY", "0 0 1 * *"),
			Yearly:  getenv("RESET_SCHEDULE_YEARLY", "0 0 1 1 *"),

			CloseUsage:   getenv("USAGE_CLOSE_SCHEDULE", "*/30 * * * *"),
			JobTimeout:   time.Duration(getenvInt("SCHEDULER_JOB_TIMEOUT_SEC", 60)) * time.Second,
			RunOnStartup: getenvBool("SCHEDULER_RUN_ON_STARTUP", true),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// Debug reports whether verbose diagnostics should be emitted.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
