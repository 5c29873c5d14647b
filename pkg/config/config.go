package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Scheduling    SchedulingConfig
	Availability  AvailabilityConfig
	Notifications NotificationConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
	Namespace   string
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulingConfig holds the engine defaults applied when a teacher has no override.
type SchedulingConfig struct {
	Timezone                   string
	DefaultLeadTimeHours       int
	DefaultHorizonDays         int
	DefaultMaxOccasionalPerDay int
	DefaultCancellationHours   int
	MaxWindowDays              int
	RefundCreditValidity       time.Duration
	OverdueGrace               time.Duration
	OverdueSweepCron           string
}

// Location resolves the operating timezone, falling back to UTC.
func (c SchedulingConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AvailabilityConfig governs the read-side cache for resolved availability.
type AvailabilityConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// NotificationConfig sizes the fire-and-forget notification queue.
type NotificationConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	JobTimeout time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
		ConnMaxIdleTime: parseDuration(v.GetString("DB_CONN_MAX_IDLE_TIME"), 30*time.Minute),
		ConnectTimeout:  parseDuration(v.GetString("DB_CONNECT_TIMEOUT"), 5*time.Second),
	}

	cfg.Redis = RedisConfig{
		Host:        v.GetString("REDIS_HOST"),
		Port:        v.GetInt("REDIS_PORT"),
		Password:    v.GetString("REDIS_PASSWORD"),
		DB:          v.GetInt("REDIS_DB"),
		PoolSize:    v.GetInt("REDIS_POOL_SIZE"),
		DialTimeout: parseDuration(v.GetString("REDIS_DIAL_TIMEOUT"), 5*time.Second),
		Namespace:   v.GetString("REDIS_NAMESPACE"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduling = SchedulingConfig{
		Timezone:                   v.GetString("TIMEZONE"),
		DefaultLeadTimeHours:       v.GetInt("DEFAULT_BOOKING_LEAD_TIME_HOURS"),
		DefaultHorizonDays:         v.GetInt("DEFAULT_BOOKING_HORIZON_DAYS"),
		DefaultMaxOccasionalPerDay: v.GetInt("DEFAULT_MAX_OCCASIONAL_PER_DAY"),
		DefaultCancellationHours:   v.GetInt("DEFAULT_CANCELLATION_POLICY_HOURS"),
		MaxWindowDays:              v.GetInt("MAX_WINDOW_DAYS"),
		RefundCreditValidity:       parseDuration(v.GetString("REFUND_CREDIT_VALIDITY"), 30*24*time.Hour),
		OverdueGrace:               parseDuration(v.GetString("OVERDUE_GRACE"), 2*time.Hour),
		OverdueSweepCron:           v.GetString("OVERDUE_SWEEP_CRON"),
	}

	cfg.Availability = AvailabilityConfig{
		CacheEnabled: v.GetBool("ENABLE_AVAILABILITY_CACHE"),
		CacheTTL:     parseDuration(v.GetString("AVAILABILITY_CACHE_TTL"), time.Minute),
	}

	cfg.Notifications = NotificationConfig{
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		BufferSize: v.GetInt("NOTIFY_BUFFER"),
		MaxRetries: v.GetInt("NOTIFY_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 2*time.Second),
		JobTimeout: parseDuration(v.GetString("NOTIFY_JOB_TIMEOUT"), 10*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "tutor_scheduling")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "30m")
	v.SetDefault("DB_CONNECT_TIMEOUT", "5s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_NAMESPACE", "tutor")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("DEFAULT_BOOKING_LEAD_TIME_HOURS", 24)
	v.SetDefault("DEFAULT_BOOKING_HORIZON_DAYS", 30)
	v.SetDefault("DEFAULT_MAX_OCCASIONAL_PER_DAY", 0)
	v.SetDefault("DEFAULT_CANCELLATION_POLICY_HOURS", 24)
	v.SetDefault("MAX_WINDOW_DAYS", 93)
	v.SetDefault("REFUND_CREDIT_VALIDITY", "720h")
	v.SetDefault("OVERDUE_GRACE", "2h")
	v.SetDefault("OVERDUE_SWEEP_CRON", "*/5 * * * *")

	v.SetDefault("ENABLE_AVAILABILITY_CACHE", false)
	v.SetDefault("AVAILABILITY_CACHE_TTL", "1m")

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_BUFFER", 64)
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "2s")
	v.SetDefault("NOTIFY_JOB_TIMEOUT", "10s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
