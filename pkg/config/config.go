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
	Env           string
	Port          int
	APIPrefix     string
	AppName       string
	PublicBaseURL string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Enrollment   EnrollmentConfig
	Collaborator CollaboratorConfig
	Storage      StorageConfig
	Drafts       DraftConfig
	Mail         MailConfig
	Certificates CertificateConfig
	Registrar    RegistrarConfig
	Catalog      CatalogConfig
	Feed         FeedConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	// ApplicationName tags sessions in pg_stat_activity.
	ApplicationName string
	ConnectTimeout  time.Duration
	// StartupWait bounds how long startup keeps retrying an unreachable server.
	StartupWait time.Duration
}

type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	StartupWait time.Duration
}

type JWTConfig struct {
	Secret        string
	Expiration    time.Duration
	AnonymousTTL  time.Duration
	ResetTokenTTL time.Duration
	Issuer        string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EnrollmentConfig carries the enrollment and appointment windows. Bounds are raw strings
// (RFC3339 or YYYY-MM-DD) interpreted in CampusTimezone; empty means unbounded.
type EnrollmentConfig struct {
	EnrollmentStart  string
	EnrollmentEnd    string
	AppointmentStart string
	AppointmentEnd   string
	CampusTimezone   string
	LookupField      string
}

// CollaboratorConfig bounds every call to the document store, object store and auth provider.
type CollaboratorConfig struct {
	Timeout     time.Duration
	MaxAttempts int
}

// StorageConfig controls the object store for uploaded documents and certificates.
type StorageConfig struct {
	Dir             string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	MaxUploadBytes  int64
	AllowedMIMEs    []string
}

// DraftConfig controls the application draft cache.
type DraftConfig struct {
	TTL time.Duration
}

// MailConfig configures outbound e-mail. An empty SendGridKey logs messages instead of sending.
type MailConfig struct {
	SendGridKey string
	From        string
}

// CertificateConfig tunes the certificate worker pool.
type CertificateConfig struct {
	Workers int
	Retries int
}

// RegistrarConfig seeds the back-office account.
type RegistrarConfig struct {
	Email        string
	PasswordHash string
}

// CatalogConfig governs program and fee caching.
type CatalogConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// FeedConfig names the pub/sub channels used for record snapshots.
type FeedConfig struct {
	ChannelPrefix string
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
	cfg.AppName = v.GetString("APP_NAME")
	cfg.PublicBaseURL = strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),

		ApplicationName: v.GetString("APP_NAME"),
		ConnectTimeout:  parseDuration(v.GetString("DB_CONNECT_TIMEOUT"), 5*time.Second),
		StartupWait:     parseDuration(v.GetString("DB_STARTUP_WAIT"), 30*time.Second),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),

		PoolSize:    v.GetInt("REDIS_POOL_SIZE"),
		StartupWait: parseDuration(v.GetString("REDIS_STARTUP_WAIT"), 30*time.Second),
	}

	cfg.JWT = JWTConfig{
		Secret:        v.GetString("JWT_SECRET"),
		Expiration:    parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		AnonymousTTL:  parseDuration(v.GetString("ANONYMOUS_SESSION_TTL"), 7*24*time.Hour),
		ResetTokenTTL: parseDuration(v.GetString("RESET_TOKEN_TTL"), time.Hour),
		Issuer:        v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Enrollment = EnrollmentConfig{
		EnrollmentStart:  v.GetString("ENROLLMENT_START"),
		EnrollmentEnd:    v.GetString("ENROLLMENT_END"),
		AppointmentStart: v.GetString("APPOINTMENT_START"),
		AppointmentEnd:   v.GetString("APPOINTMENT_END"),
		CampusTimezone:   v.GetString("CAMPUS_TIMEZONE"),
		LookupField:      v.GetString("STUDENT_LOOKUP_FIELD"),
	}

	attempts := v.GetInt("COLLABORATOR_MAX_ATTEMPTS")
	if attempts <= 0 {
		attempts = 3
	}
	cfg.Collaborator = CollaboratorConfig{
		Timeout:     parseDuration(v.GetString("COLLABORATOR_TIMEOUT"), 10*time.Second),
		MaxAttempts: attempts,
	}

	maxUpload := v.GetInt64("UPLOAD_MAX_BYTES")
	if maxUpload <= 0 {
		maxUpload = 5 * 1024 * 1024
	}
	cfg.Storage = StorageConfig{
		Dir:             v.GetString("STORAGE_DIR"),
		SignedURLSecret: v.GetString("STORAGE_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("STORAGE_SIGNED_URL_TTL"), 30*time.Minute),
		MaxUploadBytes:  maxUpload,
		AllowedMIMEs:    splitAndTrim(v.GetString("UPLOAD_ALLOWED_MIME_TYPES")),
	}

	cfg.Drafts = DraftConfig{TTL: parseDuration(v.GetString("DRAFT_TTL"), 30*24*time.Hour)}

	cfg.Mail = MailConfig{
		SendGridKey: v.GetString("SENDGRID_API_KEY"),
		From:        v.GetString("MAIL_FROM"),
	}

	cfg.Certificates = CertificateConfig{
		Workers: v.GetInt("CERTIFICATE_WORKERS"),
		Retries: v.GetInt("CERTIFICATE_RETRIES"),
	}

	cfg.Registrar = RegistrarConfig{
		Email:        strings.ToLower(strings.TrimSpace(v.GetString("REGISTRAR_EMAIL"))),
		PasswordHash: v.GetString("REGISTRAR_PASSWORD_HASH"),
	}

	cfg.Catalog = CatalogConfig{
		CacheEnabled: v.GetBool("ENABLE_CATALOG_CACHE"),
		CacheTTL:     parseDuration(v.GetString("CATALOG_CACHE_TTL"), 15*time.Minute),
	}

	cfg.Feed = FeedConfig{ChannelPrefix: v.GetString("FEED_CHANNEL_PREFIX")}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("APP_NAME", "EnrollEase")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "enrollease")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONNECT_TIMEOUT", "5s")
	v.SetDefault("DB_STARTUP_WAIT", "30s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 20)
	v.SetDefault("REDIS_STARTUP_WAIT", "30s")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("ANONYMOUS_SESSION_TTL", "168h")
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("JWT_ISSUER", "enrollease")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENROLLMENT_START", "")
	v.SetDefault("ENROLLMENT_END", "")
	v.SetDefault("APPOINTMENT_START", "")
	v.SetDefault("APPOINTMENT_END", "")
	v.SetDefault("CAMPUS_TIMEZONE", "Asia/Manila")
	v.SetDefault("STUDENT_LOOKUP_FIELD", "studentId")

	v.SetDefault("COLLABORATOR_TIMEOUT", "10s")
	v.SetDefault("COLLABORATOR_MAX_ATTEMPTS", 3)

	v.SetDefault("STORAGE_DIR", "./objects")
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", "30m")
	v.SetDefault("UPLOAD_MAX_BYTES", 5*1024*1024)
	v.SetDefault("UPLOAD_ALLOWED_MIME_TYPES", "image/*,application/pdf")

	v.SetDefault("DRAFT_TTL", "720h")

	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_FROM", "admissions@enrollease.local")

	v.SetDefault("CERTIFICATE_WORKERS", 1)
	v.SetDefault("CERTIFICATE_RETRIES", 3)

	v.SetDefault("REGISTRAR_EMAIL", "")
	v.SetDefault("REGISTRAR_PASSWORD_HASH", "")

	v.SetDefault("ENABLE_CATALOG_CACHE", true)
	v.SetDefault("CATALOG_CACHE_TTL", "15m")

	v.SetDefault("FEED_CHANNEL_PREFIX", "enrollease:students:")
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
