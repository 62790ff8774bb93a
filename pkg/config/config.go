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

// Sequencer strategies for assigning revision versions.
const (
	SequencerSQL   = "sql"
	SequencerRedis = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Revisions RevisionsConfig
	Exports   ExportsConfig
	Samples   SamplesConfig
}

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxOpenConns   int
	MaxIdleConns   int
	MigrateOnStart bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RevisionsConfig tunes the revision engine.
type RevisionsConfig struct {
	Sequencer       string
	ConflictRetries int
	HistoryLimit    int
	CacheTTL        time.Duration
	EventsEnabled   bool
	EventWorkers    int
	EventRetries    int
}

// ExportsConfig toggles history export endpoints and stored export links.
type ExportsConfig struct {
	Enabled         bool
	StorageDir      string
	SigningSecret   string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// SamplesConfig toggles the bundled revisionable entity endpoints.
type SamplesConfig struct {
	Enabled bool
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
		Host:           v.GetString("DB_HOST"),
		Port:           v.GetInt("DB_PORT"),
		User:           v.GetString("DB_USER"),
		Password:       v.GetString("DB_PASSWORD"),
		Name:           v.GetString("DB_NAME"),
		SSLMode:        v.GetString("DB_SSL_MODE"),
		MaxOpenConns:   v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:   v.GetInt("DB_MAX_IDLE_CONNS"),
		MigrateOnStart: v.GetBool("DB_MIGRATE_ON_START"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	sequencer := strings.ToLower(strings.TrimSpace(v.GetString("REVISION_SEQUENCER")))
	if sequencer != SequencerRedis {
		sequencer = SequencerSQL
	}
	retries := v.GetInt("REVISION_CONFLICT_RETRIES")
	if retries < 0 {
		retries = 0
	}
	cfg.Revisions = RevisionsConfig{
		Sequencer:       sequencer,
		ConflictRetries: retries,
		HistoryLimit:    v.GetInt("REVISION_HISTORY_LIMIT"),
		CacheTTL:        parseDuration(v.GetString("REVISION_CACHE_TTL"), 5*time.Minute),
		EventsEnabled:   v.GetBool("REVISION_EVENTS_ENABLED"),
		EventWorkers:    v.GetInt("REVISION_EVENT_WORKERS"),
		EventRetries:    v.GetInt("REVISION_EVENT_RETRIES"),
	}

	signingSecret := v.GetString("EXPORT_SIGNING_SECRET")
	if signingSecret == "" {
		signingSecret = cfg.JWT.Secret
	}
	cfg.Exports = ExportsConfig{
		Enabled:         v.GetBool("ENABLE_EXPORTS"),
		StorageDir:      v.GetString("EXPORT_STORAGE_DIR"),
		SigningSecret:   signingSecret,
		ResultTTL:       parseDuration(v.GetString("EXPORT_RESULT_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORT_CLEANUP_INTERVAL"), time.Hour),
	}
	cfg.Samples = SamplesConfig{Enabled: v.GetBool("ENABLE_SAMPLE_ENTITIES")}

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
	v.SetDefault("DB_NAME", "revisions")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_MIGRATE_ON_START", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "revision-engine")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REVISION_SEQUENCER", SequencerSQL)
	v.SetDefault("REVISION_CONFLICT_RETRIES", 1)
	v.SetDefault("REVISION_HISTORY_LIMIT", 50)
	v.SetDefault("REVISION_CACHE_TTL", "5m")
	v.SetDefault("REVISION_EVENTS_ENABLED", false)
	v.SetDefault("REVISION_EVENT_WORKERS", 2)
	v.SetDefault("REVISION_EVENT_RETRIES", 3)

	v.SetDefault("ENABLE_EXPORTS", true)
	v.SetDefault("EXPORT_STORAGE_DIR", "./storage/exports")
	v.SetDefault("EXPORT_SIGNING_SECRET", "")
	v.SetDefault("EXPORT_RESULT_TTL", "24h")
	v.SetDefault("EXPORT_CLEANUP_INTERVAL", "1h")
	v.SetDefault("ENABLE_SAMPLE_ENTITIES", true)
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
