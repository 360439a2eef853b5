// internal/config/config.go
package config

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig
	App       AppConfig
	Cache     CacheConfig
	Pipeline  PipelineConfig
	Scheduler SchedulerConfig
	Storage   StorageConfig
	Log       LogConfig
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

type AppConfig struct {
	DataDir string
}

type CacheConfig struct {
	Enabled           bool
	RedisURL          string
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	MetricsTTLSeconds int
}

// PipelineConfig drives a single forecasting pass.
type PipelineConfig struct {
	Workers                 int
	RetryAttempts           int
	RetryBackoffMillis      int
	RetryMaxBackoffMillis   int
	SuppressZeroProjections bool
}

type SchedulerConfig struct {
	IntervalSeconds int
	Timezone        string
	DistributedLock bool
	LockKey         string
	LockTTLSeconds  int
	RunOnStart      bool
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
}

type LogConfig struct {
	Level string
	JSON  bool
}

var (
	once     sync.Once
	instance *Config
)

func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		setDefaults()

		// Read from environment variables
		viper.AutomaticEnv()

		ensureDir(viper.GetString("APP_DATA_DIR"))

		instance = fromViper()
	})

	return instance
}

func setDefaults() {
	viper.SetDefault("DATABASE_URL", "")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "postgres")
	viper.SetDefault("DB_PASSWORD", "postgres")
	viper.SetDefault("DB_NAME", "stockcast")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_CONNS", 25)
	viper.SetDefault("APP_DATA_DIR", "./data/output")
	viper.SetDefault("CACHE_ENABLED", false)
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("REDIS_HOST", "127.0.0.1")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("CACHE_METRICS_TTL_SECONDS", 300)
	viper.SetDefault("PIPELINE_WORKERS", 4)
	viper.SetDefault("PIPELINE_RETRY_ATTEMPTS", 5)
	viper.SetDefault("PIPELINE_RETRY_BACKOFF_MS", 2000)
	viper.SetDefault("PIPELINE_RETRY_MAX_BACKOFF_MS", 30000)
	viper.SetDefault("PIPELINE_SUPPRESS_ZERO_PROJECTIONS", false)
	viper.SetDefault("SCHEDULER_INTERVAL_SECONDS", 300)
	viper.SetDefault("SCHEDULER_TIMEZONE", "America/New_York")
	viper.SetDefault("SCHEDULER_DISTRIBUTED_LOCK", false)
	viper.SetDefault("SCHEDULER_LOCK_KEY", "lock:stockcast:pass")
	viper.SetDefault("SCHEDULER_LOCK_TTL_SECONDS", 900)
	viper.SetDefault("SCHEDULER_RUN_ON_START", true)
	viper.SetDefault("STORAGE_ENABLED", false)
	viper.SetDefault("STORAGE_REGION", "us-east-1")
	viper.SetDefault("STORAGE_USE_SSL", true)
	viper.SetDefault("STORAGE_PREFIX", "exports/")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_JSON", false)
}

func fromViper() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:      viper.GetString("DATABASE_URL"),
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			DBName:   viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
			MaxConns: viper.GetInt("DB_MAX_CONNS"),
		},
		App: AppConfig{
			DataDir: viper.GetString("APP_DATA_DIR"),
		},
		Cache: CacheConfig{
			Enabled:           viper.GetBool("CACHE_ENABLED"),
			RedisURL:          viper.GetString("REDIS_URL"),
			RedisHost:         viper.GetString("REDIS_HOST"),
			RedisPort:         viper.GetString("REDIS_PORT"),
			RedisPassword:     viper.GetString("REDIS_PASSWORD"),
			RedisDB:           viper.GetInt("REDIS_DB"),
			MetricsTTLSeconds: viper.GetInt("CACHE_METRICS_TTL_SECONDS"),
		},
		Pipeline: PipelineConfig{
			Workers:                 viper.GetInt("PIPELINE_WORKERS"),
			RetryAttempts:           viper.GetInt("PIPELINE_RETRY_ATTEMPTS"),
			RetryBackoffMillis:      viper.GetInt("PIPELINE_RETRY_BACKOFF_MS"),
			RetryMaxBackoffMillis:   viper.GetInt("PIPELINE_RETRY_MAX_BACKOFF_MS"),
			SuppressZeroProjections: viper.GetBool("PIPELINE_SUPPRESS_ZERO_PROJECTIONS"),
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds: viper.GetInt("SCHEDULER_INTERVAL_SECONDS"),
			Timezone:        viper.GetString("SCHEDULER_TIMEZONE"),
			DistributedLock: viper.GetBool("SCHEDULER_DISTRIBUTED_LOCK"),
			LockKey:         viper.GetString("SCHEDULER_LOCK_KEY"),
			LockTTLSeconds:  viper.GetInt("SCHEDULER_LOCK_TTL_SECONDS"),
			RunOnStart:      viper.GetBool("SCHEDULER_RUN_ON_START"),
		},
		Storage: StorageConfig{
			Enabled:   viper.GetBool("STORAGE_ENABLED"),
			Endpoint:  viper.GetString("STORAGE_ENDPOINT"),
			AccessKey: viper.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: viper.GetString("STORAGE_SECRET_KEY"),
			Bucket:    viper.GetString("STORAGE_BUCKET"),
			Region:    viper.GetString("STORAGE_REGION"),
			UseSSL:    viper.GetBool("STORAGE_USE_SSL"),
			Prefix:    viper.GetString("STORAGE_PREFIX"),
		},
		Log: LogConfig{
			Level: viper.GetString("LOG_LEVEL"),
			JSON:  viper.GetBool("LOG_JSON"),
		},
	}
}

// Interval returns the scheduler tick as a duration.
func (c SchedulerConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Location resolves the scheduler timezone, falling back to UTC.
func (c SchedulerConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("unknown timezone %q, using UTC: %v", c.Timezone, err)
		return time.UTC
	}
	return loc
}

func ensureDir(dir string) {
	if dir == "" {
		return
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}
}
