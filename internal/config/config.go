package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config собирает все настройки сервиса из переменных окружения
type Config struct {
	Port    string
	GinMode string

	// База данных
	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	StoreDriver       string // postgres или memory
	RealtimeBackend   string // memory или redis
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	CacheEnabled      bool
	DGISAPIKey        string
	DGISCacheDuration time.Duration
	DGISDailyLimit    int
	FirebaseServerKey string
	JWTSecret         string
	LogLevel          string
	LogFormat         string
	LogFile           string
	TrackingInterval  time.Duration
	TrackingDistance  float64
	FallbackSpeedKmh  float64
}

// Load читает конфигурацию. Файл .env загружается заранее в main.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		GinMode:           getEnv("GIN_MODE", "debug"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", "password"),
		DBName:            getEnv("DB_NAME", "kidride"),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 60)) * time.Minute,
		StoreDriver:       getEnv("STORE_DRIVER", "postgres"),
		RealtimeBackend:   getEnv("REALTIME_BACKEND", "memory"),
		RedisHost:         getEnv("REDIS_HOST", "localhost"),
		RedisPort:         getEnv("REDIS_PORT", "6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		CacheEnabled:      os.Getenv("CACHE_ENABLED") == "true",
		DGISAPIKey:        os.Getenv("DGIS_API_KEY"),
		DGISCacheDuration: time.Duration(getEnvInt("DGIS_CACHE_DURATION", 86400)) * time.Second,
		DGISDailyLimit:    getEnvInt("DGIS_DAILY_LIMIT", 5000),
		FirebaseServerKey: os.Getenv("FIREBASE_SERVER_KEY"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		LogFile:           os.Getenv("LOG_FILE"),
		TrackingInterval:  time.Duration(getEnvInt("TRACKING_MIN_INTERVAL_MS", 3000)) * time.Millisecond,
		TrackingDistance:  getEnvFloat("TRACKING_MIN_DISTANCE_M", 25),
		FallbackSpeedKmh:  getEnvFloat("ETA_FALLBACK_SPEED_KMH", 30),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("не задан JWT_SECRET")
	}
	switch cfg.StoreDriver {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("неизвестный STORE_DRIVER: %q", cfg.StoreDriver)
	}
	switch cfg.RealtimeBackend {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("неизвестный REALTIME_BACKEND: %q", cfg.RealtimeBackend)
	}
	if cfg.TrackingInterval <= 0 || cfg.TrackingDistance <= 0 {
		return nil, fmt.Errorf("пороги трекинга должны быть положительными")
	}

	return cfg, nil
}

// DSN строка подключения к PostgreSQL
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// RedisAddr адрес Redis в формате host:port
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func getEnv(key, defaultValue string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val, err := strconv.Atoi(os.Getenv(key)); err == nil && val > 0 {
		return val
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if val, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && val > 0 {
		return val
	}
	return defaultValue
}
