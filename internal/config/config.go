package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	DatabaseMaxConns      int
	AutoMigrate           bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RedisNamespace        string
	SaleReplayTTL         time.Duration
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LogLevel              string
	LogDevelopment        bool
	Bootstrap             BootstrapConfig
}

// BootstrapConfig describes the admin account provisioned at startup when
// the user store has no account with that username yet.
type BootstrapConfig struct {
	MerchantID    string
	AdminUsername string
	AdminPassword string
}

func Load() Config {
	// A missing .env file is the normal production case.
	_ = godotenv.Load()

	tokenTTL := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	maxConns := getEnvInt("DATABASE_MAX_CONNS", 20)
	if maxConns < 1 {
		maxConns = 20
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		DatabaseMaxConns:      maxConns,
		AutoMigrate:           getEnvBool("AUTO_MIGRATE", true),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		RedisNamespace:        getEnv("REDIS_NAMESPACE", ""),
		SaleReplayTTL:         getEnvDuration("SALE_REPLAY_TTL", 24*time.Hour),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogDevelopment:        getEnvBool("LOG_DEVELOPMENT", false),
		Bootstrap: BootstrapConfig{
			MerchantID:    strings.TrimSpace(os.Getenv("BOOTSTRAP_MERCHANT_ID")),
			AdminUsername: strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_USERNAME")),
			AdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		},
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (b BootstrapConfig) Enabled() bool {
	return b.MerchantID != "" && b.AdminUsername != "" && b.AdminPassword != ""
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
