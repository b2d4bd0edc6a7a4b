package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	ServerPort string

	// AccountStore selects the ledger backend: postgres or memory.
	AccountStore string
	// PortfolioStore selects the holdings backend: sqlite or memory.
	PortfolioStore  string
	PortfolioDBPath string

	AccountServiceURL     string
	AccountServiceTimeout time.Duration

	AutoMigrate  bool
	SeedDemoData bool

	LogLevel slog.Level
	LogFile  string
}

// Load reads the configuration from the environment, after loading a .env
// file from the working directory when one exists.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DBHost:     get("DB_HOST", "localhost"),
		DBPort:     get("DB_PORT", "5432"),
		DBUser:     get("DB_USER", "postgres"),
		DBPassword: get("DB_PASSWORD", "password"),
		DBName:     get("DB_NAME", "accounts"),
		ServerPort: get("SERVER_PORT", "8080"),

		AccountStore:    strings.ToLower(get("ACCOUNT_STORE", StorePostgres)),
		PortfolioStore:  strings.ToLower(get("PORTFOLIO_STORE", StoreSQLite)),
		PortfolioDBPath: get("PORTFOLIO_DB_PATH", "portfolio.db"),

		AccountServiceURL:     get("ACCOUNT_SERVICE_URL", "http://localhost:8080"),
		AccountServiceTimeout: getDuration("ACCOUNT_SERVICE_TIMEOUT", 5*time.Second),

		AutoMigrate:  getBool("DB_AUTO_MIGRATE", true),
		SeedDemoData: getBool("SEED_DEMO_DATA", false),

		LogLevel: parseLogLevel(get("LOG_LEVEL", ""), slog.LevelInfo),
		LogFile:  get("LOG_FILE", ""),
	}
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(get(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(get(key, defaultValue.String()))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func parseLogLevel(raw string, fallback slog.Level) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
