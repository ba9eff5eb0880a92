package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the bridge.
type Config struct {
	Port string

	// MetaApi upstream (env fallback; the DB settings row takes priority)
	MetaApiToken     string
	MetaApiAccountID string
	MetaApiRegion    string

	// Price feed
	FeedMode    string // "polling", "streaming" or "sim"
	SymbolsFile string // optional YAML catalog override

	// Credential / status caching
	CredentialTTL time.Duration
	StatusTTL     time.Duration

	// Database
	DBPath string

	// Token-at-rest encryption (optional; 32-byte key, base64)
	MasterKey string

	// Auth
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Token/account: prefer the trade-specific vars, then the generic ones.
	token := os.Getenv("MT5_TRADE_TOKEN")
	if token == "" {
		token = os.Getenv("METAAPI_TOKEN")
	}
	accountID := os.Getenv("MT5_TRADE_ACCOUNT_ID")
	if accountID == "" {
		accountID = os.Getenv("METAAPI_ACCOUNT_ID")
	}

	return &Config{
		Port:             getEnv("PORT", "8080"),
		MetaApiToken:     token,
		MetaApiAccountID: accountID,
		MetaApiRegion:    getEnv("METAAPI_REGION", "new-york"),
		FeedMode:         strings.ToLower(getEnv("FEED_MODE", "polling")),
		SymbolsFile:      getEnv("SYMBOLS_FILE", ""),
		CredentialTTL:    getEnvDuration("CREDENTIAL_TTL", 30*time.Second),
		StatusTTL:        getEnvDuration("STATUS_TTL", 60*time.Second),
		DBPath:           getEnv("DB_PATH", "./data/bridge.db"),
		MasterKey:        os.Getenv("BRIDGE_MASTER_KEY"),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare integers are treated as seconds.
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
