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
	Environment  string
	AccountEmail string
	UserAliases  []string
	DBHost       string
	DBPort       string
	DBUsername   string
	DBPassword   string
	DBName       string
	DBSSLMode    string
	Port         string
	SyncInterval time.Duration
	// OAuthTokenFile holds a JSON-encoded oauth2.Token for the account,
	// optionally sealed with TokenEncryptionKey.
	OAuthTokenFile    string
	OAuthClientID     string
	OAuthClientSecret string
	// TokenEncryptionKey is a base64-encoded 32-byte key. When set, the token
	// file is expected to be AES-GCM encrypted at rest.
	TokenEncryptionKey    string
	FetchConcurrency      int
	MaxChangeLogPages     int
	ActionMaxRetries      int
	ActionBackoffInterval time.Duration
}

func NewConfig() (*Config, error) {
	env := os.Getenv("INBOXD_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:           env,
		AccountEmail:          os.Getenv("INBOXD_ACCOUNT_EMAIL"),
		UserAliases:           splitList(os.Getenv("INBOXD_USER_ALIASES")),
		DBHost:                getEnvOrDefault("INBOXD_DB_HOST", "localhost"),
		DBPort:                getEnvOrDefault("INBOXD_DB_PORT", "5432"),
		DBUsername:            getEnvOrDefault("INBOXD_DB_USER", "inboxd"),
		DBPassword:            os.Getenv("INBOXD_DB_PASSWORD"),
		DBName:                getEnvOrDefault("INBOXD_DB_NAME", "inboxd"),
		DBSSLMode:             getEnvOrDefault("INBOXD_DB_SSLMODE", "disable"),
		Port:                  getEnvOrDefault("PORT", "8080"),
		SyncInterval:          getEnvDuration("INBOXD_SYNC_INTERVAL", 5*time.Minute),
		OAuthTokenFile:        os.Getenv("INBOXD_OAUTH_TOKEN_FILE"),
		OAuthClientID:         os.Getenv("INBOXD_OAUTH_CLIENT_ID"),
		OAuthClientSecret:     os.Getenv("INBOXD_OAUTH_CLIENT_SECRET"),
		TokenEncryptionKey:    os.Getenv("INBOXD_TOKEN_ENCRYPTION_KEY"),
		FetchConcurrency:      getEnvInt("INBOXD_FETCH_CONCURRENCY", 4),
		MaxChangeLogPages:     getEnvInt("INBOXD_MAX_CHANGELOG_PAGES", 20),
		ActionMaxRetries:      getEnvInt("INBOXD_ACTION_MAX_RETRIES", 5),
		ActionBackoffInterval: getEnvDuration("INBOXD_ACTION_BACKOFF_INTERVAL", 2*time.Second),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.AccountEmail == "" {
		return fmt.Errorf("INBOXD_ACCOUNT_EMAIL is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("INBOXD_DB_PASSWORD is required")
	}

	if c.OAuthTokenFile == "" {
		return fmt.Errorf("INBOXD_OAUTH_TOKEN_FILE is required")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// AllAliases returns the account address plus every configured alias.
func (c *Config) AllAliases() []string {
	return append([]string{c.AccountEmail}, c.UserAliases...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		fmt.Printf("Warning: invalid value for %s: %q, using default\n", key, value)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		fmt.Printf("Warning: invalid value for %s: %q, using default\n", key, value)
		return defaultValue
	}
	return d
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
