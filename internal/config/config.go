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
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string
	DBAutoMigrate bool
	ServerPort    string
	StoreDriver   string

	WalletEndpoint       string
	LendingEndpoint      string
	UserEndpoint         string
	OwnerEndpoint        string
	NotificationEndpoint string
	ServiceToken         string

	SadadEndpoint         string
	SadadUser             string
	SadadPassword         string
	SadadEntityActivityID string
	SadadIntentExpiry     time.Duration

	EasypaisaUsername     string
	EasypaisaPassword     string
	EasypaisaBankMnemonic string
	TopupIntentTTL        time.Duration

	RetryTimeout    time.Duration
	RetryMaxRetries int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	ReportSender    string
	ReportCCEmails  []string
	AWSRegion       string
	PrevalidateSize int
}

// Load reads configuration from the environment, after merging a .env file if present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	return &Config{
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "password"),
		DBName:        getEnv("DB_NAME", "payments"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		DBAutoMigrate: getBool("DB_AUTO_MIGRATE", true),
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		StoreDriver:   getEnv("STORE_DRIVER", StoreDriverPostgres),

		WalletEndpoint:       getEnv("WALLET_ENDPOINT", "http://localhost:8081/wallet"),
		LendingEndpoint:      getEnv("BNPL_WALLET_ENDPOINT", "http://localhost:8082"),
		UserEndpoint:         getEnv("USER_ENDPOINT", "http://localhost:8083/users"),
		OwnerEndpoint:        getEnv("OPE_ENDPOINT", "http://localhost:8084/orders/payment"),
		NotificationEndpoint: getEnv("NOTIFICATION_ENDPOINT", "http://localhost:8085/notifications"),
		ServiceToken:         getEnv("SERVICE_TOKEN", ""),

		SadadEndpoint:         getEnv("EEFA_ENDPOINT", "http://localhost:8086/eefa"),
		SadadUser:             getEnv("EEFA_USER", ""),
		SadadPassword:         getEnv("EEFA_PASS", ""),
		SadadEntityActivityID: getEnv("EEFA_ENTITY_ACTIVITY_ID", ""),
		SadadIntentExpiry:     getDays("SADAD_INTENT_EXPIRY_DAYS", 2),

		EasypaisaUsername:     getEnv("EASYPAISA_USERNAME", ""),
		EasypaisaPassword:     getEnv("EASYPAISA_PASSWORD", ""),
		EasypaisaBankMnemonic: getEnv("EASYPAISA_BANK_MNEMONIC", ""),
		TopupIntentTTL:        getDays("EXPIRE_TOPUP_INTENT", 2),

		RetryTimeout:    getDuration("RETRY_TIMEOUT", 30*time.Second),
		RetryMaxRetries: getInt("RETRY_MAX_RETRIES", 3),
		RetryBaseDelay:  getDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:   getDuration("RETRY_MAX_DELAY", 60*time.Second),

		BreakerMaxFailures: uint32(getInt("BREAKER_MAX_FAILURES", 5)),
		BreakerOpenTimeout: getDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),

		ReportSender:    getEnv("AWS_SES_EMAIL", ""),
		ReportCCEmails:  splitList(getEnv("BULK_TOPUP_CC_EMAILS", "")),
		AWSRegion:       getEnv("REGION", "us-east-1"),
		PrevalidateSize: getInt("PREVALIDATE_CONCURRENCY", 10),
	}
}

func (c *Config) GetDBConnectionString() string {
	sslMode := c.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, sslMode)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

// getDays reads a whole number of days.
func getDays(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * 24 * time.Hour
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
