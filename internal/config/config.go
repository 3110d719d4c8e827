package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"lending/internal/rates"
)

// Config holds the application configuration. Values come from an optional
// TOML file named by CONFIG_FILE, then environment variables override them.
type Config struct {
	Port string `toml:"port"`

	// Postgres configuration
	DatabaseURL      string `toml:"database_url"`
	DatabaseMaxConns int32  `toml:"database_max_conns"`
	UseMockDB        bool   `toml:"use_mock_db"`

	// ClickHouse audit mirror, disabled when the host is empty
	ClickHouseHost     string `toml:"clickhouse_host"`
	ClickHousePort     int    `toml:"clickhouse_port"`
	ClickHouseDatabase string `toml:"clickhouse_database"`
	ClickHouseUser     string `toml:"clickhouse_user"`
	ClickHousePassword string `toml:"clickhouse_password"`
	ClickHouseUseTLS   bool   `toml:"clickhouse_use_tls"`

	// Telegram notifier, disabled when the token is empty
	TelegramToken   string   `toml:"telegram_bot_token"`
	TelegramChatID  int64    `toml:"telegram_chat_id"`
	TelegramActions []string `toml:"telegram_actions"`

	// Exchange-rate gateway
	IndicatorBaseURL string        `toml:"indicator_base_url"`
	IndicatorCode    string        `toml:"indicator_code"`
	IndicatorTimeout time.Duration `toml:"indicator_timeout"`
	FineRatePerDay   string        `toml:"fine_rate_per_day"`

	LogLevel       string `toml:"log_level"`
	LogDevelopment bool   `toml:"log_development"`

	// Bootstrap administrator, created on startup when all three are set
	AdminName     string `toml:"admin_name"`
	AdminEmail    string `toml:"admin_email"`
	AdminPassword string `toml:"admin_password"`

	BcryptCost int `toml:"bcrypt_cost"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		Port:               "8080",
		DatabaseMaxConns:   10,
		ClickHousePort:     9000, // Default ClickHouse native port
		ClickHouseDatabase: "default",
		ClickHouseUser:     "default",
		IndicatorBaseURL:   rates.DefaultBaseURL,
		IndicatorCode:      rates.DefaultCode,
		IndicatorTimeout:   3 * time.Second,
		FineRatePerDay:     "0.01",
		LogLevel:           "info",
		BcryptCost:         bcrypt.DefaultCost,
	}
}

// FinePerDay parses FineRatePerDay
func (c *Config) FinePerDay() decimal.Decimal {
	return decimal.RequireFromString(c.FineRatePerDay)
}

// LoadFromEnv loads configuration from CONFIG_FILE and environment variables
func LoadFromEnv() (*Config, error) {
	config := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, config); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	setString("PORT", &c.Port)
	setString("DATABASE_URL", &c.DatabaseURL)
	if v := os.Getenv("DATABASE_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_MAX_CONNS: %w", err)
		}
		c.DatabaseMaxConns = int32(n)
	}
	if err := setBool("USE_MOCK_DB", &c.UseMockDB); err != nil {
		return err
	}

	setString("CLICKHOUSE_HOST", &c.ClickHouseHost)
	if err := setInt("CLICKHOUSE_PORT", &c.ClickHousePort); err != nil {
		return err
	}
	setString("CLICKHOUSE_DATABASE", &c.ClickHouseDatabase)
	setString("CLICKHOUSE_USER", &c.ClickHouseUser)
	setString("CLICKHOUSE_PASSWORD", &c.ClickHousePassword)
	if err := setBool("CLICKHOUSE_USE_TLS", &c.ClickHouseUseTLS); err != nil {
		return err
	}

	setString("TELEGRAM_BOT_TOKEN", &c.TelegramToken)
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_CHAT_ID: %s", v)
		}
		c.TelegramChatID = id
	}
	if v := os.Getenv("TELEGRAM_ACTIONS"); v != "" {
		c.TelegramActions = c.TelegramActions[:0]
		for _, action := range strings.Split(v, ",") {
			if action = strings.TrimSpace(action); action != "" {
				c.TelegramActions = append(c.TelegramActions, action)
			}
		}
	}

	setString("INDICATOR_BASE_URL", &c.IndicatorBaseURL)
	setString("INDICATOR_CODE", &c.IndicatorCode)
	if v := os.Getenv("INDICATOR_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid INDICATOR_TIMEOUT: %w", err)
		}
		c.IndicatorTimeout = d
	}
	setString("FINE_RATE_PER_DAY", &c.FineRatePerDay)

	setString("LOG_LEVEL", &c.LogLevel)
	if err := setBool("LOG_DEVELOPMENT", &c.LogDevelopment); err != nil {
		return err
	}

	setString("ADMIN_NAME", &c.AdminName)
	setString("ADMIN_EMAIL", &c.AdminEmail)
	setString("ADMIN_PASSWORD", &c.AdminPassword)
	return setInt("BCRYPT_COST", &c.BcryptCost)
}

func (c *Config) validate() error {
	if !c.UseMockDB && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when USE_MOCK_DB is not set")
	}
	if c.DatabaseMaxConns < 1 {
		return fmt.Errorf("DATABASE_MAX_CONNS must be positive")
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.IndicatorBaseURL == "" || c.IndicatorCode == "" {
		return fmt.Errorf("INDICATOR_BASE_URL and INDICATOR_CODE are required")
	}
	if c.IndicatorTimeout <= 0 {
		return fmt.Errorf("INDICATOR_TIMEOUT must be positive")
	}
	rate, err := decimal.NewFromString(c.FineRatePerDay)
	if err != nil {
		return fmt.Errorf("invalid FINE_RATE_PER_DAY: %w", err)
	}
	if rate.IsNegative() {
		return fmt.Errorf("FINE_RATE_PER_DAY must not be negative")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}
	return nil
}

// AdminConfigured reports whether a bootstrap administrator was requested
func (c *Config) AdminConfigured() bool {
	return c.AdminEmail != "" && c.AdminPassword != ""
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}
