package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"lending/internal/rates"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("USE_MOCK_DB", "true")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 9000, cfg.ClickHousePort)
	assert.Equal(t, "uf", cfg.IndicatorCode)
	assert.Equal(t, rates.DefaultCode, cfg.IndicatorCode)
	assert.Equal(t, rates.DefaultBaseURL, cfg.IndicatorBaseURL)
	assert.Equal(t, 3*time.Second, cfg.IndicatorTimeout)
	assert.Equal(t, "0.01", cfg.FinePerDay().String())
	assert.False(t, cfg.AdminConfigured())
}

func TestLoadFromEnv_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("USE_MOCK_DB", "")
	t.Setenv("DATABASE_URL", "")

	_, err := LoadFromEnv()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://lending@localhost/lending")
	t.Setenv("DATABASE_MAX_CONNS", "4")
	t.Setenv("CLICKHOUSE_HOST", "ch.internal")
	t.Setenv("CLICKHOUSE_PORT", "9440")
	t.Setenv("CLICKHOUSE_USE_TLS", "true")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "-1001")
	t.Setenv("TELEGRAM_ACTIONS", "PRESTAMO_CREADO, DEVOLUCION,")
	t.Setenv("INDICATOR_TIMEOUT", "2s")
	t.Setenv("FINE_RATE_PER_DAY", "0.02")
	t.Setenv("ADMIN_EMAIL", "root@example.com")
	t.Setenv("ADMIN_PASSWORD", "secret")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, int32(4), cfg.DatabaseMaxConns)
	assert.Equal(t, "ch.internal", cfg.ClickHouseHost)
	assert.Equal(t, 9440, cfg.ClickHousePort)
	assert.True(t, cfg.ClickHouseUseTLS)
	assert.Equal(t, int64(-1001), cfg.TelegramChatID)
	assert.Equal(t, []string{"PRESTAMO_CREADO", "DEVOLUCION"}, cfg.TelegramActions)
	assert.Equal(t, 2*time.Second, cfg.IndicatorTimeout)
	assert.Equal(t, "0.02", cfg.FinePerDay().String())
	assert.True(t, cfg.AdminConfigured())
}

func TestLoadFromEnv_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lending.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
port = "9090"
use_mock_db = true
indicator_code = "dolar"
indicator_timeout = "4s"
telegram_actions = ["PRESTAMO_DEL"]
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port, "env overrides file")
	assert.True(t, cfg.UseMockDB)
	assert.Equal(t, "dolar", cfg.IndicatorCode)
	assert.Equal(t, 4*time.Second, cfg.IndicatorTimeout)
	assert.Equal(t, []string{"PRESTAMO_DEL"}, cfg.TelegramActions)
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad port", "CLICKHOUSE_PORT", "abc"},
		{"bad bool", "CLICKHOUSE_USE_TLS", "maybe"},
		{"bad chat id", "TELEGRAM_CHAT_ID", "chat"},
		{"bad timeout", "INDICATOR_TIMEOUT", "soon"},
		{"negative fine", "FINE_RATE_PER_DAY", "-1"},
		{"bad fine", "FINE_RATE_PER_DAY", "one"},
		{"bcrypt too low", "BCRYPT_COST", "2"},
		{"token without chat", "TELEGRAM_BOT_TOKEN", "token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("USE_MOCK_DB", "true")
			t.Setenv(tt.key, tt.val)
			_, err := LoadFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "debug"
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	cfg.LogLevel = "chatty"
	_, err = cfg.NewLogger()
	assert.ErrorContains(t, err, "LOG_LEVEL")
}
