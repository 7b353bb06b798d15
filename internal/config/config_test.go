package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var serverKeys = []string{
	"LOCKBREAK_NAME", "LOCKBREAK_HOST", "LOCKBREAK_PORT", "LOCKBREAK_HTTP_ADDR", "LOCKBREAK_ORIGINS",
	"LOCKBREAK_ROWS", "LOCKBREAK_COLS", "LOCKBREAK_GAME_SECONDS", "LOCKBREAK_COUNTDOWN_SECONDS",
	"LOCKBREAK_SEED", "LOCKBREAK_SPEED_TOLERANCE", "LOCKBREAK_MSG_RATE", "LOCKBREAK_MSG_BURST",
	"LOCKBREAK_ICON", "DATABASE_URL", "LOG_LEVEL",
}

// clearEnv unsets every key for the test; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range serverKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func missingFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadServer_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadServer(nil, missingFile(t))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5555", cfg.Addr())
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5, cfg.Rows)
	assert.Equal(t, 5, cfg.Cols)
	assert.Equal(t, 300*time.Second, cfg.GameTime)
	assert.Equal(t, 3*time.Second, cfg.Countdown)
	assert.Equal(t, 1.25, cfg.SpeedTolerance)
	assert.Equal(t, 50.0, cfg.MsgRate)
	assert.Equal(t, 100, cfg.MsgBurst)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadServer_Precedence(t *testing.T) {
	clearEnv(t)
	dotenv := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte(
		"LOCKBREAK_PORT=6000\nLOCKBREAK_ROWS=3\nLOCKBREAK_COLS=4\nLOCKBREAK_ORIGINS=localhost:*, example.com\n"), 0o600))
	t.Setenv("LOCKBREAK_ROWS", "2")

	cfg, err := LoadServer([]string{"-port", "7000", "-host", "127.0.0.1"}, dotenv)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Addr(), "flags beat .env")
	assert.Equal(t, 2, cfg.Rows, "environment beats .env")
	assert.Equal(t, 4, cfg.Cols)
	assert.Equal(t, []string{"localhost:*", "example.com"}, cfg.OriginPatterns)
}

func TestLoadServer_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "bad int", env: map[string]string{"LOCKBREAK_ROWS": "five"}},
		{name: "bad float", env: map[string]string{"LOCKBREAK_MSG_RATE": "fast"}},
		{name: "zero grid", env: map[string]string{"LOCKBREAK_COLS": "0"}},
		{name: "zero game time", env: map[string]string{"LOCKBREAK_GAME_SECONDS": "0"}},
		{name: "port flag", args: []string{"-port", "70000"}},
		{name: "unknown flag", args: []string{"-rows", "3"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadServer(tc.args, missingFile(t))
			assert.Error(t, err)
		})
	}
}

func TestLoadClient(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOCKBREAK_ICON", "@")
	cfg, err := LoadClient([]string{"-name", "ana"}, missingFile(t))
	require.NoError(t, err)
	assert.Equal(t, "ana", cfg.Name)
	assert.Equal(t, "@", cfg.Glyph)
	assert.Equal(t, "127.0.0.1:5555", cfg.Addr())
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		log, err := NewLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, log)
	}
	_, err := NewLogger("loud")
	assert.Error(t, err)
}
