package config

import (
	"os"
	"testing"

	"github.com/juho05/log"
	"github.com/stretchr/testify/require"

	"github.com/knurzl/lucia"
)

// Getters memoize their first read, so the tests below run in declaration
// order: the fallback test reads LOG_FILE before the defaults test, and the
// memoization test runs last.

func TestLogFileFallback(t *testing.T) {
	t.Setenv("LOG_FILE", "/nonexistent/dir/lucia.log")
	t.Setenv("LOG_APPEND", "true")
	require.Equal(t, os.Stderr, LogFile())
}

func TestDefaults(t *testing.T) {
	for _, key := range []string{"LOG_LEVEL", "DB_CONNECTION", "AUTO_MIGRATE", "SCHEMA", "USERS_TABLE", "SESSIONS_TABLE"} {
		os.Unsetenv(key)
	}
	Load()

	require.Equal(t, log.INFO, LogLevel())
	require.Equal(t, os.Stderr, LogFile())
	require.Equal(t, "lucia.sqlite?_foreign_keys=1", DBConnection())
	require.False(t, AutoMigrate())
	require.Equal(t, lucia.DefaultTables(), Tables())
}

func TestMemoization(t *testing.T) {
	t.Setenv("SESSIONS_TABLE", "auth_sessions")
	// The first read cached the default; later environment changes are
	// ignored for the lifetime of the process.
	require.Equal(t, "sessions", SessionsTable())
}
