package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")

	cfg, err := Load([]string{})
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "tierpress.db", cfg.SqliteDB)
	assert.Equal(t, 500, cfg.SweepCap)
	assert.Equal(t, time.Duration(0), cfg.SweepEvery())
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("PORT", "9000")

	cfg, err := Load([]string{"--port", "9100", "--app-origin", "https://example.com/", "--sweep-interval", "60"})
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "https://example.com", cfg.AppOrigin)
	assert.Equal(t, time.Minute, cfg.SweepEvery())
}

func TestAdminEmailList(t *testing.T) {
	cfg := &Config{AdminEmails: " Ops@Example.com, ,mod@example.com"}

	assert.Equal(t, []string{"ops@example.com", "mod@example.com"}, cfg.AdminEmailList())
}
