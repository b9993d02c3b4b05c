package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("KEYPORTAL_UPSTREAM_ACCOUNT_ID", "acct-1")
	t.Setenv("KEYPORTAL_UPSTREAM_TOKEN", "token-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "localhost:3000", cfg.Security.AllowedDomain)
	assert.Equal(t, "https://api.keygen.sh", cfg.Upstream.BaseURL)
	assert.Equal(t, 100, cfg.Upstream.PageSize)
	assert.Equal(t, 20*time.Second, cfg.Upstream.RequestTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Security.RateLimit.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KEYPORTAL_UPSTREAM_ACCOUNT_ID", "acct-1")
	t.Setenv("KEYPORTAL_UPSTREAM_TOKEN", "token-1")
	t.Setenv("KEYPORTAL_SERVER_PORT", "8088")
	t.Setenv("KEYPORTAL_SECURITY_ALLOWED_DOMAIN", "portal.example.com")
	t.Setenv("KEYPORTAL_UPSTREAM_PAGE_SIZE", "25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "portal.example.com", cfg.Security.AllowedDomain)
	assert.Equal(t, 25, cfg.Upstream.PageSize)
}

func TestLoad_MissingCredentials(t *testing.T) {
	t.Setenv("KEYPORTAL_UPSTREAM_ACCOUNT_ID", "")
	t.Setenv("KEYPORTAL_UPSTREAM_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account_id")
}

func TestLoad_RejectsSchemeInAllowedDomain(t *testing.T) {
	t.Setenv("KEYPORTAL_UPSTREAM_ACCOUNT_ID", "acct-1")
	t.Setenv("KEYPORTAL_UPSTREAM_TOKEN", "token-1")
	t.Setenv("KEYPORTAL_SECURITY_ALLOWED_DOMAIN", "https://portal.example.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bare host")
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("KEYPORTAL_UPSTREAM_ACCOUNT_ID", "acct-1")
	t.Setenv("KEYPORTAL_UPSTREAM_TOKEN", "token-1")
	t.Setenv("KEYPORTAL_SERVER_PORT", "70000")

	_, err := Load()
	require.Error(t, err)
}
