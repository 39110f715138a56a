package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Security.Tokens.AccessTokenTTL)
	assert.Equal(t, 15*time.Minute, cfg.Security.Tokens.InactivityTimeout)
	assert.Equal(t, 168*time.Hour, cfg.Security.Tokens.RefreshTokenTTL)
	assert.True(t, cfg.Security.Revocation.Enabled)
	assert.Equal(t, 50, cfg.Audit.DefaultLimit)
	assert.Equal(t, 500, cfg.Audit.MaxLimit)
}

func TestLoad_SecretsFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTHCORE_SECURITY_TOKENS_SECRET", "token-secret")
	t.Setenv("AUTHCORE_AUDIT_SECRET", "audit-secret")
	t.Setenv("AUTHCORE_SECURITY_TOKENS_INACTIVITY_TIMEOUT", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "token-secret", cfg.Security.Tokens.Secret)
	assert.Equal(t, "audit-secret", cfg.Audit.Secret)
	assert.Equal(t, 5*time.Minute, cfg.Security.Tokens.InactivityTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_MissingSecrets(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	assert.True(t, errors.Is(err, ErrMissingSecret))

	cfg.Security.Tokens.Secret = "set"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit.secret")
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", c.DSN())
}
