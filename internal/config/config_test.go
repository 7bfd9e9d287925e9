package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAllowDevelopmentWithoutSecret(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "environment: development\n"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.JWT.Secret)
}

func TestProductionRequiresJWTSecret(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "environment: production\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt.secret")

	cfg, err := LoadConfig(writeConfig(t, "environment: production\njwt:\n  secret: super-secret\n"))
	require.NoError(t, err)
	assert.Equal(t, "super-secret", cfg.JWT.Secret)
}
