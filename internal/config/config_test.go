package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	assert.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uho.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("api_port: 9090\nsolana_rpc_url: \"https://example.test\"\n"), 0o600))

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, "https://example.test", cfg.SolanaRPCURL)
	assert.Equal(t, Default().DatabaseURL, cfg.DatabaseURL)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uho.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("api_port: 9090\n"), 0o600))
	t.Setenv("UHO_API_PORT", "7070")
	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 7070, cfg.APIPort)
}

func TestEnvOverridesJWTSecret(t *testing.T) {
	t.Setenv("UHO_JWT_SECRET", "super-secret")
	cfg, err := Load("")
	assert.NoError(t, err)
	assert.Equal(t, "super-secret", cfg.JWTSecret)
}
