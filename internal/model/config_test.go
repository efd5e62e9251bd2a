package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Server.BaseURL)
	assert.Equal(t, "/api/v1", cfg.Server.APIPrefix)
	assert.Equal(t, 30, cfg.Server.TimeoutSec)
	assert.Equal(t, CredentialBackendKeyring, cfg.Auth.CredentialBackend)
	assert.Equal(t, "auth_token", cfg.Auth.StorageKey)
	assert.Equal(t, []string{"admin"}, cfg.Access.SettingsRoles)
	assert.False(t, cfg.Access.CaseInsensitiveRoles)
	assert.Equal(t, 30, cfg.Notifications.PollIntervalSec)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  base_url: https://tasks.example.com/
access:
  case_insensitive_roles: true
  settings_roles: [admin, manager]
notifications:
  poll_interval_sec: 10
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://tasks.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "/api/v1", cfg.Server.APIPrefix)
	assert.True(t, cfg.Access.CaseInsensitiveRoles)
	assert.Equal(t, []string{"admin", "manager"}, cfg.Access.SettingsRoles)
	assert.Equal(t, 10, cfg.Notifications.PollIntervalSec)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))
	t.Setenv("TASKDESK_LOG_LEVEL", "debug")
	t.Setenv("TASKDESK_SERVER_BASE_URL", "https://env.example.com")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "https://env.example.com", cfg.Server.BaseURL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown backend": "auth:\n  credential_backend: vault\n",
		"relative prefix": "server:\n  api_prefix: api/v1\n",
		"bad base url":    "server:\n  base_url: not a url\n",
		"bad log level":   "log:\n  level: loud\n",
		"redis no addr":   "auth:\n  credential_backend: redis\n  redis:\n    addr: \"\"\n",
		"unknown theme":   "display:\n  theme: neon\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveConfig_ThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := defaultAppConfig()
	cfg.Server.BaseURL = "https://saved.example.com"
	cfg.Auth.CredentialBackend = CredentialBackendRedis
	cfg.Auth.Redis.Addr = "redis:6379"
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://saved.example.com", loaded.Server.BaseURL)
	assert.Equal(t, CredentialBackendRedis, loaded.Auth.CredentialBackend)
	assert.Equal(t, "redis:6379", loaded.Auth.Redis.Addr)
}

func TestUserDisplayName(t *testing.T) {
	assert.Equal(t, "Uma", User{Name: "Uma", Email: "u@x.com"}.DisplayName())
	assert.Equal(t, "Uma Example", User{FirstName: "Uma", LastName: "Example"}.DisplayName())
	assert.Equal(t, "u@x.com", User{Email: "u@x.com"}.DisplayName())
}

func TestSessionActive(t *testing.T) {
	assert.False(t, Session{}.Active())
	assert.False(t, Session{Token: "abc"}.Active())
	assert.True(t, Session{Token: "abc", User: &User{ID: 1}}.Active())
}
