package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORTAL_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("STORE_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, SessionsInStore, cfg.SessionBackend)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.VerifyTTL)
	assert.Equal(t, 5*time.Second, cfg.NotifyPoll)
	assert.Equal(t, "udst.edu.qa", cfg.EmailDomain)
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.env")
	require.NoError(t, os.WriteFile(path, []byte("STORE_BACKEND=memory\nSESSION_TTL_MINUTES=5\nPORT=9090\n"), 0o600))
	t.Setenv("PORTAL_ENV_FILE", path)
	// godotenv never overrides variables that are already set.
	t.Setenv("PORT", "7070")
	t.Cleanup(func() {
		os.Unsetenv("STORE_BACKEND")
		os.Unsetenv("SESSION_TTL_MINUTES")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 5*time.Minute, cfg.SessionTTL)
	assert.Equal(t, "7070", cfg.Port)
}

func TestValidate(t *testing.T) {
	base := Config{
		StoreBackend:   BackendMemory,
		SessionBackend: SessionsInStore,
		SessionTTL:     time.Minute,
		ResetTTL:       time.Minute,
		VerifyTTL:      time.Minute,
	}
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"postgres without dsn": func(c *Config) { c.StoreBackend = BackendPostgres },
		"mongo without uri":    func(c *Config) { c.StoreBackend = BackendMongo },
		"unknown backend":      func(c *Config) { c.StoreBackend = "sqlite" },
		"redis without url":    func(c *Config) { c.SessionBackend = SessionsInRedis },
		"zero ttl":             func(c *Config) { c.ResetTTL = 0 },
		"short hash key":       func(c *Config) { c.CookieHashKey = "short" },
		"bad block key":        func(c *Config) { c.CookieBlockKey = "12345" },
		"seed without password": func(c *Config) {
			c.AdminSeedEmail = "admin@udst.edu.qa"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestReadHelpersFallBack(t *testing.T) {
	t.Setenv("PORTAL_TEST_INT", "abc")
	t.Setenv("PORTAL_TEST_BOOL", "maybe")
	t.Setenv("PORTAL_TEST_SECONDS", "-3")
	assert.Equal(t, 7, readInt("PORTAL_TEST_INT", 7))
	assert.True(t, readBool("PORTAL_TEST_BOOL", true))
	assert.Zero(t, readDurationSeconds("PORTAL_TEST_SECONDS", 10))
}
