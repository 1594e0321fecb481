package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Token:         "123:abc",
		Port:          5000,
		DefaultExpire: 5 * time.Minute,
		PollTimeout:   10 * time.Second,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	bad := validConfig()
	bad.Port = 0
	assert.Error(t, bad.Validate(), "port 0")

	bad = validConfig()
	bad.Port = 70000
	assert.Error(t, bad.Validate(), "port out of range")

	bad = validConfig()
	bad.DefaultExpire = 10 * time.Second
	assert.Error(t, bad.Validate(), "expire below 1m")

	bad = validConfig()
	bad.DefaultExpire = 2 * time.Hour
	assert.Error(t, bad.Validate(), "expire above 1h")

	bad = validConfig()
	bad.PollTimeout = 0
	assert.Error(t, bad.Validate(), "zero poll timeout")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("OWNER_ID", "777")
	t.Setenv("DEFAULT_EXPIRE", "600s")
	t.Setenv("PORT", "8080")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Token)
	assert.Equal(t, int64(777), cfg.OwnerID)
	assert.Equal(t, 10*time.Minute, cfg.DefaultExpire)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "./invitebot.db", cfg.SettingsPath)
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	_, err := Load()
	require.Error(t, err)
}
