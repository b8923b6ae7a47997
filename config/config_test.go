package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Listen.Port)
	assert.Equal(t, 4096, cfg.Listen.ReadBufferSize)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, 1024, cfg.Pool.QueueSize)
	assert.Equal(t, "127.0.0.1", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "im_server", cfg.Database.Name)
}

func TestLegacyDatabaseEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_USER", "im")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("DB_NAME", "chat")
	t.Setenv("DB_PORT", "3307")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "im", cfg.Database.User)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "chat", cfg.Database.Name)
	assert.Equal(t, 3307, cfg.Database.Port)

	assert.Equal(t,
		"im:s3cret@tcp(db.internal:3307)/chat?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Database.DSN())
}

func TestPrefixedEnvBeatsLegacy(t *testing.T) {
	t.Setenv("DB_HOST", "legacy.internal")
	t.Setenv("IM_DATABASE_HOST", "new.internal")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "new.internal", cfg.Database.Host)
}

func TestInvalidPortRejected(t *testing.T) {
	t.Setenv("IM_LISTEN_PORT", "70000")
	_, err := LoadConfig("")
	assert.Error(t, err)
}
