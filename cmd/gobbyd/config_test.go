package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:43917", cfg.Addr)
	assert.Equal(t, Duration(10*time.Second), cfg.HookTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Watch)
	assert.Contains(t, cfg.DBPath, filepath.Join(".gobby", "state.db"))
}

func TestLoadConfigFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: "127.0.0.1:9000"
db_path: /tmp/gobby-test.db
hook_timeout: 5s
log_level: debug
`), 0o644))
	t.Setenv("GOBBY_ADDR", "127.0.0.1:9999")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	// env wins over file, file wins over defaults
	assert.Equal(t, "127.0.0.1:9999", cfg.Addr)
	assert.Equal(t, "/tmp/gobby-test.db", cfg.DBPath)
	assert.Equal(t, Duration(5*time.Second), cfg.HookTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
