package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
broadcaster_host: broadcaster.example.com
broadcaster_port: 1883
hostname: dev01
python_command: python3
script_to_execute: deploy.py
targets_directory: /srv/targets
allowed_targets: [dev01, dev02]
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.ShowdownTimeout)
	assert.Equal(t, "yadtreceiver", cfg.ClientIDPrefix)
	assert.Equal(t, []string{"dev01", "dev02"}, cfg.AllowedTargets)
}

func TestLoad_ExplicitValuesOverrideDefaults(t *testing.T) {
	path := writeConfig(t, `
showdown_timeout: 5s
client_id_prefix: custom
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.ShowdownTimeout)
	assert.Equal(t, "custom", cfg.ClientIDPrefix)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.Error(t, err)
}

func TestStore_ReloadAllowedTargetsPicksUpChanges(t *testing.T) {
	path := writeConfig(t, `allowed_targets: [dev01]`)

	store, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev01"}, store.Current().AllowedTargets)

	require.NoError(t, os.WriteFile(path, []byte(`allowed_targets: [dev01, dev02]`), 0o644))

	targets, err := store.ReloadAllowedTargets()
	require.NoError(t, err)
	assert.Equal(t, []string{"dev01", "dev02"}, targets)
	assert.Equal(t, []string{"dev01", "dev02"}, store.Current().AllowedTargets)
}

func TestStore_ReloadAllowedTargetsEmpty(t *testing.T) {
	path := writeConfig(t, `allowed_targets: []`)

	store, err := NewStore(path)
	require.NoError(t, err)

	targets, err := store.ReloadAllowedTargets()
	require.NoError(t, err)
	assert.Empty(t, targets)
}
