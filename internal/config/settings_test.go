package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withConfigFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	t.Setenv("TIMELAPSE_CONFIG", path)
}

func TestLoadSettingsDefaults(t *testing.T) {
	withConfigFile(t, "")

	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, ":8080", s.ListenAddr)
	assert.Equal(t, "https://earthengine.googleapis.com/v1", s.EEBaseURL)
	assert.Equal(t, 250, s.CacheMaxSizeMB)
	assert.Equal(t, 1, s.MaxConcurrentTasks)
	assert.True(t, s.AutoRetryOnRateLimit)
	assert.Equal(t, "Sentinel-2", s.Defaults.Satellite)
	assert.Equal(t, "NDVI", s.Defaults.Parameter)
	assert.Equal(t, 5, s.Defaults.FramesPerSecond)
	assert.Equal(t, 20, s.Defaults.MaxFrames)
}

func TestLoadSettingsMergesDefaults(t *testing.T) {
	withConfigFile(t, `{
		"listenAddr": ":9999",
		"eeProject": "my-project",
		"defaults": {"satellite": "Landsat-8"}
	}`)

	s, err := LoadSettings()
	require.NoError(t, err)

	// Explicit values survive.
	assert.Equal(t, ":9999", s.ListenAddr)
	assert.Equal(t, "my-project", s.EEProject)
	assert.Equal(t, "Landsat-8", s.Defaults.Satellite)

	// Missing fields pick up defaults.
	assert.Equal(t, 250, s.CacheMaxSizeMB)
	assert.Equal(t, "NDVI", s.Defaults.Parameter)
	assert.Equal(t, 512, s.Defaults.ThumbWidth)
}

func TestLoadSettingsEnvOverrides(t *testing.T) {
	withConfigFile(t, `{"eeProject": "from-file"}`)
	t.Setenv("EE_PROJECT", "from-env")
	t.Setenv("TIMELAPSE_LISTEN_ADDR", ":7070")
	t.Setenv("TIMELAPSE_MAX_TASKS", "3")

	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, "from-env", s.EEProject)
	assert.Equal(t, ":7070", s.ListenAddr)
	assert.Equal(t, 3, s.MaxConcurrentTasks)
}

func TestLoadSettingsInvalidJSON(t *testing.T) {
	withConfigFile(t, `{not json`)

	_, err := LoadSettings()
	assert.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	withConfigFile(t, "")

	s := DefaultSettings()
	s.EEProject = "saved-project"
	s.EEKeyFile = "/etc/keys/ee.json"
	require.NoError(t, SaveSettings(s))

	loaded, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "saved-project", loaded.EEProject)
	assert.Equal(t, "/etc/keys/ee.json", loaded.EEKeyFile)
}

func TestValidate(t *testing.T) {
	s := DefaultSettings()
	assert.Error(t, s.Validate())

	s.EEProject = "p"
	assert.Error(t, s.Validate())

	s.EEKeyFile = "/etc/keys/ee.json"
	assert.NoError(t, s.Validate())
}
