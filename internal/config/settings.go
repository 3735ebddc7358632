package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// RequestDefaults fill in omitted query parameters on the rendering endpoints.
type RequestDefaults struct {
	Satellite       string `json:"satellite"`
	Parameter       string `json:"parameter"`
	FramesPerSecond int    `json:"framesPerSecond"`
	MaxFrames       int    `json:"maxFrames"`
	ThumbWidth      int    `json:"thumbWidth"`
	ThumbHeight     int    `json:"thumbHeight"`
}

// Settings represents persistent server configuration
type Settings struct {
	// HTTP server
	ListenAddr string `json:"listenAddr"`

	// Earth Engine access
	EEProject string `json:"eeProject"`
	EEKeyFile string `json:"eeKeyFile"`
	EEBaseURL string `json:"eeBaseURL"`

	// Export settings
	ExportDir          string `json:"exportDir"`
	MaxConcurrentTasks int    `json:"maxConcurrentTasks"`

	// Cache settings
	CacheMaxSizeMB  int `json:"cacheMaxSizeMB"`
	CacheTTLDays    int `json:"cacheTTLDays"`
	MemCacheEntries int `json:"memCacheEntries"`

	// Rate limit handling
	AutoRetryOnRateLimit bool `json:"autoRetryOnRateLimit"`

	// Analytics (optional, disabled when key is empty)
	PostHogAPIKey string `json:"posthogApiKey"`

	Defaults RequestDefaults `json:"defaults"`
}

// DefaultSettings returns default server settings
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	exportDir := filepath.Join(homeDir, "timelapse-exports")

	return &Settings{
		ListenAddr:           ":8080",
		EEProject:            "",
		EEKeyFile:            "",
		EEBaseURL:            "https://earthengine.googleapis.com/v1",
		ExportDir:            exportDir,
		MaxConcurrentTasks:   1,
		CacheMaxSizeMB:       250,
		CacheTTLDays:         30,
		MemCacheEntries:      128,
		AutoRetryOnRateLimit: true,
		Defaults: RequestDefaults{
			Satellite:       "Sentinel-2",
			Parameter:       "NDVI",
			FramesPerSecond: 5,
			MaxFrames:       20,
			ThumbWidth:      512,
			ThumbHeight:     512,
		},
	}
}

// GetSettingsPath returns the settings file path. TIMELAPSE_CONFIG overrides
// the default location.
func GetSettingsPath() string {
	if path := os.Getenv("TIMELAPSE_CONFIG"); path != "" {
		return path
	}

	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".timelapse-server")

	os.MkdirAll(baseDir, 0755)

	return filepath.Join(baseDir, "settings.json")
}

// LoadSettings loads server settings from disk and applies env overrides
func LoadSettings() (*Settings, error) {
	settingsPath := GetSettingsPath()

	settings := DefaultSettings()

	if _, err := os.Stat(settingsPath); err == nil {
		data, err := os.ReadFile(settingsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}

		if err := json.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse settings: %w", err)
		}

		// Merge with defaults for any missing fields
		defaults := DefaultSettings()
		if settings.ListenAddr == "" {
			settings.ListenAddr = defaults.ListenAddr
		}
		if settings.EEBaseURL == "" {
			settings.EEBaseURL = defaults.EEBaseURL
		}
		if settings.ExportDir == "" {
			settings.ExportDir = defaults.ExportDir
		}
		if settings.MaxConcurrentTasks == 0 {
			settings.MaxConcurrentTasks = defaults.MaxConcurrentTasks
		}
		if settings.CacheMaxSizeMB == 0 {
			settings.CacheMaxSizeMB = defaults.CacheMaxSizeMB
		}
		if settings.CacheTTLDays == 0 {
			settings.CacheTTLDays = defaults.CacheTTLDays
		}
		if settings.MemCacheEntries == 0 {
			settings.MemCacheEntries = defaults.MemCacheEntries
		}
		if settings.Defaults.Satellite == "" {
			settings.Defaults.Satellite = defaults.Defaults.Satellite
		}
		if settings.Defaults.Parameter == "" {
			settings.Defaults.Parameter = defaults.Defaults.Parameter
		}
		if settings.Defaults.FramesPerSecond == 0 {
			settings.Defaults.FramesPerSecond = defaults.Defaults.FramesPerSecond
		}
		if settings.Defaults.MaxFrames == 0 {
			settings.Defaults.MaxFrames = defaults.Defaults.MaxFrames
		}
		if settings.Defaults.ThumbWidth == 0 {
			settings.Defaults.ThumbWidth = defaults.Defaults.ThumbWidth
		}
		if settings.Defaults.ThumbHeight == 0 {
			settings.Defaults.ThumbHeight = defaults.Defaults.ThumbHeight
		}
	}

	applyEnvOverrides(settings)

	return settings, nil
}

// applyEnvOverrides lets deployment environments override file settings
func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("TIMELAPSE_LISTEN_ADDR"); v != "" {
		s.ListenAddr = v
	}
	if v := os.Getenv("EE_PROJECT"); v != "" {
		s.EEProject = v
	}
	if v := os.Getenv("EE_KEY_FILE"); v != "" {
		s.EEKeyFile = v
	}
	if v := os.Getenv("EE_BASE_URL"); v != "" {
		s.EEBaseURL = v
	}
	if v := os.Getenv("TIMELAPSE_EXPORT_DIR"); v != "" {
		s.ExportDir = v
	}
	if v := os.Getenv("POSTHOG_API_KEY"); v != "" {
		s.PostHogAPIKey = v
	}
	if v := os.Getenv("TIMELAPSE_MAX_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.MaxConcurrentTasks = n
		}
	}
}

// SaveSettings saves server settings to disk
func SaveSettings(settings *Settings) error {
	settingsPath := GetSettingsPath()

	dir := filepath.Dir(settingsPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(settingsPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// Validate checks settings needed to reach Earth Engine
func (s *Settings) Validate() error {
	if s.EEProject == "" {
		return fmt.Errorf("eeProject is required (or set EE_PROJECT)")
	}
	if s.EEKeyFile == "" {
		return fmt.Errorf("eeKeyFile is required (or set EE_KEY_FILE)")
	}
	return nil
}
