package main

import (
	"fmt"

	"timelapse-server/internal/config"
)

// GetSettings returns current server settings
func (a *App) GetSettings() (*config.Settings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Return a copy to prevent external modifications
	settingsCopy := *a.settings
	return &settingsCopy, nil
}

// SaveSettings saves server settings to disk and updates app state
func (a *App) SaveSettings(settings *config.Settings) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if settings.ExportDir == "" {
		return fmt.Errorf("export directory cannot be empty")
	}
	if settings.CacheMaxSizeMB <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if settings.CacheTTLDays <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if err := config.SaveSettings(settings); err != nil {
		return err
	}

	a.settings = settings
	a.rateLimitHandler.SetAutoRetry(settings.AutoRetryOnRateLimit)

	// Cache and listener settings require a restart to take effect.
	a.logger.Info("settings saved")

	return nil
}

// GetSettingsPath returns the settings file path
func (a *App) GetSettingsPath() string {
	return config.GetSettingsPath()
}
