package main

import (
	"timelapse-server/internal/cache"
	"timelapse-server/internal/ratelimit"
)

// Rate Limit Management

// ManualRetryRateLimit clears the rate limit state for a provider so the
// next request goes through immediately
func (a *App) ManualRetryRateLimit(provider string) {
	if a.rateLimitHandler != nil {
		a.rateLimitHandler.ManualRetry(provider)
	}
}

// GetRateLimitStatus returns the current rate limit state for a provider
func (a *App) GetRateLimitStatus(provider string) *ratelimit.RateLimitEvent {
	if a.rateLimitHandler != nil {
		return a.rateLimitHandler.GetCurrentState(provider)
	}
	return nil
}

// IsRateLimited checks if a provider is currently rate limited
func (a *App) IsRateLimited(provider string) bool {
	if a.rateLimitHandler != nil {
		return a.rateLimitHandler.IsRateLimited(provider)
	}
	return false
}

// SetAutoRetryRateLimit enables or disables automatic rate limit retries
func (a *App) SetAutoRetryRateLimit(enabled bool) {
	if a.rateLimitHandler != nil {
		a.rateLimitHandler.SetAutoRetry(enabled)
	}

	if a.settings != nil {
		a.settings.AutoRetryOnRateLimit = enabled
	}
}

// Cache Management

// GetCacheStats returns current cache statistics
func (a *App) GetCacheStats() cache.UsageStats {
	if a.previewCache == nil {
		return cache.UsageStats{}
	}
	return a.previewCache.Usage()
}

// ClearCache removes all cached previews
func (a *App) ClearCache() error {
	if a.previewCache != nil {
		return a.previewCache.Clear()
	}
	return nil
}
