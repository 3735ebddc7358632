package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RetryStrategy defines the backoff intervals for rate limit retries
type RetryStrategy struct {
	Intervals  []time.Duration
	MaxRetries int
}

// DefaultRetryStrategy returns the default backoff strategy. Earth Engine
// quota windows are short, so the intervals are seconds to minutes rather
// than the long waits a tile scraper would need.
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		Intervals: []time.Duration{
			30 * time.Second,
			1 * time.Minute,
			2 * time.Minute,
			5 * time.Minute,
			10 * time.Minute,
		},
		MaxRetries: 10,
	}
}

// RateLimitEvent represents a rate limit occurrence
type RateLimitEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	StatusCode   int       `json:"statusCode"`
	RetryAttempt int       `json:"retryAttempt"` // 0 = first occurrence
	NextRetryAt  time.Time `json:"nextRetryAt"`
	Message      string    `json:"message"`
}

// Handler manages rate limit detection and retry logic
type Handler struct {
	mu               sync.RWMutex
	rateLimited      map[string]*RateLimitEvent // provider -> current rate limit state
	strategy         *RetryStrategy
	logger           *zap.Logger
	onRateLimit      func(event RateLimitEvent)
	onRetry          func(event RateLimitEvent)
	onRecovered      func(provider string)
	autoRetryEnabled bool
	ctx              context.Context
	cancel           context.CancelFunc
}

// NewHandler creates a new rate limit handler
func NewHandler(strategy *RetryStrategy, logger *zap.Logger) *Handler {
	if strategy == nil {
		strategy = DefaultRetryStrategy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Handler{
		rateLimited:      make(map[string]*RateLimitEvent),
		strategy:         strategy,
		logger:           logger.Named("ratelimit"),
		autoRetryEnabled: true,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// SetOnRateLimit sets the callback for rate limit events
func (h *Handler) SetOnRateLimit(callback func(event RateLimitEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRateLimit = callback
}

// SetOnRetry sets the callback for retry attempts
func (h *Handler) SetOnRetry(callback func(event RateLimitEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRetry = callback
}

// SetOnRecovered sets the callback for recovery from rate limit
func (h *Handler) SetOnRecovered(callback func(provider string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecovered = callback
}

// IsRateLimited checks if a provider is currently rate limited
func (h *Handler) IsRateLimited(provider string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, limited := h.rateLimited[provider]
	return limited
}

// CheckResponse analyzes an HTTP response for rate limit indicators
func (h *Handler) CheckResponse(provider string, resp *http.Response) bool {
	// 429 is the documented quota response; Earth Engine also returns
	// 503 when the compute backend is saturated.
	isRateLimited := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusServiceUnavailable

	if !isRateLimited {
		// Check if we were previously rate limited and have now recovered
		h.checkRecovery(provider)
		return false
	}

	h.recordRateLimit(provider, resp.StatusCode)
	return true
}

// recordRateLimit records a rate limit event and schedules retry
func (h *Handler) recordRateLimit(provider string, statusCode int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing, exists := h.rateLimited[provider]

	retryAttempt := 0
	if exists {
		retryAttempt = existing.RetryAttempt + 1
	}

	// Calculate next retry time based on retry attempt
	var interval time.Duration
	if retryAttempt < len(h.strategy.Intervals) {
		interval = h.strategy.Intervals[retryAttempt]
	} else {
		// Use last interval for all subsequent retries
		interval = h.strategy.Intervals[len(h.strategy.Intervals)-1]
	}

	nextRetryAt := time.Now().Add(interval)

	event := RateLimitEvent{
		Timestamp:    time.Now(),
		Provider:     provider,
		StatusCode:   statusCode,
		RetryAttempt: retryAttempt,
		NextRetryAt:  nextRetryAt,
		Message:      buildMessage(provider, statusCode, retryAttempt, nextRetryAt),
	}

	h.rateLimited[provider] = &event

	h.logger.Warn("provider rate limited",
		zap.String("provider", provider),
		zap.Int("statusCode", statusCode),
		zap.Int("attempt", retryAttempt),
		zap.Time("nextRetryAt", nextRetryAt))

	if h.onRateLimit != nil {
		go h.onRateLimit(event)
	}

	// Schedule auto-retry if enabled
	if h.autoRetryEnabled && retryAttempt < h.strategy.MaxRetries {
		go h.scheduleRetry(provider, event)
	}
}

// scheduleRetry schedules an automatic retry after the backoff interval
func (h *Handler) scheduleRetry(provider string, event RateLimitEvent) {
	waitDuration := time.Until(event.NextRetryAt)

	select {
	case <-time.After(waitDuration):
		h.mu.Lock()
		current, exists := h.rateLimited[provider]
		if !exists || current.Timestamp != event.Timestamp {
			// Rate limit was already cleared or replaced
			h.mu.Unlock()
			return
		}
		h.mu.Unlock()

		h.logger.Info("auto-retry window open",
			zap.String("provider", provider),
			zap.Duration("waited", waitDuration))

		if h.onRetry != nil {
			go h.onRetry(event)
		}

		// The actual retry happens on the next request; callers check
		// IsRateLimited() before proceeding.

	case <-h.ctx.Done():
		return
	}
}

// checkRecovery checks if we've recovered from a rate limit
func (h *Handler) checkRecovery(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.rateLimited[provider]; exists {
		delete(h.rateLimited, provider)
		h.logger.Info("rate limit cleared", zap.String("provider", provider))

		if h.onRecovered != nil {
			go h.onRecovered(provider)
		}
	}
}

// ManualRetry allows a caller to clear the rate limit state and retry now
func (h *Handler) ManualRetry(provider string) {
	h.mu.Lock()
	event, exists := h.rateLimited[provider]
	if !exists {
		h.mu.Unlock()
		return
	}

	h.logger.Info("manual retry requested", zap.String("provider", provider))

	delete(h.rateLimited, provider)
	h.mu.Unlock()

	if h.onRetry != nil {
		go h.onRetry(*event)
	}
}

// SetAutoRetry enables or disables automatic retries
func (h *Handler) SetAutoRetry(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.autoRetryEnabled = enabled
}

// GetCurrentState returns the current rate limit state for a provider
func (h *Handler) GetCurrentState(provider string) *RateLimitEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if event, exists := h.rateLimited[provider]; exists {
		// Return a copy
		eventCopy := *event
		return &eventCopy
	}
	return nil
}

func buildMessage(provider string, statusCode, retryAttempt int, nextRetryAt time.Time) string {
	wait := time.Until(nextRetryAt).Round(time.Second)

	if retryAttempt == 0 {
		return fmt.Sprintf("%s quota exceeded (HTTP %d), requests paused, next retry in %s",
			provider, statusCode, wait)
	}
	return fmt.Sprintf("%s still rate limited after %d retries (HTTP %d), next retry in %s",
		provider, retryAttempt, statusCode, wait)
}

// Close shuts down the rate limit handler
func (h *Handler) Close() {
	h.cancel()
}
