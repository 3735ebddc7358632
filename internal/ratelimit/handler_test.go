package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	h := NewHandler(nil, nil)
	h.SetAutoRetry(false)
	t.Cleanup(h.Close)
	return h
}

func TestCheckResponseDetectsRateLimit(t *testing.T) {
	h := newTestHandler(t)

	assert.False(t, h.CheckResponse("earthengine", &http.Response{StatusCode: http.StatusOK}))
	assert.False(t, h.IsRateLimited("earthengine"))

	assert.True(t, h.CheckResponse("earthengine", &http.Response{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, h.IsRateLimited("earthengine"))

	// 503 counts too.
	h2 := newTestHandler(t)
	assert.True(t, h2.CheckResponse("earthengine", &http.Response{StatusCode: http.StatusServiceUnavailable}))
}

func TestRateLimitStateIsPerProvider(t *testing.T) {
	h := newTestHandler(t)

	h.CheckResponse("earthengine", &http.Response{StatusCode: http.StatusTooManyRequests})
	assert.True(t, h.IsRateLimited("earthengine"))
	assert.False(t, h.IsRateLimited("other"))
	assert.Nil(t, h.GetCurrentState("other"))
}

func TestRepeatedLimitsEscalateBackoff(t *testing.T) {
	h := newTestHandler(t)

	h.CheckResponse("earthengine", &http.Response{StatusCode: http.StatusTooManyRequests})
	first := h.GetCurrentState("earthengine")
	require.NotNil(t, first)
	assert.Equal(t, 0, first.RetryAttempt)

	h.CheckResponse("earthengine", &http.Response{StatusCode: http.StatusTooManyRequests})
	second := h.GetCurrentState("earthengine")
	require.NotNil(t, second)
	assert.Equal(t, 1, second.RetryAttempt)
	assert.True(t, second.NextRetryAt.After(first.NextRetryAt))
	assert.NotEmpty(t, second.Message)
}

func TestSuccessfulResponseClearsLimit(t *testing.T) {
	h := newTestHandler(t)

	recovered := make(chan string, 1)
	h.SetOnRecovered(func(provider string) { recovered <- provider })

	h.CheckResponse("earthengine", &http.Response{StatusCode: http.StatusTooManyRequests})
	require.True(t, h.IsRateLimited("earthengine"))

	h.CheckResponse("earthengine", &http.Response{StatusCode: http.StatusOK})
	assert.False(t, h.IsRateLimited("earthengine"))

	select {
	case provider := <-recovered:
		assert.Equal(t, "earthengine", provider)
	case <-time.After(2 * time.Second):
		t.Fatal("recovery callback never fired")
	}
}

func TestManualRetry(t *testing.T) {
	h := newTestHandler(t)

	// No-op when nothing is limited.
	h.ManualRetry("earthengine")

	h.CheckResponse("earthengine", &http.Response{StatusCode: http.StatusTooManyRequests})
	require.True(t, h.IsRateLimited("earthengine"))

	h.ManualRetry("earthengine")
	assert.False(t, h.IsRateLimited("earthengine"))
	assert.Nil(t, h.GetCurrentState("earthengine"))
}

func TestOnRateLimitCallback(t *testing.T) {
	h := newTestHandler(t)

	events := make(chan RateLimitEvent, 1)
	h.SetOnRateLimit(func(e RateLimitEvent) { events <- e })

	h.CheckResponse("earthengine", &http.Response{StatusCode: http.StatusTooManyRequests})

	select {
	case e := <-events:
		assert.Equal(t, "earthengine", e.Provider)
		assert.Equal(t, http.StatusTooManyRequests, e.StatusCode)
	case <-time.After(2 * time.Second):
		t.Fatal("rate limit callback never fired")
	}
}
