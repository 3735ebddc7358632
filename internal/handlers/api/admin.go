package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"timelapse-server/internal/config"
	"timelapse-server/internal/ee"
	"timelapse-server/internal/ratelimit"
)

type settingsResponse struct {
	Path     string           `json:"path"`
	Settings *config.Settings `json:"settings"`
}

type rateLimitResponse struct {
	RateLimited bool                      `json:"rateLimited"`
	State       *ratelimit.RateLimitEvent `json:"state,omitempty"`
}

type autoRetryRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleGetSettings(c echo.Context) error {
	settings, err := s.admin.GetSettings()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, settingsResponse{
		Path:     s.admin.GetSettingsPath(),
		Settings: settings,
	})
}

func (s *Server) handleSaveSettings(c echo.Context) error {
	var settings config.Settings
	if err := c.Bind(&settings); err != nil {
		return badRequest(c, err)
	}
	if err := s.admin.SaveSettings(&settings); err != nil {
		return badRequest(c, err)
	}
	return c.JSON(http.StatusOK, settingsResponse{
		Path:     s.admin.GetSettingsPath(),
		Settings: &settings,
	})
}

func (s *Server) handleCacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.admin.GetCacheStats())
}

func (s *Server) handleClearCache(c echo.Context) error {
	if err := s.admin.ClearCache(); err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRateLimitStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, rateLimitResponse{
		RateLimited: s.admin.IsRateLimited(ee.Provider),
		State:       s.admin.GetRateLimitStatus(ee.Provider),
	})
}

func (s *Server) handleRateLimitRetry(c echo.Context) error {
	s.admin.ManualRetryRateLimit(ee.Provider)
	return c.JSON(http.StatusOK, rateLimitResponse{
		RateLimited: s.admin.IsRateLimited(ee.Provider),
		State:       s.admin.GetRateLimitStatus(ee.Provider),
	})
}

func (s *Server) handleAutoRetry(c echo.Context) error {
	var req autoRetryRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	s.admin.SetAutoRetryRateLimit(req.Enabled)
	return c.NoContent(http.StatusNoContent)
}
