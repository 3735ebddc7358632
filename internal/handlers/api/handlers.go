package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"timelapse-server/internal/ee"
	"timelapse-server/internal/index"
	"timelapse-server/internal/sensor"
	"timelapse-server/internal/taskqueue"
)

type errorResponse struct {
	Error string `json:"error"`
}

type timelapseResponse struct {
	VideoURL string `json:"video_url"`
}

type countResponse struct {
	Total   int `json:"total"`
	Limited int `json:"limited"`
}

type sceneResponse struct {
	ID         string  `json:"id"`
	Time       string  `json:"time"`
	CloudCover float64 `json:"cloud_cover"`
}

type satelliteResponse struct {
	Name             string  `json:"name"`
	CollectionID     string  `json:"collection_id"`
	ResolutionMeters float64 `json:"resolution_meters"`
}

type indexResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

// serviceError maps rendering failures to HTTP codes. Earth Engine errors
// carry their own status; everything else is a 502 since the upstream call
// is what failed. The rate-limit state is consulted only for errors that
// don't explain themselves, so a stale quota record can't mask an
// unrelated failure.
func (s *Server) serviceError(c echo.Context, err error) error {
	var apiErr *ee.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Code
		if code < 400 || code > 599 {
			code = http.StatusBadGateway
		}
		return c.JSON(code, errorResponse{Error: apiErr.Message})
	}

	if s.limits != nil && s.limits.IsRateLimited(ee.Provider) {
		return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "rate limited by Earth Engine, try again later"})
	}

	s.logger.Error("render failed", zap.Error(err))
	return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
}

func (s *Server) bindRender(c echo.Context) (RenderRequest, error) {
	var req RenderRequest
	if err := c.Bind(&req); err != nil {
		return req, err
	}
	if err := c.Validate(&req); err != nil {
		return req, err
	}
	return s.validateRender(req)
}

func (s *Server) handleTimelapse(c echo.Context) error {
	req, err := s.bindRender(c)
	if err != nil {
		return badRequest(c, err)
	}

	url, err := s.svc.Timelapse(c.Request().Context(), req)
	if err != nil {
		return s.serviceError(c, err)
	}

	return c.JSON(http.StatusOK, timelapseResponse{VideoURL: url})
}

func (s *Server) handleThumbnail(c echo.Context) error {
	req, err := s.bindRender(c)
	if err != nil {
		return badRequest(c, err)
	}

	data, err := s.svc.Thumbnail(c.Request().Context(), req)
	if err != nil {
		return s.serviceError(c, err)
	}

	return c.Blob(http.StatusOK, "image/png", data)
}

func (s *Server) handleCount(c echo.Context) error {
	req, err := s.bindRender(c)
	if err != nil {
		return badRequest(c, err)
	}

	total, limited, err := s.svc.SceneCount(c.Request().Context(), req)
	if err != nil {
		return s.serviceError(c, err)
	}

	return c.JSON(http.StatusOK, countResponse{Total: total, Limited: limited})
}

func (s *Server) handleStats(c echo.Context) error {
	var req StatsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err)
	}
	base, err := s.validateRender(req.RenderRequest)
	if err != nil {
		return badRequest(c, err)
	}
	req.RenderRequest = base

	stats, err := s.svc.Stats(c.Request().Context(), req)
	if err != nil {
		return s.serviceError(c, err)
	}

	return c.JSON(http.StatusOK, stats)
}

// validateRender checks the domain constraints on a bound RenderRequest.
func (s *Server) validateRender(req RenderRequest) (RenderRequest, error) {
	if _, err := req.Region(); err != nil {
		return req, err
	}
	if err := req.DateRange(); err != nil {
		return req, err
	}
	if req.Satellite != "" {
		if _, err := sensor.Resolve(req.Satellite); err != nil {
			return req, err
		}
	}
	if req.Parameter != "" {
		if _, err := index.Resolve(req.Parameter); err != nil {
			return req, err
		}
	}
	return req, nil
}

func (s *Server) handleScenes(c echo.Context) error {
	req, err := s.bindRender(c)
	if err != nil {
		return badRequest(c, err)
	}

	scenes, err := s.svc.Scenes(c.Request().Context(), req)
	if err != nil {
		return s.serviceError(c, err)
	}

	out := make([]sceneResponse, 0, len(scenes))
	for _, sc := range scenes {
		out = append(out, sceneResponse{
			ID:         sc.ID,
			Time:       sc.Time.UTC().Format(time.RFC3339),
			CloudCover: sc.CloudCover,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleSatellites(c echo.Context) error {
	out := make([]satelliteResponse, 0)
	for _, rec := range sensor.All() {
		out = append(out, satelliteResponse{
			Name:             rec.Name,
			CollectionID:     rec.CollectionID,
			ResolutionMeters: rec.ResolutionMeters,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleIndices(c echo.Context) error {
	out := make([]indexResponse, 0)
	for _, def := range index.All() {
		out = append(out, indexResponse{
			Name:        def.Name,
			Description: def.Description,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateExport(c echo.Context) error {
	var req ExportRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err)
	}
	if _, err := req.Region(); err != nil {
		return badRequest(c, err)
	}
	if err := req.DateRange(); err != nil {
		return badRequest(c, err)
	}
	if req.Satellite != "" {
		if _, err := sensor.Resolve(req.Satellite); err != nil {
			return badRequest(c, err)
		}
	}
	if req.Parameter != "" {
		if _, err := index.Resolve(req.Parameter); err != nil {
			return badRequest(c, err)
		}
	}

	rect, _ := req.Region()
	task := taskqueue.NewExportTask(
		req.DisplayName(),
		req.Satellite,
		req.Parameter,
		taskqueue.BoundingBox{South: rect.South, West: rect.West, North: rect.North, East: rect.East},
		req.StartDate,
		req.EndDate,
		taskqueue.RenderOptions{
			Width:           req.Width,
			Height:          req.Height,
			FramesPerSecond: req.FPS,
			MaxFrames:       req.MaxFrames,
			OutputFormat:    "gif",
		},
	)
	task.Priority = req.Priority

	if err := s.queue.AddTask(task); err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusCreated, task)
}

func (s *Server) handleListExports(c echo.Context) error {
	return c.JSON(http.StatusOK, s.queue.GetAllTasks())
}

func (s *Server) handleExportStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.queue.GetStatus())
}

func (s *Server) handleGetExport(c echo.Context) error {
	task, err := s.queue.GetTask(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) handleDeleteExport(c echo.Context) error {
	if err := s.queue.DeleteTask(c.Param("id")); err != nil {
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCancelExport(c echo.Context) error {
	if err := s.queue.CancelTask(c.Param("id")); err != nil {
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStartExports(c echo.Context) error {
	if err := s.queue.StartQueue(); err != nil {
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, s.queue.GetStatus())
}

func (s *Server) handlePauseExports(c echo.Context) error {
	if err := s.queue.PauseQueue(); err != nil {
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, s.queue.GetStatus())
}

func (s *Server) handleClearCompleted(c echo.Context) error {
	s.queue.ClearCompleted()
	return c.JSON(http.StatusOK, s.queue.GetStatus())
}
