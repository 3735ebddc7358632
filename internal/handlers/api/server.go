package api

import (
	"context"
	"io/fs"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"timelapse-server/internal/cache"
	"timelapse-server/internal/config"
	"timelapse-server/internal/ee"
	"timelapse-server/internal/ratelimit"
	"timelapse-server/internal/taskqueue"
)

// Service is the rendering facade the HTTP layer calls into, implemented
// by the application root.
type Service interface {
	// Timelapse renders an animated timelapse and returns its URL.
	Timelapse(ctx context.Context, req RenderRequest) (string, error)
	// Thumbnail renders a single composite preview as PNG bytes.
	Thumbnail(ctx context.Context, req RenderRequest) ([]byte, error)
	// SceneCount reports total matching scenes and how many a timelapse
	// would actually use.
	SceneCount(ctx context.Context, req RenderRequest) (total, limited int, err error)
	// Stats reduces the composited index over the region.
	Stats(ctx context.Context, req StatsRequest) (map[string]float64, error)
	// Scenes lists matching scenes with acquisition time and cloud cover.
	Scenes(ctx context.Context, req RenderRequest) ([]ee.Scene, error)
}

// Admin is the operational surface behind the settings, cache, and quota
// endpoints, implemented by the application root.
type Admin interface {
	GetSettings() (*config.Settings, error)
	SaveSettings(settings *config.Settings) error
	GetSettingsPath() string
	GetRateLimitStatus(provider string) *ratelimit.RateLimitEvent
	IsRateLimited(provider string) bool
	ManualRetryRateLimit(provider string)
	SetAutoRetryRateLimit(enabled bool)
	GetCacheStats() cache.UsageStats
	ClearCache() error
}

// Server is the HTTP front end.
type Server struct {
	echo   *echo.Echo
	svc    Service
	admin  Admin
	queue  *taskqueue.QueueManager
	limits *ratelimit.Handler
	logger *zap.Logger
}

// NewServer wires the echo instance. staticFS may be nil to disable the
// bundled frontend (tests do this).
func NewServer(svc Service, admin Admin, queue *taskqueue.QueueManager, limits *ratelimit.Handler, staticFS fs.FS, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))

	s := &Server{
		echo:   e,
		svc:    svc,
		admin:  admin,
		queue:  queue,
		limits: limits,
		logger: logger.Named("api"),
	}
	s.registerRoutes(staticFS)

	return s
}

func (s *Server) registerRoutes(staticFS fs.FS) {
	g := s.echo.Group("/api")

	g.GET("/timelapse", s.handleTimelapse)
	g.GET("/thumbnail", s.handleThumbnail)
	g.GET("/count", s.handleCount)
	g.GET("/stats", s.handleStats)
	g.GET("/scenes", s.handleScenes)
	g.GET("/satellites", s.handleSatellites)
	g.GET("/indices", s.handleIndices)
	g.GET("/health", s.handleHealth)

	g.POST("/exports", s.handleCreateExport)
	g.GET("/exports", s.handleListExports)
	g.GET("/exports/status", s.handleExportStatus)
	g.POST("/exports/start", s.handleStartExports)
	g.POST("/exports/pause", s.handlePauseExports)
	g.POST("/exports/clear-completed", s.handleClearCompleted)
	g.GET("/exports/:id", s.handleGetExport)
	g.DELETE("/exports/:id", s.handleDeleteExport)
	g.POST("/exports/:id/cancel", s.handleCancelExport)

	g.GET("/settings", s.handleGetSettings)
	g.PUT("/settings", s.handleSaveSettings)
	g.GET("/cache/stats", s.handleCacheStats)
	g.DELETE("/cache", s.handleClearCache)
	g.GET("/ratelimit", s.handleRateLimitStatus)
	g.POST("/ratelimit/retry", s.handleRateLimitRetry)
	g.PUT("/ratelimit/auto-retry", s.handleAutoRetry)

	if staticFS != nil {
		s.echo.GET("/*", echo.WrapHandler(http.FileServer(http.FS(staticFS))))
	}
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins serving on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
