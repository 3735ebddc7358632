package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/posthog/posthog-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"timelapse-server/internal/cache"
	"timelapse-server/internal/common"
	"timelapse-server/internal/config"
	"timelapse-server/internal/ee"
	"timelapse-server/internal/handlers/api"
	"timelapse-server/internal/index"
	"timelapse-server/internal/ratelimit"
	"timelapse-server/internal/roi"
	"timelapse-server/internal/scene"
	"timelapse-server/internal/sensor"
	"timelapse-server/internal/taskqueue"
)

// Linker flags
var (
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

// App wires the Earth Engine client, cache, export queue and rate limit
// handler together and implements the HTTP layer's Service interface.
type App struct {
	logger           *zap.Logger
	settings         *config.Settings
	eeClient         *ee.Client
	previewCache     *cache.PreviewCache
	queueManager     *taskqueue.QueueManager
	rateLimitHandler *ratelimit.Handler
	posthogClient    posthog.Client

	mu sync.Mutex
}

// NewApp builds the application from settings. The Earth Engine client is
// created but not initialized; credentials are checked lazily on first use.
func NewApp(settings *config.Settings, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		logger:   logger,
		settings: settings,
	}

	a.rateLimitHandler = ratelimit.NewHandler(nil, logger)
	a.rateLimitHandler.SetAutoRetry(settings.AutoRetryOnRateLimit)

	cacheDir := cache.GetCacheDir()
	previewCache, err := cache.NewPreviewCache(cacheDir, settings.CacheMaxSizeMB, settings.MemCacheEntries, settings.CacheTTLDays)
	if err != nil {
		return nil, fmt.Errorf("failed to create preview cache: %w", err)
	}
	a.previewCache = previewCache

	a.eeClient = ee.NewClient(ee.ClientConfig{
		BaseURL:    settings.EEBaseURL,
		Project:    settings.EEProject,
		KeyFile:    settings.EEKeyFile,
		RateLimits: a.rateLimitHandler,
		Logger:     logger,
	})

	queueDir := filepath.Join(filepath.Dir(config.GetSettingsPath()), "queue")
	a.queueManager = taskqueue.NewQueueManager(queueDir, settings.MaxConcurrentTasks, logger)
	a.queueManager.SetExecutor(a)

	if settings.PostHogAPIKey != "" {
		client, err := posthog.NewWithConfig(settings.PostHogAPIKey, posthog.Config{Endpoint: PostHogHost})
		if err != nil {
			logger.Warn("analytics disabled", zap.Error(err))
		} else {
			a.posthogClient = client
		}
	}

	return a, nil
}

// Initialize verifies Earth Engine credentials.
func (a *App) Initialize() error {
	return a.eeClient.Initialize()
}

// Queue exposes the export queue to the HTTP layer.
func (a *App) Queue() *taskqueue.QueueManager {
	return a.queueManager
}

// RateLimits exposes the rate limit handler to the HTTP layer.
func (a *App) RateLimits() *ratelimit.Handler {
	return a.rateLimitHandler
}

// Close releases background workers and flushes analytics.
func (a *App) Close() {
	a.queueManager.Close()
	a.rateLimitHandler.Close()
	if a.posthogClient != nil {
		a.posthogClient.Close()
	}
}

// capture records a product analytics event when analytics is configured.
func (a *App) capture(event string, props map[string]interface{}) {
	if a.posthogClient == nil {
		return
	}
	p := posthog.NewProperties().Set("version", AppVersion)
	for k, v := range props {
		p = p.Set(k, v)
	}
	err := a.posthogClient.Enqueue(posthog.Capture{
		DistinctId: "server",
		Event:      event,
		Properties: p,
	})
	if err != nil {
		a.logger.Debug("analytics enqueue failed", zap.Error(err))
	}
}

// buildQuery resolves a render request into a collection query, applying
// configured defaults for omitted parameters.
func (a *App) buildQuery(satellite, parameter string, region roi.Rect, startDate, endDate string, maxFrames int) (scene.Query, error) {
	if satellite == "" {
		satellite = a.settings.Defaults.Satellite
	}
	if parameter == "" {
		parameter = a.settings.Defaults.Parameter
	}
	if maxFrames == 0 {
		maxFrames = a.settings.Defaults.MaxFrames
	}

	rec, err := sensor.Resolve(satellite)
	if err != nil {
		return scene.Query{}, err
	}
	def, err := index.Resolve(parameter)
	if err != nil {
		return scene.Query{}, err
	}
	start, end, err := common.ParseDateRange(startDate, endDate)
	if err != nil {
		return scene.Query{}, err
	}
	// Filter windows are half-open; include the end date itself.
	end = end.AddDate(0, 0, 1)

	q := scene.Query{
		Sensor:    rec,
		Index:     def,
		Region:    region,
		Start:     start,
		End:       end,
		MaxFrames: maxFrames,
	}
	if err := q.Validate(); err != nil {
		return scene.Query{}, err
	}
	return q, nil
}

func (a *App) queryFromRequest(req api.RenderRequest) (scene.Query, error) {
	region, err := req.Region()
	if err != nil {
		return scene.Query{}, err
	}
	return a.buildQuery(req.Satellite, req.Parameter, region, req.StartDate, req.EndDate, req.MaxFrames)
}

func (a *App) dims(w, h int) (int, int) {
	if w <= 0 {
		w = a.settings.Defaults.ThumbWidth
	}
	if h <= 0 {
		h = a.settings.Defaults.ThumbHeight
	}
	return w, h
}

// Timelapse renders an animated timelapse inside Earth Engine and returns
// the URL of the encoded GIF.
func (a *App) Timelapse(ctx context.Context, req api.RenderRequest) (string, error) {
	q, err := a.queryFromRequest(req)
	if err != nil {
		return "", err
	}

	expr, err := q.TimelapseExpr()
	if err != nil {
		return "", fmt.Errorf("failed to build timelapse expression: %w", err)
	}

	fps := req.FPS
	if fps <= 0 {
		fps = a.settings.Defaults.FramesPerSecond
	}
	width, height := a.dims(req.Width, req.Height)

	url, err := a.eeClient.CreateVideoThumbnail(ctx, ee.VideoOptions{
		Expression:      expr,
		Width:           width,
		Height:          height,
		FramesPerSecond: fps,
	})
	if err != nil {
		return "", err
	}

	a.capture("timelapse_rendered", map[string]interface{}{
		"satellite": q.Sensor.Name,
		"parameter": q.Index.Name,
	})
	return url, nil
}

// Thumbnail renders a single cloud-masked composite as PNG bytes. Results
// are cached keyed on the full request.
func (a *App) Thumbnail(ctx context.Context, req api.RenderRequest) ([]byte, error) {
	q, err := a.queryFromRequest(req)
	if err != nil {
		return nil, err
	}

	width, height := a.dims(req.Width, req.Height)

	key := cache.Key("thumbnail",
		q.Sensor.Name, q.Index.Name,
		q.Region.GeoJSON(),
		common.FormatISO8601(q.Start), common.FormatISO8601(q.End),
		fmt.Sprintf("%dx%d", width, height))
	if data, ok := a.previewCache.Get(key); ok {
		return data, nil
	}

	expr, err := q.CompositeExpr()
	if err != nil {
		return nil, fmt.Errorf("failed to build composite expression: %w", err)
	}

	url, err := a.eeClient.CreateThumbnail(ctx, ee.ThumbnailOptions{
		Expression: expr,
		Width:      width,
		Height:     height,
	})
	if err != nil {
		return nil, err
	}

	data, err := a.eeClient.FetchRendered(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := a.previewCache.Set(key, data); err != nil {
		a.logger.Warn("failed to cache thumbnail", zap.Error(err))
	}
	return data, nil
}

// SceneCount reports how many scenes match the query, and how many a
// timelapse would actually use under the frame limit.
func (a *App) SceneCount(ctx context.Context, req api.RenderRequest) (int, int, error) {
	q, err := a.queryFromRequest(req)
	if err != nil {
		return 0, 0, err
	}

	var total, limited int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, err = a.computeCount(gctx, q.TotalSizeExpr)
		return err
	})
	g.Go(func() error {
		var err error
		limited, err = a.computeCount(gctx, q.LimitedSizeExpr)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return total, limited, nil
}

func (a *App) computeCount(ctx context.Context, build func() (*ee.Expression, error)) (int, error) {
	expr, err := build()
	if err != nil {
		return 0, fmt.Errorf("failed to build count expression: %w", err)
	}
	raw, err := a.eeClient.ComputeValue(ctx, expr)
	if err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("unexpected count result %s: %w", raw, err)
	}
	return n, nil
}

// Stats reduces the composited index over the region.
func (a *App) Stats(ctx context.Context, req api.StatsRequest) (map[string]float64, error) {
	q, err := a.queryFromRequest(req.RenderRequest)
	if err != nil {
		return nil, err
	}

	reducer, err := reducerName(req.Reducer)
	if err != nil {
		return nil, err
	}

	expr, err := q.StatsExpr(reducer)
	if err != nil {
		return nil, err
	}

	raw, err := a.eeClient.ComputeValue(ctx, expr)
	if err != nil {
		return nil, err
	}

	return decodeStats(raw)
}

// decodeStats parses a reduceRegion result. Bands with no unmasked pixels
// in the region come back as JSON null and are omitted.
func decodeStats(raw json.RawMessage) (map[string]float64, error) {
	var parsed map[string]*float64
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unexpected stats result %s: %w", raw, err)
	}

	stats := make(map[string]float64, len(parsed))
	for band, value := range parsed {
		if value != nil {
			stats[band] = *value
		}
	}
	return stats, nil
}

// reducerName maps the API's short reducer names to server-side algorithm
// names.
func reducerName(short string) (string, error) {
	switch short {
	case "", "mean":
		return "Reducer.mean", nil
	case "min":
		return "Reducer.min", nil
	case "max":
		return "Reducer.max", nil
	case "median":
		return "Reducer.median", nil
	case "stdDev":
		return "Reducer.stdDev", nil
	default:
		return "", fmt.Errorf("unknown reducer: %q", short)
	}
}

// Scenes lists matching scenes with acquisition time and cloud cover.
func (a *App) Scenes(ctx context.Context, req api.RenderRequest) ([]ee.Scene, error) {
	q, err := a.queryFromRequest(req)
	if err != nil {
		return nil, err
	}

	limit := req.MaxFrames
	if limit <= 0 {
		limit = 100
	}

	return a.eeClient.ListScenes(ctx, q.Sensor.CollectionID, q.Region.GeoJSON(),
		q.Start, q.End, limit, q.Sensor.CloudProp)
}

// exportFilename builds a readable output name for a finished export.
func exportFilename(task *taskqueue.ExportTask) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, task.Name)
	ext := task.Render.OutputFormat
	if ext == "" {
		ext = "gif"
	}
	return fmt.Sprintf("%s_%s.%s", name, task.ID[:8], ext)
}

// ExecuteExportTask renders a queued timelapse and downloads it into the
// export directory. Implements taskqueue.TaskExecutor.
func (a *App) ExecuteExportTask(ctx context.Context, task *taskqueue.ExportTask, progressChan chan<- taskqueue.TaskProgress) error {
	region := roi.Rect{
		South: task.BBox.South,
		West:  task.BBox.West,
		North: task.BBox.North,
		East:  task.BBox.East,
	}

	q, err := a.buildQuery(task.Satellite, task.Parameter, region, task.StartDate, task.EndDate, task.Render.MaxFrames)
	if err != nil {
		return err
	}

	progressChan <- taskqueue.TaskProgress{CurrentPhase: "rendering"}

	expr, err := q.TimelapseExpr()
	if err != nil {
		return fmt.Errorf("failed to build timelapse expression: %w", err)
	}

	fps := task.Render.FramesPerSecond
	if fps <= 0 {
		fps = a.settings.Defaults.FramesPerSecond
	}
	width, height := a.dims(task.Render.Width, task.Render.Height)

	url, err := a.eeClient.CreateVideoThumbnail(ctx, ee.VideoOptions{
		Expression:      expr,
		Width:           width,
		Height:          height,
		FramesPerSecond: fps,
	})
	if err != nil {
		return err
	}

	progressChan <- taskqueue.TaskProgress{CurrentPhase: "downloading", Percent: 50}

	data, err := a.eeClient.FetchRendered(ctx, url)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(a.settings.ExportDir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	outPath := filepath.Join(a.settings.ExportDir, exportFilename(task))
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	task.OutputPath = outPath

	progressChan <- taskqueue.TaskProgress{
		CurrentPhase: "done",
		BytesDone:    int64(len(data)),
		BytesTotal:   int64(len(data)),
		Percent:      100,
	}

	a.capture("timelapse_exported", map[string]interface{}{
		"satellite": q.Sensor.Name,
		"parameter": q.Index.Name,
		"bytes":     len(data),
	})

	a.logger.Info("export finished",
		zap.String("task", task.ID),
		zap.String("path", outPath),
		zap.Int("bytes", len(data)))
	return nil
}

var _ api.Service = (*App)(nil)
var _ api.Admin = (*App)(nil)
var _ taskqueue.TaskExecutor = (*App)(nil)
