package ee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// DefaultBaseURL is the Earth Engine v1 REST endpoint.
	DefaultBaseURL = "https://earthengine.googleapis.com/v1"

	// PublicAssetRoot is the parent of the public satellite catalogs.
	PublicAssetRoot = "projects/earthengine-public/assets"

	// Scope is the OAuth2 scope required for Earth Engine calls.
	Scope = "https://www.googleapis.com/auth/earthengine"

	// Provider is the rate-limit provider identifier for Earth Engine.
	Provider = "earthengine"
)

// ResponseChecker inspects responses for quota exhaustion. Implemented by
// the ratelimit handler.
type ResponseChecker interface {
	CheckResponse(provider string, resp *http.Response) bool
	IsRateLimited(provider string) bool
}

// APIError is a structured error returned by the Earth Engine API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("earthengine: %s (HTTP %d %s)", e.Message, e.Code, e.Status)
}

// ClientConfig carries the settings needed to talk to Earth Engine.
type ClientConfig struct {
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string

	// Project is the Google Cloud project that owns the requests.
	Project string

	// KeyFile is the path to a service account JSON key.
	KeyFile string

	// RateLimits, when set, is consulted on every response.
	RateLimits ResponseChecker

	Logger *zap.Logger
}

// Client handles communication with the Earth Engine REST API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	project     string
	keyFile     string
	tokenSource oauth2.TokenSource
	rateLimits  ResponseChecker
	log         *zap.Logger

	mu          sync.Mutex
	initialized bool
}

// NewClient creates an Earth Engine client with system proxy support.
// Initialize must succeed before any request is sent.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
		baseURL:    baseURL,
		project:    cfg.Project,
		keyFile:    cfg.KeyFile,
		rateLimits: cfg.RateLimits,
		log:        logger,
	}
}

// Initialize loads the service account key and prepares the token source.
func (c *Client) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	if c.keyFile == "" {
		return fmt.Errorf("no service account key file configured")
	}

	keyData, err := os.ReadFile(c.keyFile)
	if err != nil {
		return fmt.Errorf("failed to read service account key: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(keyData, Scope)
	if err != nil {
		return fmt.Errorf("failed to parse service account key: %w", err)
	}

	c.tokenSource = oauth2.ReuseTokenSource(nil, jwtConfig.TokenSource(context.Background()))
	c.initialized = true
	c.log.Info("earth engine client initialized",
		zap.String("project", c.project),
		zap.String("clientEmail", jwtConfig.Email))
	return nil
}

// SetTokenSource overrides the token source. Used by tests to bypass the
// service account exchange.
func (c *Client) SetTokenSource(ts oauth2.TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenSource = ts
	c.initialized = true
}

func (c *Client) ensureInitialized() error {
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if initialized {
		return nil
	}
	return c.Initialize()
}

func (c *Client) authorize(req *http.Request) error {
	c.mu.Lock()
	ts := c.tokenSource
	c.mu.Unlock()

	if ts == nil {
		return fmt.Errorf("client not initialized")
	}

	token, err := ts.Token()
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}
	token.SetAuthHeader(req)
	return nil
}

// do sends a request, applies auth, checks rate limits, and decodes either
// the success body into out or a structured API error.
func (c *Client) do(req *http.Request, out interface{}) error {
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("earth engine request failed: %w", err)
	}
	defer resp.Body.Close()

	if c.rateLimits != nil && c.rateLimits.CheckResponse(Provider, resp) {
		return fmt.Errorf("earth engine quota exhausted (HTTP %d)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var wrapper struct {
			Error *APIError `json:"error"`
		}
		if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil {
			return wrapper.Error
		}
		return fmt.Errorf("earth engine request failed with status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	if err := c.ensureInitialized(); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

// ComputeValue evaluates an expression server-side and returns the raw
// JSON result (a number for counts, an object for region reductions).
func (c *Client) ComputeValue(ctx context.Context, expr *Expression) (json.RawMessage, error) {
	var result struct {
		Result json.RawMessage `json:"result"`
	}

	path := fmt.Sprintf("/projects/%s/value:compute", c.project)
	if err := c.post(ctx, path, map[string]interface{}{"expression": expr}, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// ThumbnailOptions control still preview rendering.
type ThumbnailOptions struct {
	Expression *Expression
	Width      int
	Height     int
	FileFormat string // "PNG" or "JPEG"
}

// CreateThumbnail registers a still preview render and returns the URL the
// rendered pixels can be fetched from.
func (c *Client) CreateThumbnail(ctx context.Context, opts ThumbnailOptions) (string, error) {
	format := opts.FileFormat
	if format == "" {
		format = "PNG"
	}

	payload := map[string]interface{}{
		"expression": opts.Expression,
		"fileFormat": format,
		"grid": map[string]interface{}{
			"dimensions": map[string]int{
				"width":  opts.Width,
				"height": opts.Height,
			},
		},
	}

	var result struct {
		Name string `json:"name"`
	}
	path := fmt.Sprintf("/projects/%s/thumbnails", c.project)
	if err := c.post(ctx, path, payload, &result); err != nil {
		return "", err
	}
	if result.Name == "" {
		return "", fmt.Errorf("thumbnail response missing name")
	}

	return fmt.Sprintf("%s/%s:getPixels", c.baseURL, result.Name), nil
}

// VideoOptions control animated timelapse rendering.
type VideoOptions struct {
	Expression      *Expression
	Width           int
	Height          int
	FramesPerSecond int
	FileFormat      string // "GIF" or "MP4"
	CRS             string // defaults to web mercator
}

// CreateVideoThumbnail registers an animated render of an image collection
// and returns the URL of the encoded video. All frame compositing and
// encoding happens inside Earth Engine.
func (c *Client) CreateVideoThumbnail(ctx context.Context, opts VideoOptions) (string, error) {
	format := opts.FileFormat
	if format == "" {
		format = "GIF"
	}
	fps := opts.FramesPerSecond
	if fps <= 0 {
		fps = 5
	}
	crs := opts.CRS
	if crs == "" {
		crs = "EPSG:3857"
	}

	payload := map[string]interface{}{
		"expression": opts.Expression,
		"fileFormat": format,
		"videoOptions": map[string]interface{}{
			"framesPerSecond": fps,
		},
		"grid": map[string]interface{}{
			"crsCode": crs,
			"dimensions": map[string]int{
				"width":  opts.Width,
				"height": opts.Height,
			},
		},
	}

	var result struct {
		Name string `json:"name"`
	}
	path := fmt.Sprintf("/projects/%s/videoThumbnails", c.project)
	if err := c.post(ctx, path, payload, &result); err != nil {
		return "", err
	}
	if result.Name == "" {
		return "", fmt.Errorf("video thumbnail response missing name")
	}

	return fmt.Sprintf("%s/%s:getPixels", c.baseURL, result.Name), nil
}

// FetchRendered downloads rendered pixels (a thumbnail or a finished video)
// from a :getPixels URL.
func (c *Client) FetchRendered(ctx context.Context, renderURL string) ([]byte, error) {
	if err := c.ensureInitialized(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, renderURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rendered pixels: %w", err)
	}
	defer resp.Body.Close()

	if c.rateLimits != nil && c.rateLimits.CheckResponse(Provider, resp) {
		return nil, fmt.Errorf("earth engine quota exhausted (HTTP %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render fetch failed with status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// Scene is one image in a collection listing.
type Scene struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	CloudCover float64   `json:"cloudCover"`
}

// ListScenes queries a public collection's asset listing for scenes
// intersecting a GeoJSON region in [start, end). cloudProp names the
// per-scene cloud cover property, which differs between catalogs.
func (c *Client) ListScenes(ctx context.Context, collectionID, regionGeoJSON string, start, end time.Time, limit int, cloudProp string) ([]Scene, error) {
	if err := c.ensureInitialized(); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("region", regionGeoJSON)
	params.Set("startTime", start.UTC().Format(time.RFC3339))
	params.Set("endTime", end.UTC().Format(time.RFC3339))
	if limit > 0 {
		params.Set("pageSize", fmt.Sprintf("%d", limit))
	}

	listURL := fmt.Sprintf("%s/%s/%s:listImages?%s", c.baseURL, PublicAssetRoot, collectionID, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result struct {
		Images []struct {
			ID         string                 `json:"id"`
			StartTime  time.Time              `json:"startTime"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"images"`
	}
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	scenes := make([]Scene, 0, len(result.Images))
	for _, img := range result.Images {
		scene := Scene{ID: img.ID, Time: img.StartTime}
		if v, ok := img.Properties[cloudProp].(float64); ok {
			scene.CloudCover = v
		}
		scenes = append(scenes, scene)
	}
	return scenes, nil
}
