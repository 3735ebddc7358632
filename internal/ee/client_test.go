package ee_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"timelapse-server/internal/ee"
)

func newTestClient(t *testing.T, handler http.Handler) (*ee.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := ee.NewClient(ee.ClientConfig{
		BaseURL: srv.URL,
		Project: "test-project",
	})
	client.SetTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}))
	return client, srv
}

func testExpression(t *testing.T) *ee.Expression {
	t.Helper()
	expr, err := ee.Serialize(ee.Invoke("Collection.size", map[string]ee.Node{
		"collection": ee.Invoke("ImageCollection.load", map[string]ee.Node{
			"id": ee.String("COPERNICUS/S2_SR_HARMONIZED"),
		}),
	}))
	require.NoError(t, err)
	return expr
}

func TestComputeValue(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody struct {
		Expression *ee.Expression `json:"expression"`
	}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result": 17}`))
	}))

	raw, err := client.ComputeValue(context.Background(), testExpression(t))
	require.NoError(t, err)

	assert.Equal(t, "/projects/test-project/value:compute", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	require.NotNil(t, gotBody.Expression)
	assert.NotEmpty(t, gotBody.Expression.Result)

	var n int
	require.NoError(t, json.Unmarshal(raw, &n))
	assert.Equal(t, 17, n)
}

func TestComputeValueAPIError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"code": 400, "message": "Expression parse error", "status": "INVALID_ARGUMENT"}}`))
	}))

	_, err := client.ComputeValue(context.Background(), testExpression(t))
	require.Error(t, err)

	var apiErr *ee.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)
	assert.Equal(t, "Expression parse error", apiErr.Message)
	assert.Equal(t, "INVALID_ARGUMENT", apiErr.Status)
}

func TestCreateThumbnail(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/test-project/thumbnails", r.URL.Path)

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "PNG", payload["fileFormat"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name": "projects/test-project/thumbnails/abc123"}`))
	}))

	url, err := client.CreateThumbnail(context.Background(), ee.ThumbnailOptions{
		Expression: testExpression(t),
		Width:      512,
		Height:     512,
	})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/projects/test-project/thumbnails/abc123:getPixels", url)
}

func TestCreateVideoThumbnail(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/test-project/videoThumbnails", r.URL.Path)

		var payload struct {
			FileFormat   string `json:"fileFormat"`
			VideoOptions struct {
				FramesPerSecond int `json:"framesPerSecond"`
			} `json:"videoOptions"`
			Grid struct {
				CRSCode    string `json:"crsCode"`
				Dimensions struct {
					Width  int `json:"width"`
					Height int `json:"height"`
				} `json:"dimensions"`
			} `json:"grid"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "GIF", payload.FileFormat)
		assert.Equal(t, 5, payload.VideoOptions.FramesPerSecond)
		assert.Equal(t, "EPSG:3857", payload.Grid.CRSCode)
		assert.Equal(t, 512, payload.Grid.Dimensions.Width)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name": "projects/test-project/videoThumbnails/v99"}`))
	}))

	url, err := client.CreateVideoThumbnail(context.Background(), ee.VideoOptions{
		Expression: testExpression(t),
		Width:      512,
		Height:     512,
	})
	require.NoError(t, err)
	assert.Contains(t, url, srv.URL)
	assert.Contains(t, url, "videoThumbnails/v99")
}

type fakeChecker struct {
	limited bool
	checked int
}

func (f *fakeChecker) CheckResponse(provider string, resp *http.Response) bool {
	f.checked++
	f.limited = resp.StatusCode == http.StatusTooManyRequests
	return f.limited
}

func (f *fakeChecker) IsRateLimited(provider string) bool { return f.limited }

func TestRateLimitChecker(t *testing.T) {
	checker := &fakeChecker{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client := ee.NewClient(ee.ClientConfig{
		BaseURL:    srv.URL,
		Project:    "test-project",
		RateLimits: checker,
	})
	client.SetTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"}))

	_, err := client.ComputeValue(context.Background(), testExpression(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exhausted")
	assert.Equal(t, 1, checker.checked)
	assert.True(t, checker.IsRateLimited(ee.Provider))
}

func TestListScenes(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "COPERNICUS/S2_SR_HARMONIZED:listImages")
		assert.NotEmpty(t, r.URL.Query().Get("region"))
		assert.Equal(t, "2023-01-01T00:00:00Z", r.URL.Query().Get("startTime"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"images": [
			{"id": "COPERNICUS/S2_SR_HARMONIZED/A", "startTime": "2023-02-03T08:30:00Z",
			 "properties": {"CLOUDY_PIXEL_PERCENTAGE": 12.5}},
			{"id": "COPERNICUS/S2_SR_HARMONIZED/B", "startTime": "2023-03-01T08:30:00Z",
			 "properties": {}}
		]}`))
	}))

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	scenes, err := client.ListScenes(context.Background(), "COPERNICUS/S2_SR_HARMONIZED",
		`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`,
		start, end, 10, "CLOUDY_PIXEL_PERCENTAGE")
	require.NoError(t, err)

	require.Len(t, scenes, 2)
	assert.Equal(t, "COPERNICUS/S2_SR_HARMONIZED/A", scenes[0].ID)
	assert.Equal(t, 12.5, scenes[0].CloudCover)
	assert.Equal(t, 0.0, scenes[1].CloudCover)
}

func TestFetchRendered(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47}
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))

	data, err := client.FetchRendered(context.Background(), srv.URL+"/render/abc:getPixels")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}
