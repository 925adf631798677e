package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/cache"
	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/cutout"
	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/store"
	"github.com/chaos-io/cutout/util"
)

type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	return nil
}

func (m *memCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

type fixture struct {
	router *gin.Engine
	calls  *atomic.Int32
}

// newFixture 的 provider 把非白色像素当作前景
func newFixture(t *testing.T, segErr error, withCache bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	calls := &atomic.Int32{}
	provider := segment.Func(func(ctx context.Context, img image.Image) (*mask.Mask, error) {
		calls.Add(1)
		if segErr != nil {
			return nil, segErr
		}
		b := img.Bounds()
		m := mask.New(b.Dx(), b.Dy())
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				if r>>8 < 250 {
					m.Set(x, y, 255)
				}
			}
		}
		return m, nil
	})

	st, err := store.New(t.TempDir())
	require.NoError(t, err)

	var outcomes *cache.Outcomes
	if withCache {
		outcomes = cache.NewOutcomes(&memCache{data: map[string]string{}}, time.Minute)
	}

	cfg := config.Default().Server
	cfg.MaxUploadBytes = 64 << 10
	srv := New(cutout.New(segment.Static(provider)), st, outcomes, cfg, zap.NewNop())
	return &fixture{router: srv.Router(), calls: calls}
}

// subjectPNG 白底，(x0,y0)-(x1,y1) 是深色主体
func subjectPNG(t *testing.T, w, h int, subject image.Rectangle) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 255, G: 255, B: 255, A: 255}
			if (image.Point{X: x, Y: y}).In(subject) {
				c = color.RGBA{R: 20, G: 120, B: 200, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	data, err := util.EncodePNG(img)
	require.NoError(t, err)
	return data
}

func upload(t *testing.T, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if data != nil {
		part, err := writer.CreateFormFile("image", "photo.png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func (f *fixture) post(t *testing.T, data []byte, fields map[string]string, accept string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := upload(t, data, fields)
	req := httptest.NewRequest(http.MethodPost, "/v1/cutout", body)
	req.Header.Set("Content-Type", contentType)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
	return resp
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, false)
	resp := f.get("/health")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
	assert.NotEmpty(t, resp.Header().Get(headerRequestID))
}

func TestCutout_CropAndFetch(t *testing.T) {
	f := newFixture(t, nil, false)
	data := subjectPNG(t, 100, 100, image.Rect(25, 25, 75, 75))

	resp := f.post(t, data, map[string]string{"crop": "true"}, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "true", resp.Header().Get(headerForeground))

	var got cutoutResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.True(t, got.ForegroundDetected)
	assert.True(t, got.Cropped)
	assert.Equal(t, 2500, got.ForegroundPixels)
	assert.Equal(t, 50, got.Width)
	assert.Equal(t, 50, got.Height)
	assert.False(t, got.Cached)

	result := f.get(got.URL)
	require.Equal(t, http.StatusOK, result.Code)
	assert.Equal(t, "image/png", result.Header().Get("Content-Type"))
	img, err := util.DecodeImage(result.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 50, 50), img.Bounds())
	_, _, _, a := img.At(10, 10).RGBA()
	assert.Equal(t, uint32(0xffff), a)
}

func TestCutout_PNGResponseWithoutCrop(t *testing.T) {
	f := newFixture(t, nil, false)
	data := subjectPNG(t, 40, 40, image.Rect(0, 0, 20, 40))

	resp := f.post(t, data, nil, "image/png")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, resp.Header().Get(headerResultID))

	img, err := util.DecodeImage(resp.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	_, _, _, a := img.At(30, 5).RGBA()
	assert.Equal(t, uint32(0), a)
}

func TestCutout_NoForegroundReturnsUploadUnchanged(t *testing.T) {
	f := newFixture(t, nil, false)
	data := subjectPNG(t, 100, 100, image.Rect(0, 0, 10, 10))

	resp := f.post(t, data, map[string]string{"crop": "true"}, "image/png")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "false", resp.Header().Get(headerForeground))
	assert.Equal(t, data, resp.Body.Bytes())
}

func TestCutout_SegmentationFailure(t *testing.T) {
	f := newFixture(t, errors.New("model offline"), false)
	resp := f.post(t, subjectPNG(t, 10, 10, image.Rect(0, 0, 5, 5)), nil, "")
	assert.Equal(t, http.StatusBadGateway, resp.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "segmentation_failed", body["reason"])
}

func TestCutout_RejectsBadUploads(t *testing.T) {
	f := newFixture(t, nil, false)
	png := subjectPNG(t, 4, 4, image.Rect(0, 0, 2, 2))

	tests := []struct {
		name   string
		data   []byte
		fields map[string]string
		want   int
	}{
		{"missing image", nil, nil, http.StatusBadRequest},
		{"not an image", []byte("hello world"), nil, http.StatusUnsupportedMediaType},
		{"too large", append(append([]byte{}, png...), make([]byte, 64<<10)...), nil, http.StatusRequestEntityTooLarge},
		{"bad crop flag", png, map[string]string{"crop": "maybe"}, http.StatusBadRequest},
		{"truncated png", png[:20], nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post(t, tt.data, tt.fields, "")
			assert.Equal(t, tt.want, resp.Code, resp.Body.String())
		})
	}
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestCutout_CachedOutcome(t *testing.T) {
	f := newFixture(t, nil, true)
	data := subjectPNG(t, 30, 30, image.Rect(5, 5, 25, 25))

	first := f.post(t, data, map[string]string{"crop": "true"}, "")
	require.Equal(t, http.StatusOK, first.Code)
	second := f.post(t, data, map[string]string{"crop": "true"}, "")
	require.Equal(t, http.StatusOK, second.Code)

	var a, b cutoutResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.ID, b.ID)
	assert.True(t, b.Cached)
	assert.Equal(t, int32(1), f.calls.Load())

	// 不同的裁剪参数是另一个缓存键
	third := f.post(t, data, map[string]string{"crop": "false"}, "")
	require.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestResult_NotFound(t *testing.T) {
	f := newFixture(t, nil, false)
	assert.Equal(t, http.StatusNotFound, f.get("/v1/results/unknown").Code)
	assert.Equal(t, http.StatusNotFound, f.get("/v1/results/2fWnwGgQ9xqXJm8bH4RkQwZ5K3a").Code)
}

func TestRequestIDPropagates(t *testing.T) {
	f := newFixture(t, nil, false)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(headerRequestID, "req-123")
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	assert.Equal(t, "req-123", resp.Header().Get(headerRequestID))
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	srv := New(cutout.New(segment.Static(segment.AlphaProvider{})), st, nil, config.Default().Server, zap.NewNop())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener, time.Second) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
