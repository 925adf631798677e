package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/cache"
	"github.com/chaos-io/cutout/cutout"
	"github.com/chaos-io/cutout/logging"
	"github.com/chaos-io/cutout/store"
	"github.com/chaos-io/cutout/util"
)

const (
	headerForeground = "X-Foreground-Detected"
	headerResultID   = "X-Result-ID"
	// multipart 边界和其他字段的余量
	formOverhead = 1 << 20
)

// RegisterRoutes wires the HTTP handlers to the gin router.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	v1.POST("/cutout", s.handleCutout)
	v1.GET("/results/:id", s.handleResult)
}

type cutoutResponse struct {
	ID                 string `json:"id"`
	URL                string `json:"url"`
	ForegroundDetected bool   `json:"foreground_detected"`
	ForegroundPixels   int    `json:"foreground_pixels"`
	Width              int    `json:"width"`
	Height             int    `json:"height"`
	Cropped            bool   `json:"cropped"`
	Cached             bool   `json:"cached"`
}

func (s *Server) handleCutout(c *gin.Context) {
	requestID := c.GetString(ctxRequestID)
	opLogger := logging.WithOperation(s.logger, "server.cutout", requestID)

	data, status, err := s.readUpload(c)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	crop, err := strconv.ParseBool(c.DefaultPostForm("crop", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "crop must be a boolean"})
		return
	}

	ctx := c.Request.Context()
	key := cache.Key(data, crop)
	if entry := s.lookup(c, key, opLogger); entry != nil {
		s.respond(c, entry, true)
		return
	}

	img, err := util.DecodeImage(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to decode image"})
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled while waiting"})
		return
	}
	outcome, err := s.pipeline.Run(ctx, img, crop)
	s.sem.Release(1)
	if err != nil {
		wrapped := logging.NewOperationError("pipeline.run", requestID, err)
		opLogger.Error("cutout failed", zap.Error(wrapped), zap.String("reason", cutout.Reason(err)))
		c.JSON(failureStatus(err), gin.H{"error": err.Error(), "reason": cutout.Reason(err)})
		return
	}

	// 没有主体时原样返回上传的字节
	result := data
	if outcome.ForegroundDetected {
		result, err = util.EncodePNG(outcome.Image)
		if err != nil {
			opLogger.Error("encode result failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode result"})
			return
		}
	}

	id, err := s.store.Put(result)
	if err != nil {
		opLogger.Error("store result failed", zap.Error(logging.NewOperationError("store.put", requestID, err)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store result"})
		return
	}

	b := outcome.Image.Bounds()
	entry := &cache.Entry{
		ResultID:           id,
		ForegroundDetected: outcome.ForegroundDetected,
		ForegroundPixels:   outcome.Classification.ForegroundPixels,
		Width:              b.Dx(),
		Height:             b.Dy(),
		Cropped:            outcome.Cropped,
		CreatedAt:          time.Now().UTC(),
	}
	if s.outcomes != nil {
		if err := s.outcomes.Remember(ctx, key, entry); err != nil {
			opLogger.Warn("cache outcome failed", zap.Error(err))
		}
	}

	opLogger.Debug("cutout done",
		zap.String("result_id", id),
		zap.Bool("foreground", outcome.ForegroundDetected),
		zap.Int("foreground_pixels", outcome.Classification.ForegroundPixels),
		zap.Bool("cropped", outcome.Cropped),
	)
	s.respondWith(c, entry, result, false)
}

func (s *Server) handleResult(c *gin.Context) {
	data, err := s.store.Get(c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	if err != nil {
		s.logger.Error("read result failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read result"})
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}

// readUpload returns the bytes of the "image" form file, or an HTTP
// status and error describing why it was rejected.
func (s *Server) readUpload(c *gin.Context) ([]byte, int, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+formOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return nil, http.StatusRequestEntityTooLarge, errors.New("image too large")
		}
		return nil, http.StatusBadRequest, errors.New("image file is required")
	}
	if file.Size > s.maxUpload {
		return nil, http.StatusRequestEntityTooLarge, errors.New("image too large")
	}

	src, err := file.Open()
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("unable to open image")
	}
	defer func() {
		_ = src.Close()
	}()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, http.StatusInternalServerError, errors.New("failed to read image")
	}

	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		return nil, http.StatusUnsupportedMediaType, errors.New("unsupported content type " + mt.String())
	}
	return data, http.StatusOK, nil
}

func (s *Server) lookup(c *gin.Context, key string, opLogger *zap.Logger) *cache.Entry {
	if s.outcomes == nil {
		return nil
	}
	entry, err := s.outcomes.Lookup(c.Request.Context(), key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			opLogger.Warn("cache lookup failed", zap.Error(err))
		}
		return nil
	}
	if !s.store.Exists(entry.ResultID) {
		return nil
	}
	return entry
}

func (s *Server) respond(c *gin.Context, entry *cache.Entry, cached bool) {
	var data []byte
	if wantsImage(c) {
		var err error
		data, err = s.store.Get(entry.ResultID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read result"})
			return
		}
	}
	s.respondWith(c, entry, data, cached)
}

func (s *Server) respondWith(c *gin.Context, entry *cache.Entry, data []byte, cached bool) {
	c.Header(headerForeground, strconv.FormatBool(entry.ForegroundDetected))
	c.Header(headerResultID, entry.ResultID)

	if wantsImage(c) {
		c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
		return
	}
	c.JSON(http.StatusOK, cutoutResponse{
		ID:                 entry.ResultID,
		URL:                "/v1/results/" + entry.ResultID,
		ForegroundDetected: entry.ForegroundDetected,
		ForegroundPixels:   entry.ForegroundPixels,
		Width:              entry.Width,
		Height:             entry.Height,
		Cropped:            entry.Cropped,
		Cached:             cached,
	})
}

func wantsImage(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "image/")
}

func failureStatus(err error) int {
	switch {
	case errors.Is(err, cutout.ErrSegmentationFailed):
		return http.StatusBadGateway
	case errors.Is(err, cutout.ErrCompositingFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
