// Package server exposes the cutout pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/chaos-io/cutout/cache"
	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/cutout"
	"github.com/chaos-io/cutout/store"
)

// Server serves the cutout API. Pipeline runs are CPU and model heavy, so
// at most cfg.MaxConcurrent of them execute at once.
type Server struct {
	pipeline  *cutout.Pipeline
	store     *store.Store
	outcomes  *cache.Outcomes
	sem       *semaphore.Weighted
	maxUpload int64
	logger    *zap.Logger
}

// New builds a Server. outcomes may be nil to disable caching.
func New(p *cutout.Pipeline, s *store.Store, outcomes *cache.Outcomes, cfg config.Server, logger *zap.Logger) *Server {
	return &Server{
		pipeline:  p,
		store:     s,
		outcomes:  outcomes,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		maxUpload: cfg.MaxUploadBytes,
		logger:    logger.Named("server"),
	}
}

// Router returns a gin engine with middleware and routes installed.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(s.logger))
	r.MaxMultipartMemory = s.maxUpload
	s.RegisterRoutes(r)
	return r
}

// Serve runs an HTTP server on listener until ctx is done, then shuts it
// down gracefully within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, listener net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := srv.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	s.logger.Info("cutout API listening", zap.String("addr", listener.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
