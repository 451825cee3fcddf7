// Package server exposes the orchestrator over HTTP with gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prethora/glowly"
)

// Service is the part of *glowly.Orchestrator the handlers use.
type Service interface {
	Analyze(ctx context.Context, img image.Image) (*glowly.AnalysisResult, error)
	Recommend(ctx context.Context, userID string, res *glowly.AnalysisResult) (glowly.Recommendation, error)
	RecordFeedback(ctx context.Context, userID string, ev glowly.FeedbackEvent) error
	Models() []glowly.ModelInfo
	Metrics() glowly.PerformanceMetrics
	Initialized() bool
}

var _ Service = (*glowly.Orchestrator)(nil)

// Archiver stores completed analyses. Optional.
type Archiver interface {
	Save(ctx context.Context, userID string, res *glowly.AnalysisResult) (string, error)
}

// Handler serves the HTTP API.
type Handler struct {
	svc     Service
	archive Archiver
	logger  *slog.Logger

	// MaxUploadBytes bounds request bodies carrying images.
	MaxUploadBytes int64
}

// NewHandler creates a handler. archive may be nil.
func NewHandler(svc Service, archive Archiver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, archive: archive, logger: logger, MaxUploadBytes: 20 << 20}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.logger))
	h.Register(router)
	return router
}

// Register adds the API routes to r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.health)
	r.GET("/metrics", h.metrics)
	r.GET("/models", h.models)
	r.POST("/analyze", h.analyze)

	users := r.Group("/users/:id")
	{
		users.POST("/recommendations", h.recommend)
		users.POST("/feedback", h.feedback)
	}
}

// Run serves h on addr until ctx is canceled, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

// statusFor maps glowly errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, glowly.ErrUnsuitableInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, glowly.ErrInvalidFeedback):
		return http.StatusBadRequest
	case errors.Is(err, glowly.ErrNotInitialized), errors.Is(err, glowly.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	desc := glowly.Describe(err)
	c.JSON(status, gin.H{
		"error":    err.Error(),
		"message":  desc.Message,
		"recovery": desc.Recovery,
	})
}
