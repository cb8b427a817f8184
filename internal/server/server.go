package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/CZERTAINLY/toxin/internal/config"
	"github.com/CZERTAINLY/toxin/internal/model"
	"github.com/CZERTAINLY/toxin/internal/runner"
	"github.com/CZERTAINLY/toxin/internal/schema"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
)

const Banner = "toxin is running"

// Scanner is implemented by scan.Orchestrator
type Scanner interface {
	Run(ctx context.Context, req model.ScanRequest) model.ScanResult
	CheckTool(ctx context.Context) (runner.Outcome, error)
}

// Server is a thin HTTP layer over a Scanner. At most
// server.max_concurrent scans run at once, requests above the limit
// are rejected with 429.
type Server struct {
	cfg     config.Server
	scanner Scanner
	sem     *semaphore.Weighted
	engine  *gin.Engine
}

func New(cfg config.Server, scanner Scanner) *Server {
	s := &Server{
		cfg:     cfg,
		scanner: scanner,
		sem:     semaphore.NewWeighted(int64(max(cfg.MaxConcurrent, 1))),
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.engine.GET("/", s.handleHome)
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/schema", s.handleSchema)
	s.engine.POST("/xss_scan", s.handleScan)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is canceled. Requests inherit ctx, so
// running scans are canceled too and Shutdown waits at most
// shutdownTimeout for them to return.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	case <-ctx.Done():
	}

	slog.InfoContext(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHome(c *gin.Context) {
	c.String(http.StatusOK, Banner)
}

func (s *Server) handleHealth(c *gin.Context) {
	if _, err := s.scanner.CheckTool(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSchema(c *gin.Context) {
	c.Data(http.StatusOK, "application/schema+json", schema.ScanResult())
}

func (s *Server) handleScan(c *gin.Context) {
	var params model.RequestParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	req, err := model.NewScanRequest(params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !s.sem.TryAcquire(1) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent scans"})
		return
	}
	defer s.sem.Release(1)

	c.JSON(http.StatusOK, s.scanner.Run(c.Request.Context(), req))
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.InfoContext(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).String(),
			"client", c.ClientIP(),
		)
	}
}
