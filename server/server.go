// Package server exposes the gateway over HTTP: a pass-through route per
// dependency, a health report and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	aggregator "github.com/JohnPlummer/jp-go-aggregator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions
var ginModeOnce sync.Once

const (
	requestIDKey        = "request_id"
	defaultMaxBodyBytes = 10 << 20
)

// Options configures a Server.
type Options struct {
	Logger   *slog.Logger
	Gatherer prometheus.Gatherer
	Address  string

	// RequestTimeout bounds each inbound request, retries and waits
	// included. Zero leaves the caller's context untouched.
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	// MaxBodyBytes caps inbound request bodies. Defaults to 10 MiB.
	MaxBodyBytes int64
}

// Server is the gateway's HTTP surface.
type Server struct {
	engine  *gin.Engine
	gateway *aggregator.Gateway
	logger  *slog.Logger
	opts    Options
}

// New builds the gin engine and registers the routes.
func New(gw *aggregator.Gateway, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine:  gin.New(),
		gateway: gw,
		logger:  opts.Logger,
		opts:    opts,
	}

	s.engine.Use(gin.Recovery(), s.requestID(), s.accessLog())
	s.engine.GET("/health", s.health)
	if opts.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	s.engine.Any("/api/:dependency/*path", s.proxy)

	return s
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.opts.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(aggregator.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(aggregator.HeaderRequestID, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString(requestIDKey))
	}
}

type healthReport struct {
	Status       string                    `json:"status"`
	Dependencies []aggregator.HealthStatus `json:"dependencies"`
}

// health always answers 200: an open breaker degrades the gateway but the
// process itself is serving.
func (s *Server) health(c *gin.Context) {
	report := healthReport{Status: "ok", Dependencies: s.gateway.Health()}
	for _, dep := range report.Dependencies {
		if !dep.Healthy {
			report.Status = "degraded"
			break
		}
	}
	c.JSON(http.StatusOK, report)
}
