package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sweeney/homer-callflow/internal/calls"
)

// CallService is what the API serves.
type CallService interface {
	Search(ctx context.Context, q calls.Query) (calls.Result, error)
	Detail(ctx context.Context, callID string, anchorID, ts int64) (calls.DetailResult, error)
	Export(ctx context.Context, callID string, anchorID, ts int64) ([]byte, string, error)
}

// Options configures a Server.
type Options struct {
	Listen string
	// Basic auth for /api is enabled when AdminPassword is set.
	AdminUser     string
	AdminPassword string
	Release       bool
}

// Server is the JSON API in front of a CallService.
type Server struct {
	svc        CallService
	opts       Options
	logger     *zap.SugaredLogger
	router     *gin.Engine
	httpServer *http.Server
}

// New builds the router. A nil logger discards output.
func New(svc CallService, opts Options, logger *zap.SugaredLogger) *Server {
	if opts.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.AdminUser == "" {
		opts.AdminUser = "admin"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	router := gin.New()
	// Call ids may contain '/', which clients send escaped.
	router.UseRawPath = true

	s := &Server{svc: svc, opts: opts, logger: logger, router: router}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(RequestID())
	s.router.Use(RequestLogger(s.logger))
	s.router.Use(Metrics())
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	if s.opts.AdminPassword != "" {
		api.Use(gin.BasicAuth(gin.Accounts{s.opts.AdminUser: s.opts.AdminPassword}))
	} else {
		s.logger.Warn("HTTP basic auth is disabled; set http.admin_password to enable it")
	}

	api.GET("/calls", s.searchCalls)
	api.GET("/calls/:callid", s.callDetail)
	api.GET("/calls/:callid/export.json", s.exportCall)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("HTTP API listening", "addr", s.opts.Listen)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP API")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
