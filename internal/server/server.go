package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/xscopehub/modelmcp/internal/auth"
	"github.com/xscopehub/modelmcp/internal/config"
	"github.com/xscopehub/modelmcp/internal/jsonrpc"
	"github.com/xscopehub/modelmcp/internal/limiter"
	"github.com/xscopehub/modelmcp/internal/metrics"
)

const maxBodyBytes = 10 << 20

const clientKey = "mcp.client"

// Handler processes one raw JSON-RPC request; nil means no reply.
type Handler interface {
	Handle(ctx context.Context, raw []byte) []byte
}

// Options wires the server's collaborators.
type Options struct {
	Config     config.Config
	Handler    Handler
	Auth       *auth.Authenticator
	Limiter    *limiter.Limiter
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Health     func(ctx context.Context) error
	Logger     *slog.Logger
	TracerName string
}

// Server hosts the MCP endpoint over HTTP.
type Server struct {
	cfg     config.Config
	router  *gin.Engine
	handler Handler
	auth    *auth.Authenticator
	limiter *limiter.Limiter
	metrics *metrics.Metrics
	health  func(ctx context.Context) error
	logger  *slog.Logger
	origins map[string]bool
}

// New constructs a server with all dependencies wired.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     opts.Config,
		handler: opts.Handler,
		auth:    opts.Auth,
		limiter: opts.Limiter,
		metrics: opts.Metrics,
		health:  opts.Health,
		logger:  logger,
		origins: make(map[string]bool),
	}
	for _, o := range opts.Config.Server.AllowedOrigins {
		s.origins[strings.TrimRight(o, "/")] = true
	}

	service := opts.TracerName
	if service == "" {
		service = opts.Config.MCP.Name
	}
	r := gin.New()
	// Forwarding headers are honoured only from these peers; none by default.
	if err := r.SetTrustedProxies(opts.Config.Server.TrustedProxies); err != nil {
		logger.Warn("invalid trusted proxies, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(service))

	metricsHandler := promhttp.Handler()
	if opts.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
	}
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metricsHandler))

	mcp := r.Group("/mcp", s.countStatus, s.checkOrigin, s.authenticate, s.rateLimit)
	mcp.POST("", s.handleMCP)
	mcp.POST("/handle", s.handleMCP)

	s.router = r
	return s
}

// Handler exposes the HTTP handler for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Address,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mcp server listening", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store not ready"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) countStatus(c *gin.Context) {
	c.Next()
	s.metrics.ObserveHTTP(strconv.Itoa(c.Writer.Status()))
}

// checkOrigin rejects browser requests from origins that are not allowed.
// Calls marked internal, such as the stdio bridge, are exempt.
func (s *Server) checkOrigin(c *gin.Context) {
	origin := c.GetHeader("Origin")
	if origin == "" || c.GetHeader(auth.HeaderInternal) == "true" {
		c.Next()
		return
	}
	if s.origins["*"] || s.origins[strings.TrimRight(origin, "/")] {
		c.Next()
		return
	}
	s.logger.Warn("rejected request origin", "origin", origin)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
}

func (s *Server) authenticate(c *gin.Context) {
	client, err := s.auth.Verify(c.Request)
	if err != nil {
		s.logger.Warn("authentication failed", "strategy", s.auth.Strategy(), "remote", c.ClientIP(), "error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if s.auth.Strategy() == config.AuthNone {
		client = c.ClientIP()
	}
	c.Set(clientKey, client)
	c.Next()
}

func (s *Server) rateLimit(c *gin.Context) {
	client := c.GetString(clientKey)
	if client == "" {
		client = c.ClientIP()
	}
	if err := s.limiter.Allow(c.Request.Context(), client); err != nil {
		if errors.Is(err, limiter.ErrRateLimited) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		s.logger.Warn("rate limiter unavailable", "error", err)
	}
	c.Next()
}

func (s *Server) handleMCP(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.Data(http.StatusOK, "application/json", jsonrpc.ErrorResponse(nil, jsonrpc.CodeParseError, "Parse error: "+err.Error()))
		return
	}
	if s.cfg.LogRequests {
		s.logger.Info("mcp request", "client", c.GetString(clientKey), "body", string(body))
	}

	ctx := jsonrpc.WithClient(c.Request.Context(), c.GetString(clientKey))
	reply := s.handler.Handle(ctx, body)
	if reply == nil {
		c.Status(http.StatusNoContent)
		return
	}
	if s.cfg.LogRequests {
		s.logger.Info("mcp response", "client", c.GetString(clientKey), "body", string(reply))
	}
	c.Data(http.StatusOK, "application/json", reply)
}
