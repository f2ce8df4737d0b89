// Package http exposes the invoice lifecycle over a JSON API.
// Handlers translate requests into application service calls and map
// lifecycle errors onto status codes.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// ExtractionTokenHeader carries the shared secret of the extraction collaborator
const ExtractionTokenHeader = "X-Extraction-Token"

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// LiveFeed upgrades a request into a live event stream for actor
type LiveFeed interface {
	ServeWS(w http.ResponseWriter, r *http.Request, actor *entity.Actor) error
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	AllowedOrigins  []string
	ExtractionToken string
	Mode            string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		AllowedOrigins: []string{"http://localhost:5173"},
		Mode:           gin.ReleaseMode,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	auth       *Authenticator
	feed       LiveFeed
	logger     Logger
}

// NewServer creates a new HTTP server. feed may be nil to disable /ws/events.
func NewServer(config ServerConfig, handlers *Handlers, auth *Authenticator, feed LiveFeed, logger Logger) *Server {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	server := &Server{
		config:   config,
		router:   gin.New(),
		handlers: handlers,
		auth:     auth,
		feed:     feed,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	corsConfig := cors.DefaultConfig()
	if len(s.config.AllowedOrigins) == 0 || (len(s.config.AllowedOrigins) == 1 && s.config.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.config.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	s.router.Use(cors.New(corsConfig))
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		kv := []interface{}{
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if actor := currentActor(c); actor != nil {
			kv = append(kv, "actor_id", actor.ID)
		}
		s.logger.Info("HTTP request", kv...)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api", s.auth.Middleware(false))
	{
		api.POST("/invoices", h.SubmitInvoice)
		api.GET("/invoices", h.ListInvoices)
		api.GET("/invoices/:id", h.GetInvoice)
		api.GET("/invoices/:id/audit", h.AuditTrail)
		api.POST("/invoices/:id/reconcile", h.RunReconciliation)
		api.POST("/invoices/:id/assign-pm", h.AssignProjectManager)
		api.POST("/invoices/:id/finance-decision", h.FinanceDecision)
		api.POST("/invoices/:id/pm-decision", h.PMDecision)
		api.POST("/invoices/:id/pay", h.MarkPaid)
		api.POST("/invoices/:id/reopen", h.Reopen)
		api.POST("/invoices/:id/documents", h.UploadDocument)
		api.GET("/invoices/:id/documents", h.ListDocuments)

		api.GET("/delegations/mine", h.GetMyDelegation)
		api.PUT("/delegations/mine", h.SetMyDelegation)
		api.DELETE("/delegations/mine", h.RevokeMyDelegation)
		api.GET("/delegations/incoming", h.IncomingDelegations)
	}

	internal := s.router.Group("/internal", RequireToken(ExtractionTokenHeader, s.config.ExtractionToken))
	internal.POST("/extraction-events", h.ExtractionEvent)

	if s.feed != nil {
		s.router.GET("/ws/events", s.auth.Middleware(true), s.serveFeed)
	}
}

func (s *Server) serveFeed(c *gin.Context) {
	actor := currentActor(c)
	if err := s.feed.ServeWS(c.Writer, c.Request, actor); err != nil {
		// The upgrader has already written the error response
		s.logger.Error("WebSocket connection rejected", "actor_id", actor.ID, "error", err)
	}
}

// Start runs the server until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
