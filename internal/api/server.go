// Package api provides the HTTP server that fronts the bridge. It wires
// the dispatch middleware into a Gin engine, exposes the bridge's own
// status and event-stream endpoints, and relays everything unclaimed to
// the local ComfyUI origin.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/lm-remote/LMBridge/internal/api/middleware"
	"github.com/lm-remote/LMBridge/internal/bridge"
	"github.com/lm-remote/LMBridge/internal/config"
	"github.com/lm-remote/LMBridge/internal/events"
	"github.com/lm-remote/LMBridge/internal/logging"
	"github.com/lm-remote/LMBridge/internal/remote"
)

type serverOptionConfig struct {
	extraMiddleware    []gin.HandlerFunc
	engineConfigurator func(*gin.Engine)
	routerConfigurator func(*gin.Engine, *config.Config)
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithEngineConfigurator allows callers to mutate the Gin engine prior to middleware setup.
func WithEngineConfigurator(fn func(*gin.Engine)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.engineConfigurator = fn
	}
}

// WithRouterConfigurator appends a callback after default routes are registered.
func WithRouterConfigurator(fn func(*gin.Engine, *config.Config)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.routerConfigurator = fn
	}
}

// Server ties the Gin engine, the bridge, and the event broadcaster
// together behind one listener.
type Server struct {
	engine      *gin.Engine
	server      *http.Server
	cfg         *config.Config
	bridge      *bridge.Bridge
	broadcaster *events.Broadcaster
	started     time.Time
}

// NewServer creates and initializes the bridge server instance. The
// dispatch middleware runs after the ambient middleware, so proxied and
// tunneled requests still show up in logs and metrics; registered routes
// only ever see passthrough-classified paths.
func NewServer(cfg *config.Config, br *bridge.Bridge, broadcaster *events.Broadcaster, opts ...ServerOption) *Server {
	optionState := &serverOptionConfig{}
	for i := range opts {
		opts[i](optionState)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if optionState.engineConfigurator != nil {
		optionState.engineConfigurator(engine)
	}

	middleware.SetMetricsEnabled(cfg.GetMetricsEnabled())

	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.ConnectionTrackerMiddleware())
	engine.Use(middleware.PrometheusMiddleware())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}
	engine.Use(corsMiddleware(cfg))
	engine.Use(br.Middleware())

	s := &Server{
		engine:      engine,
		cfg:         cfg,
		bridge:      br,
		broadcaster: broadcaster,
		started:     time.Now(),
	}
	s.setupRoutes()
	if optionState.routerConfigurator != nil {
		optionState.routerConfigurator(engine, cfg)
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}

	return s
}

// setupRoutes registers the bridge's own endpoints. Everything else
// falls through NoRoute into the passthrough leg.
func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "port": s.cfg.Port})
	})

	s.engine.GET("/metrics", middleware.MetricsHandler())

	bridgeAPI := s.engine.Group("/api/lm-bridge")
	{
		bridgeAPI.GET("/status", s.statusHandler)
		bridgeAPI.GET("/events", s.eventsHandler)
	}

	s.engine.NoRoute(s.bridge.PassthroughHandler())
}

// statusResponse is the shape served by /api/lm-bridge/status.
type statusResponse struct {
	Status            string         `json:"status"`
	Configured        bool           `json:"configured"`
	RemoteURL         string         `json:"remote_url,omitempty"`
	ComfyURL          string         `json:"comfy_url"`
	UptimeSeconds     int64          `json:"uptime_seconds"`
	ActiveConnections int64          `json:"active_connections"`
	Subscribers       int            `json:"subscribers"`
	Cache             remote.Stats   `json:"cache"`
	RecentEvents      []events.Event `json:"recent_events"`
}

func (s *Server) statusHandler(c *gin.Context) {
	client := s.bridge.Client()
	c.JSON(http.StatusOK, statusResponse{
		Status:            "ok",
		Configured:        client.Configured(),
		RemoteURL:         client.BaseURL(),
		ComfyURL:          s.cfg.GetComfyURL(),
		UptimeSeconds:     int64(time.Since(s.started).Seconds()),
		ActiveConnections: middleware.ActiveConnections.Count(),
		Subscribers:       s.broadcaster.Count(),
		Cache:             client.Stats(),
		RecentEvents:      s.broadcaster.Recent(10),
	})
}

// eventsHandler streams bridge events over SSE. The event name rides the
// event: field and the data: field carries the payload alone, matching
// what a send_sync listener would have received.
func (s *Server) eventsHandler(c *gin.Context) {
	logging.SkipGinRequestLogging(c)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprintf(c.Writer, ": connected\n\n")
	c.Writer.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)
	log.Debugf("api: event stream subscriber connected from %s", c.ClientIP())

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debugf("api: event stream subscriber from %s disconnected", c.ClientIP())
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event.Payload)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Name, data)
			c.Writer.Flush()
		}
	}
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the server until it is stopped. A clean shutdown returns
// nil.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}

	if s.cfg.TLS.Enable {
		cert := strings.TrimSpace(s.cfg.TLS.Cert)
		key := strings.TrimSpace(s.cfg.TLS.Key)
		if cert == "" || key == "" {
			return fmt.Errorf("failed to start HTTPS server: tls.cert or tls.key is empty")
		}
		log.Debugf("Starting bridge server on %s with TLS", s.server.Addr)
		if errServeTLS := s.server.ListenAndServeTLS(cert, key); errServeTLS != nil && !errors.Is(errServeTLS, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTPS server: %v", errServeTLS)
		}
		return nil
	}

	log.Debugf("Starting bridge server on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}

	return nil
}

// Stop gracefully shuts down the server without interrupting active
// connections, then releases the bridge's pooled connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping bridge server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	s.bridge.Close()

	log.Debug("Bridge server stopped")
	return nil
}

// corsMiddleware adds CORS headers for browser access. With no
// configured origins every origin is allowed, mirroring how ComfyUI
// itself is typically exposed on a trusted network.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))

		allowedOrigin := ""
		if origin != "" {
			switch {
			case len(cfg.AllowedOrigins) == 0:
				allowedOrigin = "*"
			case originAllowed(cfg.AllowedOrigins, origin):
				allowedOrigin = origin
			}
		}

		if allowedOrigin != "" {
			c.Header("Access-Control-Allow-Origin", allowedOrigin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "*")
			if allowedOrigin != "*" {
				c.Header("Vary", "Origin")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func originAllowed(allowOrigins []string, origin string) bool {
	if origin == "" || len(allowOrigins) == 0 {
		return false
	}
	for _, allowed := range allowOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
