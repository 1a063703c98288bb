// Package api exposes the request lifecycle over HTTP.
package api

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/newmanjulien/overbase/internal/health"
	"github.com/newmanjulien/overbase/internal/lifecycle"
	"github.com/newmanjulien/overbase/internal/metrics"
	"github.com/newmanjulien/overbase/internal/requestid"
	"github.com/newmanjulien/overbase/internal/summarize"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	AuthConfig  AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins []string
	BodyLimit   int
}

// Deps are the services the handlers call.
type Deps struct {
	Controller *lifecycle.Controller
	Tracker    *summarize.Tracker
	Checker    *health.Checker
	Metrics    *metrics.Metrics
}

// Server is the API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures a new API server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "api").Logger()
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 1 << 20
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		Immutable:             true, // params outlive handlers in background summarizations
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             cfg.BodyLimit,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
	})
	if deps.Checker == nil {
		deps.Checker = health.NewChecker(logger)
	}

	s := &Server{app: app, logger: logger, config: cfg}
	s.setupMiddleware(cfg, deps.Metrics)
	s.setupRoutes(newHandlers(deps, logger), deps)
	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, m *metrics.Metrics) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	s.app.Use(requestid.Middleware())

	if len(cfg.CORSOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, s.logger))

	// Access log and latency metrics.
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			// Render now so the recorded status is the final one.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				return herr
			}
		}
		path := c.Path()
		if isProbe(path) {
			return nil
		}
		status := c.Response().StatusCode()
		m.ObserveHTTP(c.Route().Path, strconv.Itoa(status), time.Since(start).Seconds())
		requestid.Logger(c.UserContext(), s.logger).Info().
			Str("method", c.Method()).
			Str("path", path).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("API request")
		return nil
	})
}

func (s *Server) setupRoutes(h *Handlers, deps Deps) {
	s.app.Get("/healthz", health.LivenessHandler())
	s.app.Get("/readyz", deps.Checker.ReadinessHandler())
	if deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	v1 := s.app.Group("/api/v1")
	v1.Get("/cadences", h.Cadences)

	owner := v1.Group("/owners/:owner", requireOwner())
	owner.Get("/calendar", h.Calendar)

	reqs := owner.Group("/requests")
	reqs.Get("/", h.ListRequests)
	reqs.Post("/", requireWrite(), h.CreateDraft)
	reqs.Post("/ensure-draft", requireWrite(), h.EnsureDraft)
	reqs.Get("/:id", h.GetRequest)
	reqs.Get("/:id/occurrences", h.Occurrences)
	reqs.Patch("/:id", requireWrite(), h.UpdateRequest)
	reqs.Delete("/:id", requireWrite(), h.DeleteRequest)
	reqs.Post("/:id/submit", requireWrite(), h.Submit)
	reqs.Post("/:id/unsubmit", requireWrite(), h.Unsubmit)
	reqs.Post("/:id/cleanup", requireWrite(), h.Cleanup)
	reqs.Post("/:id/summarize", requireWrite(), h.Summarize)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}
