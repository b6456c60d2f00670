package api

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/phuslu/log"

	"docdex/internal/config"
	"docdex/internal/events"
	"docdex/internal/jobs"
	"docdex/internal/logging"
	"docdex/internal/store"
)

// Server exposes the ingestion engine over HTTP: job management under
// /api/jobs and a live event stream under /api/events.
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	manager *jobs.Manager
	bus     *events.Bus
	store   store.Store
	logger  log.Logger
}

func NewServer(cfg *config.Config, st store.Store, manager *jobs.Manager, bus *events.Bus) *Server {
	s := &Server{
		app:     fiber.New(fiber.Config{DisableStartupMessage: true}),
		cfg:     cfg,
		manager: manager,
		bus:     bus,
		store:   st,
		logger:  logging.Component("api"),
	}

	s.app.Use(s.requestLogger)

	s.app.Get("/healthz", s.health)

	api := s.app.Group("/api")
	api.Post("/jobs", s.enqueueJob)
	api.Get("/jobs", s.listJobs)
	api.Delete("/jobs", s.clearJobs)
	api.Get("/jobs/:id", s.getJob)
	api.Delete("/jobs/:id", s.cancelJob)
	api.Post("/jobs/:id/refresh", s.refreshJob)
	api.Get("/events", s.streamEvents)

	return s
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()

	reqID := c.Get("X-Request-Id")
	if reqID == "" {
		reqID = uuid.New().String()
	}
	c.Locals("request_id", reqID)

	err := c.Next()

	s.logger.Info().
		Str("request_id", reqID).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("request")
	return err
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Listen blocks serving HTTP until Shutdown is called.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
