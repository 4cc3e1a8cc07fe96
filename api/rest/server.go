// Package rest exposes the runner over HTTP: event intake, run history and
// logs, live event streaming over WebSocket, and workflow management.
package rest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/zacharyburnett/matrixci/internal/config"
	"github.com/zacharyburnett/matrixci/internal/engine"
	"github.com/zacharyburnett/matrixci/internal/jsonutil"
	"github.com/zacharyburnett/matrixci/pkg/logger"
)

// Server is the HTTP surface around an engine: a run store fed by the
// engine's event stream, a dispatch queue, the loaded workflow set and the
// cron scheduler for schedule triggers.
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	engine    *engine.Engine
	store     *runStore
	queue     *dispatcher
	workflows *workflowSet
	cron      *cronScheduler
	started   time.Time
	log       *zap.Logger

	pruneStop chan struct{}
	pruneOnce sync.Once
}

// cachePruneInterval is how often the background cache prune runs.
const cachePruneInterval = time.Hour

// NewServer wires the service. workflowDir may be empty; runs can then only
// be started through the engine directly.
func NewServer(cfg *config.Config, eng *engine.Engine, workflowDir string) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	app := fiber.New(fiber.Config{
		AppName:      "matrixci",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: errorHandler,
		JSONEncoder:  jsonutil.Marshal,
		JSONDecoder:  jsonutil.Unmarshal,
	})

	s := &Server{
		app:       app,
		cfg:       cfg,
		engine:    eng,
		store:     newRunStore(cfg.Server.HistoryLimit),
		workflows: newWorkflowSet(workflowDir),
		started:   time.Now(),
		log:       logger.Named("rest"),
		pruneStop: make(chan struct{}),
	}
	s.queue = newDispatcher(eng, s.store, cfg.Server.QueueSize, cfg.Server.Workers)
	s.cron = newCronScheduler(s.queue, s.store, s.workflows)

	n, errs := s.workflows.load()
	for _, err := range errs {
		s.log.Warn("workflow failed to load", zap.Error(err))
	}
	if workflowDir != "" {
		s.log.Info("workflows loaded", zap.String("dir", workflowDir), zap.Int("count", n))
	}
	s.cron.rebuild()

	go s.store.consume(eng.Broadcaster().Subscribe())
	if cfg.Cache.MaxAge > 0 || cfg.Cache.MaxBytes > 0 {
		go s.pruneCache()
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// pruneCache evicts stale cache entries in the background until the server
// shuts down.
func (s *Server) pruneCache() {
	ticker := time.NewTicker(cachePruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.pruneStop:
			return
		case <-ticker.C:
			removed, err := s.engine.Cache().Prune(s.cfg.Cache.MaxAge, s.cfg.Cache.MaxBytes)
			if err != nil {
				s.log.Warn("cache prune failed", zap.Error(err))
			} else if removed > 0 {
				s.log.Info("cache pruned", zap.Int("removed", removed))
			}
		}
	}
}

func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(fiberlogger.New(fiberlogger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	if s.cfg.Server.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:     "*",
			AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
			AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-API-Key",
			AllowCredentials: false,
			MaxAge:           86400,
		}))
	}

	if s.cfg.Server.Auth.Enabled {
		s.app.Use(s.apiKeyAuth)
	}
}

// apiKeyAuth guards every route except the liveness probe. The key rides in
// X-API-Key, an Authorization bearer token, or the api_key query parameter.
func (s *Server) apiKeyAuth(c *fiber.Ctx) error {
	if c.Path() == "/healthz" {
		return c.Next()
	}

	key := c.Get("X-API-Key")
	if key == "" {
		if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if key == "" {
		key = c.Query("api_key")
	}

	if key == "" {
		return Unauthorized(c, "api key is required")
	}
	if key != s.cfg.Server.Auth.APIKey {
		return Unauthorized(c, "invalid api key")
	}
	return c.Next()
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", s.health)

	api := s.app.Group("/api/v1")

	api.Post("/events", s.postEvent)

	api.Get("/runs", s.listRuns)
	api.Get("/runs/:id", s.getRun)
	api.Get("/runs/:id/jobs", s.getRunJobs)
	api.Get("/runs/:id/logs", s.getRunLogs)
	api.Post("/runs/:id/cancel", s.cancelRun)

	api.Get("/workflows", s.listWorkflows)
	api.Post("/workflows/validate", s.validateWorkflow)
	api.Post("/workflows/reload", s.reloadWorkflows)

	s.setupWebSocketRoutes()
}

// Start starts the scheduler and listens on the configured address.
func (s *Server) Start() error {
	s.cron.start()
	return s.app.Listen(s.cfg.Server.Address)
}

// StartWithContext runs the server until the context is cancelled, then
// shuts down gracefully.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the scheduler, the listener and the worker pool. In-flight
// runs are cancelled.
func (s *Server) Shutdown() error {
	s.pruneOnce.Do(func() { close(s.pruneStop) })
	s.cron.stop()
	err := s.app.Shutdown()
	s.queue.close()
	return err
}

// ShutdownWithTimeout bounds the listener drain; the worker pool is still
// waited for afterwards.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	s.pruneOnce.Do(func() { close(s.pruneStop) })
	s.cron.stop()
	err := s.app.ShutdownWithTimeout(timeout)
	s.queue.close()
	return err
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// errorHandler shapes unhandled errors into the response envelope.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(Response{
		Code:    code,
		Message: message,
	})
}
