// Package web serves the conditioning status API and live expression feed.
package web

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
	"github.com/teslashibe/go-eyeface/pkg/hub"
	"github.com/teslashibe/go-eyeface/pkg/recorder"
	"github.com/teslashibe/go-eyeface/pkg/runner"
	"github.com/teslashibe/go-eyeface/pkg/settings"
)

// Engine is the conditioning loop as seen by the HTTP layer.
type Engine interface {
	Status() runner.Status
	Config() eyetrack.Config
	Tune(p eyetrack.TuningParams) (eyetrack.Config, error)
}

// SettingsStore persists tunables. *settings.Provider satisfies it.
type SettingsStore interface {
	Current() settings.Settings
	Reload() (settings.Settings, bool, error)
	Save(s settings.Settings) error
}

// SessionStore lists recordings. *recorder.Recorder satisfies it.
type SessionStore interface {
	Sessions(ctx context.Context) ([]recorder.Session, error)
	Stats(ctx context.Context, id string) (recorder.Stats, error)
}

// Options wires a Server. Settings and Sessions are optional; their
// endpoints answer 404 when unset.
type Options struct {
	Addr     string
	Engine   Engine
	Settings SettingsStore
	Sessions SessionStore

	// OnSettings is called with reloaded settings so the caller can apply
	// them to the loop.
	OnSettings func(settings.Settings)

	// StatusEvery publishes a status snapshot every n frames. Default 10.
	StatusEvery uint64

	Logger *slog.Logger
}

// Server is the HTTP API and websocket feed. It implements runner.Sink.
type Server struct {
	app  *fiber.App
	opts Options
	log  *slog.Logger

	// Hubs for websocket broadcast (thread-safe!)
	exprHub   *hub.Hub
	statusHub *hub.Hub

	published atomic.Uint64
}

// NewServer creates the server and registers its routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StatusEvery == 0 {
		opts.StatusEvery = 10
	}
	s := &Server{
		opts:      opts,
		log:       opts.Logger,
		exprHub:   hub.New("expressions", hub.WithLogger(opts.Logger)),
		statusHub: hub.New("status", hub.WithLogger(opts.Logger), hub.WithReplay()),
	}

	app := fiber.New(fiber.Config{
		AppName:               "eyeface",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/config", s.handleConfig)
	api.Post("/config/reload", s.handleReload)
	api.Get("/tuning", s.handleGetTuning)
	api.Post("/tuning", s.handleSetTuning)
	api.Get("/sessions", s.handleSessions)
	api.Get("/sessions/:id/stats", s.handleSessionStats)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/expressions", websocket.New(s.handleExpressionsWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Run starts the hubs and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.exprHub.Run(ctx)
	go s.statusHub.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		s.log.Info("web api listening", "addr", s.opts.Addr)
		errc <- s.app.Listen(s.opts.Addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
		return err
	}
	return ctx.Err()
}

// expressionMessage is what /ws/expressions clients receive each cycle.
type expressionMessage struct {
	Cycle       uint64               `json:"cycle"`
	Frame       int64                `json:"frame"`
	Time        time.Time            `json:"time"`
	Expressions eyetrack.Expressions `json:"expressions"`
	Verdicts    eyetrack.Verdicts    `json:"verdicts"`
}

// Publish broadcasts a conditioned frame and, every StatusEvery frames,
// a status snapshot.
func (s *Server) Publish(_ context.Context, f runner.Frame) error {
	if err := s.exprHub.BroadcastJSON(expressionMessage{
		Cycle:       f.Cycle,
		Frame:       f.Sample.Frame,
		Time:        f.Time,
		Expressions: f.Expressions,
		Verdicts:    f.Verdicts,
	}); err != nil {
		return err
	}
	if n := s.published.Add(1); (n-1)%s.opts.StatusEvery == 0 {
		return s.statusHub.BroadcastJSON(s.opts.Engine.Status())
	}
	return nil
}

// ExpressionHub returns the per-cycle broadcast hub.
func (s *Server) ExpressionHub() *hub.Hub { return s.exprHub }

// StatusHub returns the status broadcast hub.
func (s *Server) StatusHub() *hub.Hub { return s.statusHub }
