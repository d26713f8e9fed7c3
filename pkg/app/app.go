// Package app assembles the eyeface service: settings, source,
// conditioner, runner and its sinks.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-eyeface/internal/config"
	"github.com/teslashibe/go-eyeface/internal/log"
	"github.com/teslashibe/go-eyeface/pkg/debug"
	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
	"github.com/teslashibe/go-eyeface/pkg/recorder"
	"github.com/teslashibe/go-eyeface/pkg/runner"
	"github.com/teslashibe/go-eyeface/pkg/settings"
	"github.com/teslashibe/go-eyeface/pkg/source"
	"github.com/teslashibe/go-eyeface/pkg/web"
)

// App is the running service.
type App struct {
	config Config
	log    *slog.Logger

	settings  *settings.Provider
	source    source.Source
	runner    *runner.Runner
	recorder  *recorder.Recorder
	webServer *web.Server
}

// New validates cfg and applies the debug flags.
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	debug.SetEnabled(cfg.Debug)
	debug.SetCycles(cfg.DebugCycles)
	return &App{config: cfg, log: log.Component("app")}, nil
}

// Init builds every component. Call it after New and before Run.
func (a *App) Init(ctx context.Context) error {
	p, err := settings.NewProvider(a.config.ConfigPath, log.Component("settings"))
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	a.settings = p
	st := p.Current()

	cond, err := eyetrack.NewConditioner(st.Config)
	if err != nil {
		return fmt.Errorf("conditioner: %w", err)
	}

	src, err := OpenSource(a.config.Env, log.Component("source"))
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	a.source = src

	a.runner = runner.New(src, cond, runner.Options{
		Interval: st.Interval(),
		Logger:   log.Component("runner"),
	})

	if a.config.RecordDB != "" {
		rec, err := recorder.Open(a.config.RecordDB, log.Component("recorder"))
		if err != nil {
			return fmt.Errorf("recorder: %w", err)
		}
		if _, err := rec.Start(ctx, a.config.Source, st.Config); err != nil {
			rec.Close()
			return fmt.Errorf("recorder: %w", err)
		}
		a.recorder = rec
		a.runner.AddSink(rec)
	}

	if a.config.Listen != "" {
		opts := web.Options{
			Addr:       a.config.Listen,
			Engine:     a.runner,
			Settings:   p,
			OnSettings: a.applySettings,
			Logger:     log.Component("web"),
		}
		if a.recorder != nil {
			opts.Sessions = a.recorder
		}
		a.webServer = web.NewServer(opts)
		a.runner.AddSink(a.webServer)
	}

	a.log.Info("initialized",
		"source", a.config.Source,
		"settings", a.config.ConfigPath,
		"strategy", st.Config.Strategy.String(),
		"interval", st.Interval(),
		"recording", a.recorder != nil,
		"listen", a.config.Listen)
	return nil
}

// Run starts the loop, the settings watcher and the web API, and blocks
// until ctx is done or the source is exhausted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.runner.Run(ctx)
		// A finished replay ends the whole service.
		cancel()
		return err
	})
	g.Go(func() error {
		a.settings.Watch(ctx, a.config.ReloadInterval, a.applySettings)
		return nil
	})
	if a.webServer != nil {
		g.Go(func() error { return a.webServer.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// applySettings pushes reloaded settings into the running loop.
func (a *App) applySettings(st settings.Settings) {
	if err := a.runner.Reconfigure(st.Config); err != nil {
		a.log.Warn("reloaded settings rejected", "error", err)
		return
	}
	a.runner.SetInterval(st.Interval())
}

// Runner exposes the conditioning loop.
func (a *App) Runner() *runner.Runner { return a.runner }

// Shutdown releases the source and closes the recording.
func (a *App) Shutdown() {
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			a.log.Warn("closing source", "error", err)
		}
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.log.Warn("closing recorder", "error", err)
		}
	}
	a.log.Info("stopped")
}

// OpenSource builds the sample source named by env.Source.
func OpenSource(env config.Env, logger *slog.Logger) (source.Source, error) {
	switch env.Source {
	case config.SourceSerial:
		return source.OpenSerial(source.PortOptions{Name: env.SerialPort, BaudRate: env.SerialBaud}, logger)
	case config.SourceBridge:
		return source.DialBridge(source.BridgeOptions{URL: env.BridgeURL}, logger)
	case config.SourceReplay:
		return source.OpenReplay(env.ReplayPath, env.ReplayLoop)
	default:
		return nil, fmt.Errorf("unknown source %q", env.Source)
	}
}
