// eyeface conditions headset eye tracking into avatar expression weights
// and serves them over a websocket API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-eyeface/internal/config"
	"github.com/teslashibe/go-eyeface/internal/log"
	"github.com/teslashibe/go-eyeface/pkg/app"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "eyeface: %v\n", err)
		os.Exit(2)
	}
	log.Init(cfg.LogLevel, cfg.LogFormat)

	a, err := app.New(cfg)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Init(ctx); err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	if err := a.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		a.Shutdown()
		os.Exit(1)
	}
}

// parseFlags loads EYEFACE_* settings and applies command line overrides.
func parseFlags() (app.Config, error) {
	env, err := config.Load()
	if err != nil {
		return app.Config{}, err
	}
	cfg := app.Config{Env: env}

	flag.StringVar(&cfg.ConfigPath, "config", env.ConfigPath, "Settings file (created with defaults if missing)")
	flag.StringVar(&cfg.Listen, "listen", env.Listen, "HTTP/websocket listen address, empty to disable")
	flag.StringVar(&cfg.Source, "source", env.Source, "Sample source: serial, bridge or replay")
	flag.StringVar(&cfg.SerialPort, "serial-port", env.SerialPort, "Serial device for the serial source")
	flag.IntVar(&cfg.SerialBaud, "baud", env.SerialBaud, "Serial baud rate")
	flag.StringVar(&cfg.BridgeURL, "bridge-url", env.BridgeURL, "Websocket URL for the bridge source")
	flag.StringVar(&cfg.ReplayPath, "replay", env.ReplayPath, "Capture file for the replay source")
	flag.BoolVar(&cfg.ReplayLoop, "loop", env.ReplayLoop, "Loop the replay capture")
	flag.StringVar(&cfg.RecordDB, "record", env.RecordDB, "SQLite file to record sessions into")
	flag.DurationVar(&cfg.ReloadInterval, "reload", env.ReloadInterval, "Settings file poll interval, 0 to disable")
	flag.StringVar(&cfg.LogLevel, "log-level", env.LogLevel, "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFormat, "log-format", env.LogFormat, "Log format: text or json")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable verbose debug logging")
	flag.BoolVar(&cfg.DebugCycles, "debug-cycles", false, "Log every conditioning cycle (very verbose)")
	flag.Parse()

	if cfg.Debug || cfg.DebugCycles {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
