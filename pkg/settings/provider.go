package settings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Provider owns the settings file for a running process. It keeps the
// last valid settings and re-reads the file when asked or when Watch sees
// it change.
type Provider struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	current Settings
	modTime time.Time
}

// NewProvider loads path, creating it with defaults when missing.
// Warnings from the file are logged and do not fail construction.
func NewProvider(path string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{path: path, log: logger}

	s, warnings, err := LoadOrCreate(path)
	p.report(warnings)
	if err != nil {
		return nil, err
	}
	p.current = s
	p.modTime = p.stat()
	return p, nil
}

// Path is the settings file location.
func (p *Provider) Path() string { return p.path }

// Current returns the last successfully loaded settings.
func (p *Provider) Current() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Reload re-reads the file. On failure the previous settings stay in
// effect and the error is returned. changed reports whether the loaded
// settings differ from the previous ones.
func (p *Provider) Reload() (s Settings, changed bool, err error) {
	mod := p.stat()
	loaded, warnings, err := Load(p.path)
	p.report(warnings)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.modTime = mod
	if err != nil {
		return p.current, false, err
	}
	changed = loaded != p.current
	p.current = loaded
	return loaded, changed, nil
}

// Save persists s and makes it current.
func (p *Provider) Save(s Settings) error {
	cfg, err := s.Config.Normalize()
	if err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}
	s.Config = cfg
	if err := Save(p.path, s); err != nil {
		return err
	}
	p.mu.Lock()
	p.current = s
	p.modTime = p.stat()
	p.mu.Unlock()
	return nil
}

// Watch polls the file's modification time every interval and calls
// onChange with the new settings whenever a reload changes them. It
// returns when ctx is done.
func (p *Provider) Watch(ctx context.Context, interval time.Duration, onChange func(Settings)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		mod := p.stat()
		p.mu.Lock()
		same := mod.Equal(p.modTime)
		p.mu.Unlock()
		if same {
			continue
		}

		s, changed, err := p.Reload()
		if err != nil {
			p.log.Warn("settings reload failed, keeping previous", "path", p.path, "error", err)
			continue
		}
		if changed {
			p.log.Info("settings reloaded",
				"path", p.path,
				"strategy", s.Config.Strategy.String(),
				"stabilizing_cycles", s.Config.StabilizingCycles,
				"double_time", s.DoubleTime)
			if onChange != nil {
				onChange(s)
			}
		}
	}
}

func (p *Provider) stat() time.Time {
	fi, err := os.Stat(p.path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

func (p *Provider) report(warnings []string) {
	for _, w := range warnings {
		p.log.Warn("settings", "path", p.path, "problem", w)
	}
}
