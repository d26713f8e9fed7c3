// Package runner drives the conditioning loop: poll the source on a
// fixed interval, condition each sample and publish the result.
package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-eyeface/pkg/debug"
	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
	"github.com/teslashibe/go-eyeface/pkg/source"
)

// Defaults for Options.
const (
	DefaultInterval       = 10 * time.Millisecond
	DefaultFailureBackoff = 240 * time.Millisecond
)

// Frame is one conditioned cycle.
type Frame struct {
	Cycle       uint64               `json:"cycle"`
	Time        time.Time            `json:"time"`
	Sample      eyetrack.Sample      `json:"sample"`
	Verdicts    eyetrack.Verdicts    `json:"verdicts"`
	Expressions eyetrack.Expressions `json:"expressions"`
}

// Sink receives every conditioned frame. Publish is called from the loop
// goroutine and should return quickly.
type Sink interface {
	Publish(ctx context.Context, f Frame) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, f Frame) error

func (fn SinkFunc) Publish(ctx context.Context, f Frame) error { return fn(ctx, f) }

// Options tunes the loop timing.
type Options struct {
	Interval       time.Duration
	FailureBackoff time.Duration
	Logger         *slog.Logger
}

// Status is a point-in-time view of the loop for the HTTP layer.
type Status struct {
	Running      bool                 `json:"running"`
	StartedAt    time.Time            `json:"started_at,omitzero"`
	Interval     string               `json:"interval"`
	Cycles       uint64               `json:"cycles"`
	Empty        uint64               `json:"empty_polls"`
	Failures     uint64               `json:"failures"`
	SinkErrors   uint64               `json:"sink_errors"`
	LastError    string               `json:"last_error,omitempty"`
	LastFrame    int64                `json:"last_frame"`
	LastSampleAt time.Time            `json:"last_sample_at,omitzero"`
	Verdicts     eyetrack.Verdicts    `json:"verdicts"`
	Expressions  eyetrack.Expressions `json:"expressions"`
}

// Runner owns a Conditioner and the Source feeding it.
type Runner struct {
	src     source.Source
	cond    *eyetrack.Conditioner
	sinks   []Sink
	log     *slog.Logger
	backoff time.Duration

	interval atomic.Int64

	// cfgMu serializes writers of the staged configuration.
	cfgMu sync.Mutex

	mu     sync.Mutex
	status Status
}

// New wires src into cond. Sinks are published to in order.
func New(src source.Source, cond *eyetrack.Conditioner, opts Options, sinks ...Sink) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.FailureBackoff <= 0 {
		opts.FailureBackoff = DefaultFailureBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Runner{
		src:     src,
		cond:    cond,
		sinks:   sinks,
		log:     opts.Logger,
		backoff: opts.FailureBackoff,
	}
	r.interval.Store(int64(opts.Interval))
	return r
}

// AddSink appends a sink. It must be called before Run.
func (r *Runner) AddSink(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Run polls until ctx is done or the source is exhausted. It returns nil
// when the source ends and ctx.Err() on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.mu.Lock()
	r.status.Running = true
	r.status.StartedAt = time.Now()
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.status.Running = false
		r.mu.Unlock()
	}()

	r.log.Info("conditioning loop started",
		"interval", interval,
		"strategy", r.cond.Config().Strategy.String(),
		"backoff", r.backoff)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if next := r.Interval(); next != interval {
			interval = next
			ticker.Reset(interval)
			r.log.Info("poll interval changed", "interval", interval)
		}

		done, err := r.Step(ctx)
		if err != nil {
			return err
		}
		if done {
			r.log.Info("source exhausted", "cycles", r.cond.Cycles())
			return nil
		}
	}
}

// Step performs one poll. done is true once the source has ended.
// A failed read sleeps for the back-off before returning so the caller's
// ticker does not hammer a broken device.
func (r *Runner) Step(ctx context.Context) (done bool, err error) {
	sample, err := r.src.Read(ctx)
	switch {
	case err == nil:
	case errors.Is(err, source.ErrNoSample):
		r.mu.Lock()
		r.status.Empty++
		r.mu.Unlock()
		return false, nil
	case errors.Is(err, io.EOF), errors.Is(err, source.ErrClosed):
		return true, nil
	case errors.Is(err, source.ErrEnded):
		r.mu.Lock()
		r.status.LastError = err.Error()
		r.mu.Unlock()
		r.log.Error("sample source ended", "error", err)
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	default:
		r.mu.Lock()
		r.status.Failures++
		r.status.LastError = err.Error()
		failures := r.status.Failures
		r.mu.Unlock()
		r.log.Warn("failed to read eye data, backing off",
			"error", err, "failures", failures, "backoff", r.backoff)

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(r.backoff):
		}
		return false, nil
	}

	out := r.cond.Process(sample)
	frame := Frame{
		Cycle:       r.cond.Cycles(),
		Time:        time.Now(),
		Sample:      sample,
		Verdicts:    r.cond.Verdicts(),
		Expressions: out,
	}

	debug.CycleLog(r.log, "cycle",
		"cycle", frame.Cycle,
		"frame", sample.Frame,
		"left_tracking", frame.Verdicts.Left,
		"right_tracking", frame.Verdicts.Right,
		"left_openness", out.Left.Openness,
		"right_openness", out.Right.Openness)

	var sinkErrs uint64
	for _, s := range r.sinks {
		if err := s.Publish(ctx, frame); err != nil {
			sinkErrs++
			r.log.Warn("sink publish failed", "error", err, "cycle", frame.Cycle)
		}
	}

	r.mu.Lock()
	r.status.Cycles = frame.Cycle
	r.status.LastFrame = sample.Frame
	r.status.LastSampleAt = frame.Time
	r.status.Verdicts = frame.Verdicts
	r.status.Expressions = out
	r.status.SinkErrors += sinkErrs
	r.mu.Unlock()
	return false, nil
}

// Status returns a snapshot of the loop counters and latest output.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	s.Interval = r.Interval().String()
	return s
}

// Interval is the current poll interval.
func (r *Runner) Interval() time.Duration {
	return time.Duration(r.interval.Load())
}

// SetInterval changes the poll interval from the next tick on.
func (r *Runner) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	r.interval.Store(int64(d))
}

// Config is the configuration that will apply to the next cycle.
func (r *Runner) Config() eyetrack.Config {
	return r.cond.Config()
}

// Reconfigure validates cfg and stages it for the next cycle.
func (r *Runner) Reconfigure(cfg eyetrack.Config) error {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	return r.stage(cfg)
}

func (r *Runner) stage(cfg eyetrack.Config) error {
	if err := r.cond.Reconfigure(cfg); err != nil {
		return err
	}
	r.log.Info("configuration staged",
		"strategy", cfg.Strategy.String(),
		"squeeze_threshold", cfg.SqueezeThreshold,
		"widen_threshold", cfg.WidenThreshold,
		"max_open_speed", cfg.MaxOpenSpeed,
		"stabilizing_cycles", cfg.StabilizingCycles,
		"picky_tracking", cfg.PickyTracking,
		"follow", cfg.UntrackedEyeFollowTracked)
	return nil
}

// Tune applies a partial update on top of the staged configuration.
func (r *Runner) Tune(p eyetrack.TuningParams) (eyetrack.Config, error) {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	cfg, err := p.Apply(r.cond.Config())
	if err != nil {
		return r.cond.Config(), err
	}
	if err := r.stage(cfg); err != nil {
		return r.cond.Config(), err
	}
	return cfg, nil
}
