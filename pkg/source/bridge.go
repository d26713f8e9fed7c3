package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
)

// BridgeOptions configures a websocket tracker bridge.
type BridgeOptions struct {
	URL              string
	HandshakeTimeout time.Duration
	ReconnectDelay   time.Duration
	// ReadTimeout drops a connection that sends nothing for this long.
	ReadTimeout time.Duration
}

func (o BridgeOptions) withDefaults() BridgeOptions {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 5 * time.Second
	}
	return o
}

// Bridge receives frames from a websocket server that relays the headset
// SDK, reconnecting whenever the link drops.
type Bridge struct {
	opts   BridgeOptions
	log    *slog.Logger
	latest Latest

	connected atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu sync.Mutex
	ws *websocket.Conn
}

// DialBridge starts a bridge to opts.URL. The first connection attempt
// happens in the background; Read reports ErrNoSample until frames flow.
func DialBridge(opts BridgeOptions, logger *slog.Logger) (*Bridge, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("bridge URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{opts: opts.withDefaults(), log: logger.With("url", opts.URL), cancel: cancel}
	b.wg.Add(1)
	go b.run(ctx)
	return b, nil
}

func (b *Bridge) run(ctx context.Context) {
	defer b.wg.Done()
	dialer := websocket.Dialer{HandshakeTimeout: b.opts.HandshakeTimeout}

	for {
		ws, _, err := dialer.DialContext(ctx, b.opts.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Warn("bridge dial failed", "error", err, "retry_in", b.opts.ReconnectDelay)
		} else {
			b.log.Info("bridge connected")
			b.serve(ctx, ws)
			if ctx.Err() != nil {
				return
			}
			b.log.Warn("bridge disconnected", "retry_in", b.opts.ReconnectDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.opts.ReconnectDelay):
		}
	}
}

func (b *Bridge) serve(ctx context.Context, ws *websocket.Conn) {
	b.mu.Lock()
	b.ws = ws
	b.mu.Unlock()
	b.connected.Store(true)

	defer func() {
		b.connected.Store(false)
		b.mu.Lock()
		b.ws = nil
		b.mu.Unlock()
		ws.Close()
	}()

	ws.SetReadLimit(maxLine)
	for ctx.Err() == nil {
		ws.SetReadDeadline(time.Now().Add(b.opts.ReadTimeout))
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				b.log.Debug("bridge read ended", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		sample, err := DecodeFrame(data)
		if err != nil {
			b.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		b.latest.Put(sample)
	}
}

// Read returns the newest frame received since the previous Read.
func (b *Bridge) Read(ctx context.Context) (eyetrack.Sample, error) {
	if err := ctx.Err(); err != nil {
		return eyetrack.Sample{}, err
	}
	return b.latest.Take()
}

// Connected reports whether a websocket session is currently open.
func (b *Bridge) Connected() bool { return b.connected.Load() }

// Drops counts frames that arrived faster than they were read.
func (b *Bridge) Drops() uint64 { return b.latest.Drops() }

// Close stops reconnecting and closes the active connection.
func (b *Bridge) Close() error {
	b.latest.Fail(ErrClosed)
	b.cancel()
	b.mu.Lock()
	if b.ws != nil {
		b.ws.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
