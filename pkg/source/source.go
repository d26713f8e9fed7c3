// Package source delivers eye tracker samples to the conditioning loop.
//
// A Source is polled once per cycle. Sources that receive data on their
// own schedule (serial, websocket) keep only the newest sample and report
// ErrNoSample when nothing new arrived since the last Read.
package source

import (
	"context"
	"errors"

	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
)

var (
	// ErrNoSample means no new sample is available this cycle.
	ErrNoSample = errors.New("source: no new sample")

	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("source: closed")

	// ErrEnded wraps the read error that ended a stream for good.
	ErrEnded = errors.New("source: stream ended")

	// ErrMalformed wraps frames that cannot be decoded.
	ErrMalformed = errors.New("source: malformed frame")
)

// Source yields eye samples. Read must not block longer than ctx allows.
// A finite source returns io.EOF once exhausted.
type Source interface {
	Read(ctx context.Context) (eyetrack.Sample, error)
	Close() error
}
