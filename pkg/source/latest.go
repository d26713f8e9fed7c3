package source

import (
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
)

// Latest is a single-slot mailbox. Put overwrites an unconsumed sample
// and counts the drop; Take empties the slot.
type Latest struct {
	mu     sync.Mutex
	sample eyetrack.Sample
	fresh  bool
	err    error

	drops atomic.Uint64
}

// Put stores s, replacing any sample not yet taken.
func (l *Latest) Put(s eyetrack.Sample) {
	l.mu.Lock()
	if l.fresh {
		l.drops.Add(1)
	}
	l.sample = s
	l.fresh = true
	l.mu.Unlock()
}

// Fail records a terminal error. It is reported by Take once the pending
// sample, if any, has been consumed. The first error wins.
func (l *Latest) Fail(err error) {
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
}

// Take returns the pending sample, ErrNoSample if there is none, or the
// recorded terminal error.
func (l *Latest) Take() (eyetrack.Sample, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fresh {
		l.fresh = false
		return l.sample, nil
	}
	if l.err != nil {
		return eyetrack.Sample{}, l.err
	}
	return eyetrack.Sample{}, ErrNoSample
}

// Drops is the number of samples overwritten before being taken.
func (l *Latest) Drops() uint64 {
	return l.drops.Load()
}
