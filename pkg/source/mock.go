package source

import (
	"context"
	"io"
	"sync"

	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
)

// Step is one scripted Read result.
type Step struct {
	Sample eyetrack.Sample
	Err    error
}

// Mock replays scripted steps and then returns io.EOF. It is safe for
// concurrent use.
type Mock struct {
	mu     sync.Mutex
	steps  []Step
	reads  int
	closed bool
}

// NewMock scripts the given steps.
func NewMock(steps ...Step) *Mock {
	return &Mock{steps: steps}
}

// Samples scripts one successful Read per sample.
func Samples(samples ...eyetrack.Sample) []Step {
	steps := make([]Step, len(samples))
	for i, s := range samples {
		steps[i] = Step{Sample: s}
	}
	return steps
}

func (m *Mock) Read(ctx context.Context) (eyetrack.Sample, error) {
	if err := ctx.Err(); err != nil {
		return eyetrack.Sample{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return eyetrack.Sample{}, ErrClosed
	}
	if m.reads >= len(m.steps) {
		return eyetrack.Sample{}, io.EOF
	}
	st := m.steps[m.reads]
	m.reads++
	return st.Sample, st.Err
}

// Reads is the number of Read calls that consumed a step.
func (m *Mock) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
