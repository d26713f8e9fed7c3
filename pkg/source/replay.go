package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
)

// Replay serves a recorded capture one frame per Read.
type Replay struct {
	frames []eyetrack.Sample
	loop   bool
	pos    int
	closed bool
}

// NewReplay reads every frame from r up front. Blank lines and lines
// starting with # are skipped; any malformed frame fails the load.
func NewReplay(r io.Reader, loop bool) (*Replay, error) {
	var frames []eyetrack.Sample
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 || b[0] == '#' {
			continue
		}
		s, err := DecodeFrame(b)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		frames = append(frames, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("capture contains no frames")
	}
	return &Replay{frames: frames, loop: loop}, nil
}

// OpenReplay loads a capture file.
func OpenReplay(path string, loop bool) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	r, err := NewReplay(f, loop)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Read returns the next frame, io.EOF at the end of a non-looping capture.
func (r *Replay) Read(ctx context.Context) (eyetrack.Sample, error) {
	if err := ctx.Err(); err != nil {
		return eyetrack.Sample{}, err
	}
	if r.closed {
		return eyetrack.Sample{}, ErrClosed
	}
	if r.pos >= len(r.frames) {
		if !r.loop {
			return eyetrack.Sample{}, io.EOF
		}
		r.pos = 0
	}
	s := r.frames[r.pos]
	r.pos++
	return s, nil
}

// Len is the number of frames in the capture.
func (r *Replay) Len() int { return len(r.frames) }

func (r *Replay) Close() error {
	r.closed = true
	return nil
}
