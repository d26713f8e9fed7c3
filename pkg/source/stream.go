package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
)

// maxLine bounds a single wire frame. Longer lines are skipped up to the
// next newline.
const maxLine = 64 * 1024

// DefaultReopenDelay is the wait between attempts to reopen a failed
// stream.
const DefaultReopenDelay = time.Second

// Stream reads newline-delimited frames from a byte stream in the
// background and serves the newest one to Read.
type Stream struct {
	open  func() (io.ReadCloser, error)
	retry time.Duration
	log   *slog.Logger

	latest Latest

	mu   sync.Mutex
	rc   io.ReadCloser
	stop chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	bad       uint64
	badMu     sync.Mutex
}

func newStream(rc io.ReadCloser, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		rc:   rc,
		log:  logger,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// NewStream starts reading frames from rc. The stream owns rc. When rc
// fails the stream ends: Read reports io.EOF for a clean end and ErrEnded
// for a read error.
func NewStream(rc io.ReadCloser, logger *slog.Logger) *Stream {
	s := newStream(rc, logger)
	go s.readLoop()
	return s
}

// NewReopeningStream reads from the stream returned by open. After the
// stream ends or fails it waits retry and calls open again, until Close.
// The first open must succeed.
func NewReopeningStream(open func() (io.ReadCloser, error), retry time.Duration, logger *slog.Logger) (*Stream, error) {
	rc, err := open()
	if err != nil {
		return nil, err
	}
	if retry <= 0 {
		retry = DefaultReopenDelay
	}
	s := newStream(rc, logger)
	s.open = open
	s.retry = retry
	go s.readLoop()
	return s, nil
}

func (s *Stream) readLoop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		rc := s.rc
		s.mu.Unlock()

		err := s.readFrames(rc)
		if s.stopped() {
			return
		}
		if s.open == nil {
			if errors.Is(err, io.EOF) {
				s.latest.Fail(io.EOF)
			} else {
				s.latest.Fail(fmt.Errorf("%w: %w", ErrEnded, err))
			}
			return
		}

		s.log.Warn("stream failed, reopening", "error", err, "retry", s.retry)
		s.mu.Lock()
		s.rc = nil
		s.mu.Unlock()
		rc.Close()

		next, ok := s.reopen()
		if !ok {
			return
		}
		s.mu.Lock()
		if s.stopped() {
			s.mu.Unlock()
			next.Close()
			return
		}
		s.rc = next
		s.mu.Unlock()
	}
}

// reopen retries open until it succeeds or the stream is closed.
func (s *Stream) reopen() (io.ReadCloser, bool) {
	for attempt := 1; ; attempt++ {
		select {
		case <-s.stop:
			return nil, false
		case <-time.After(s.retry):
		}
		rc, err := s.open()
		if err == nil {
			s.log.Info("stream reopened", "attempts", attempt)
			return rc, true
		}
		if attempt == 1 || attempt%30 == 0 {
			s.log.Warn("reopen failed", "error", err, "attempts", attempt)
		}
	}
}

func (s *Stream) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// readFrames decodes lines from r until it fails. A clean end returns
// io.EOF.
func (s *Stream) readFrames(r io.Reader) error {
	br := bufio.NewReaderSize(r, maxLine)
	overlong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			if !overlong {
				overlong = true
				s.malformed(fmt.Errorf("%w: line exceeds %d bytes", ErrMalformed, maxLine))
			}
			continue
		}
		if overlong {
			// Tail of the oversized line.
			overlong = false
		} else if len(chunk) > 0 {
			s.handleLine(chunk)
		}
		if err != nil {
			return err
		}
	}
}

func (s *Stream) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == '#' {
		return
	}
	sample, err := DecodeFrame(line)
	if err != nil {
		s.malformed(err)
		return
	}
	s.latest.Put(sample)
}

func (s *Stream) malformed(err error) {
	s.badMu.Lock()
	s.bad++
	n := s.bad
	s.badMu.Unlock()
	if n == 1 || n%100 == 0 {
		s.log.Warn("dropping malformed frame", "error", err, "malformed_total", n)
	}
}

// Read returns the newest sample received since the previous Read.
func (s *Stream) Read(ctx context.Context) (eyetrack.Sample, error) {
	if err := ctx.Err(); err != nil {
		return eyetrack.Sample{}, err
	}
	return s.latest.Take()
}

// Drops counts frames that arrived faster than they were read.
func (s *Stream) Drops() uint64 { return s.latest.Drops() }

// Malformed counts frames that failed to decode.
func (s *Stream) Malformed() uint64 {
	s.badMu.Lock()
	defer s.badMu.Unlock()
	return s.bad
}

// Close stops the reader and releases the underlying stream.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.latest.Fail(ErrClosed)
		s.mu.Lock()
		close(s.stop)
		if s.rc != nil {
			err = s.rc.Close()
		}
		s.mu.Unlock()
		<-s.done
	})
	return err
}

// PortOptions describes how to open a serial tracker link.
type PortOptions struct {
	Name     string `json:"name"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and fills in 115200 8N1 defaults.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if strings.TrimSpace(opts.Name) == "" {
		return opts, errors.New("serial port name is required")
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into a go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{BaudRate: opts.BaudRate, DataBits: opts.DataBits, StopBits: serial.OneStopBit}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// OpenSerial opens a serial port and streams frames from it. The port is
// reopened if the device goes away.
func OpenSerial(opts PortOptions, logger *slog.Logger) (*Stream, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	open := func() (io.ReadCloser, error) {
		port, err := serial.Open(opts.Name, mode)
		if err != nil {
			return nil, fmt.Errorf("open serial port %s: %w", opts.Name, err)
		}
		return port, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return NewReopeningStream(open, DefaultReopenDelay, logger.With("port", opts.Name))
}
