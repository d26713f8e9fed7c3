package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/teslashibe/go-eyeface/internal/log"
	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
)

const frameJSON = `{"frame":7,"capture_time_ns":1700000000000000000,` +
	`"left":{"origin":[0.03,0,0],"forward":[0.1,-0.2,-0.97],"openness":0.8,"pupil_mm":3.5,"status":"tracked"},` +
	`"right":{"origin":[-0.03,0,0],"forward":[0.12,-0.18,-0.97],"openness":0.4,"pupil_mm":3.4,"status":"visible"}}`

func frameLine(frame int64, openness float64) string {
	return fmt.Sprintf(`{"frame":%d,"left":{"forward":[0,0,-1],"openness":%v,"status":"tracked"},`+
		`"right":{"forward":[0,0,-1],"openness":%v,"status":"tracked"}}`, frame, openness, openness)
}

func TestDecodeFrame(t *testing.T) {
	s, err := DecodeFrame([]byte(frameJSON))
	require.NoError(t, err)

	assert.Equal(t, int64(7), s.Frame)
	assert.Equal(t, time.Unix(0, 1700000000000000000), s.CaptureTime)
	assert.Equal(t, eyetrack.Vector2{X: 0.1, Y: -0.2}, s.Left.Gaze)
	assert.Equal(t, 0.8, s.Left.Openness)
	assert.Equal(t, 3.5, s.Left.PupilDiameter)
	assert.Equal(t, eyetrack.Tracked, s.Left.Confidence)
	assert.Equal(t, eyetrack.Visible, s.Right.Confidence)
	assert.Equal(t, 0.4, s.Right.Openness)
}

func TestDecodeFrame_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"frame":`,
		"openness high":  `{"left":{"openness":1.5,"status":"tracked"},"right":{"status":"tracked"}}`,
		"openness low":   `{"left":{"status":"tracked"},"right":{"openness":-0.1,"status":"tracked"}}`,
		"unknown status": `{"left":{"status":"blinking"},"right":{"status":"tracked"}}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeFrame([]byte(in))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestEncodeFrame_RoundTrip(t *testing.T) {
	want := eyetrack.Sample{
		Frame:       42,
		CaptureTime: time.Unix(0, 1234567890),
		Left:        eyetrack.EyeSample{Gaze: eyetrack.Vector2{X: 0.25, Y: 0.5}, Openness: 0.6, PupilDiameter: 4, Confidence: eyetrack.Compensated},
		Right:       eyetrack.EyeSample{Openness: 1, Confidence: eyetrack.Invalid},
	}
	b, err := EncodeFrame(want)
	require.NoError(t, err)

	got, err := DecodeFrame(b)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLatest(t *testing.T) {
	var l Latest
	_, err := l.Take()
	assert.ErrorIs(t, err, ErrNoSample)

	l.Put(eyetrack.Sample{Frame: 1})
	l.Put(eyetrack.Sample{Frame: 2})
	l.Fail(io.EOF)
	l.Fail(ErrClosed)

	s, err := l.Take()
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Frame)
	assert.Equal(t, uint64(1), l.Drops())

	_, err = l.Take()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_ReadsNewestAndEnds(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewStream(pr, log.Discard())
	defer s.Close()
	ctx := context.Background()

	_, err := s.Read(ctx)
	assert.ErrorIs(t, err, ErrNoSample)

	go func() {
		fmt.Fprintln(pw, "# header")
		fmt.Fprintln(pw, frameLine(1, 0.5))
		fmt.Fprintln(pw, "garbage")
		fmt.Fprintln(pw, frameLine(2, 0.6))
		pw.Close()
	}()

	var got eyetrack.Sample
	require.Eventually(t, func() bool {
		sample, err := s.Read(ctx)
		if err == nil {
			got = sample
		}
		return errors.Is(err, io.EOF)
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, int64(2), got.Frame)
	assert.Equal(t, uint64(1), s.Malformed())
}

func TestStream_CloseReportsClosed(t *testing.T) {
	pr, _ := io.Pipe()
	s := NewStream(pr, log.Discard())
	require.NoError(t, s.Close())

	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close())
}

func TestStream_SkipsOversizedLine(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewStream(pr, log.Discard())
	defer s.Close()
	ctx := context.Background()

	go func() {
		fmt.Fprintln(pw, strings.Repeat("\xff", 3*maxLine))
		fmt.Fprintln(pw, frameLine(5, 0.4))
		pw.Close()
	}()

	var got eyetrack.Sample
	require.Eventually(t, func() bool {
		sample, err := s.Read(ctx)
		if err == nil {
			got = sample
		}
		return errors.Is(err, io.EOF)
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, int64(5), got.Frame)
	assert.Equal(t, uint64(1), s.Malformed())
}

func TestStream_ReadErrorEnds(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewStream(pr, log.Discard())
	defer s.Close()

	pw.CloseWithError(errors.New("device unplugged"))

	require.Eventually(t, func() bool {
		_, err := s.Read(context.Background())
		return errors.Is(err, ErrEnded)
	}, 2*time.Second, time.Millisecond)
}

func TestReopeningStream_RecoversAfterFailure(t *testing.T) {
	first, firstW := io.Pipe()
	second, secondW := io.Pipe()
	var mu sync.Mutex
	opened := 0
	open := func() (io.ReadCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		opened++
		switch opened {
		case 1:
			return first, nil
		case 2:
			return nil, errors.New("not yet")
		default:
			return second, nil
		}
	}

	s, err := NewReopeningStream(open, time.Millisecond, log.Discard())
	require.NoError(t, err)
	defer s.Close()

	firstW.CloseWithError(errors.New("device unplugged"))
	go fmt.Fprintln(secondW, frameLine(9, 0.7))

	require.Eventually(t, func() bool {
		sample, err := s.Read(context.Background())
		return err == nil && sample.Frame == 9
	}, 2*time.Second, time.Millisecond)

	_, err = s.Read(context.Background())
	assert.ErrorIs(t, err, ErrNoSample)

	require.NoError(t, s.Close())
	_, err = s.Read(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewReopeningStream_FirstOpenMustSucceed(t *testing.T) {
	_, err := NewReopeningStream(func() (io.ReadCloser, error) {
		return nil, errors.New("no such port")
	}, time.Millisecond, log.Discard())
	assert.ErrorContains(t, err, "no such port")
}

func TestReplay(t *testing.T) {
	capture := strings.Join([]string{frameLine(1, 0.1), "", frameLine(2, 0.2)}, "\n")
	ctx := context.Background()

	r, err := NewReplay(strings.NewReader(capture), false)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	for _, want := range []int64{1, 2} {
		s, err := r.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, s.Frame)
	}
	_, err = r.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)

	looped, err := NewReplay(strings.NewReader(capture), true)
	require.NoError(t, err)
	var frames []int64
	for i := 0; i < 5; i++ {
		s, err := looped.Read(ctx)
		require.NoError(t, err)
		frames = append(frames, s.Frame)
	}
	assert.Equal(t, []int64{1, 2, 1, 2, 1}, frames)

	require.NoError(t, looped.Close())
	_, err = looped.Read(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReplay_RejectsBadCapture(t *testing.T) {
	_, err := NewReplay(strings.NewReader(""), false)
	assert.Error(t, err)

	_, err = NewReplay(strings.NewReader(frameLine(1, 0.5)+"\n{\n"), false)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorContains(t, err, "line 2")
}

func TestMock(t *testing.T) {
	boom := errors.New("boom")
	m := NewMock(append(Samples(eyetrack.Sample{Frame: 1}), Step{Err: boom})...)
	ctx := context.Background()

	s, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Frame)

	_, err = m.Read(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = m.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, m.Reads())
}

func TestPortOptions(t *testing.T) {
	opts, err := PortOptions{Name: "/dev/ttyUSB0", Parity: "even"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 115200, opts.BaudRate)
	assert.Equal(t, 8, opts.DataBits)
	assert.Equal(t, 1, opts.StopBits)
	assert.Equal(t, "E", opts.Parity)

	mode, err := PortOptions{Name: "/dev/ttyUSB0", StopBits: 2}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)

	_, err = PortOptions{}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Name: "x", DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Name: "x", Parity: "mark"}.Normalize()
	assert.Error(t, err)
}

func TestBridge_ReceivesFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.TextMessage, []byte(frameLine(5, 0.7)))
		ws.WriteMessage(websocket.TextMessage, []byte("nonsense"))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	b, err := DialBridge(BridgeOptions{URL: url, ReconnectDelay: 10 * time.Millisecond}, log.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	var got eyetrack.Sample
	require.Eventually(t, func() bool {
		s, err := b.Read(ctx)
		if err != nil {
			return false
		}
		got = s
		return true
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(5), got.Frame)
	assert.Equal(t, 0.7, got.Left.Openness)
	assert.True(t, b.Connected())

	require.NoError(t, b.Close())
	assert.False(t, b.Connected())
	_, err = b.Read(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialBridge_RequiresURL(t *testing.T) {
	_, err := DialBridge(BridgeOptions{}, nil)
	assert.Error(t, err)
}
