package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-eyeface/internal/log"
)

// fakeConn records writes and blocks reads until closed.
type fakeConn struct {
	mu      sync.Mutex
	written []string
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn { return &fakeConn{closed: make(chan struct{})} }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) WriteMessage(kind int, data []byte) error {
	if kind != websocket.TextMessage {
		return nil
	}
	f.mu.Lock()
	f.written = append(f.written, string(data))
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetReadLimit(int64) {}
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func startHub(t *testing.T, opts ...Option) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", append(opts, WithLogger(log.Discard()))...)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	require.Eventually(t, h.IsRunning, time.Second, time.Millisecond)
	return h, cancel
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	h, cancel := startHub(t)
	defer cancel()

	a, b := newFakeConn(), newFakeConn()
	go NewClient(h, a).Run()
	go NewClient(h, b).Run()
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, h.BroadcastJSON(map[string]int{"cycle": 1}))

	for _, c := range []*fakeConn{a, b} {
		require.Eventually(t, func() bool { return len(c.messages()) == 1 }, time.Second, time.Millisecond)
		assert.JSONEq(t, `{"cycle":1}`, c.messages()[0])
	}

	a.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)
}

func TestHub_ReplaysLastMessage(t *testing.T) {
	h, cancel := startHub(t, WithReplay())
	defer cancel()

	h.Broadcast(NewJSONMessage([]byte(`{"n":1}`)))
	h.Broadcast(NewJSONMessage([]byte(`{"n":2}`)))
	require.Eventually(t, func() bool { return len(h.broadcast) == 0 }, time.Second, time.Millisecond)

	late := newFakeConn()
	go NewClient(h, late).Run()
	require.Eventually(t, func() bool { return len(late.messages()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, `{"n":2}`, late.messages()[0])
}

func TestHub_StopClosesClients(t *testing.T) {
	h, cancel := startHub(t)

	c := newFakeConn()
	go NewClient(h, c).Run()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !h.IsRunning() }, time.Second, time.Millisecond)
	assert.Equal(t, 0, h.ClientCount())

	select {
	case <-c.closed:
	case <-time.After(time.Second):
		t.Fatal("connection not closed after hub stopped")
	}

	// Joining a stopped hub must not block.
	done := make(chan struct{})
	go func() {
		NewClient(h, newFakeConn())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NewClient blocked on stopped hub")
	}
}

func TestHub_BroadcastDropsWhenQueueFull(t *testing.T) {
	h := New("idle", WithLogger(log.Discard()))
	for i := 0; i < cap(h.broadcast)+3; i++ {
		h.Broadcast(NewJSONMessage([]byte(`{}`)))
	}
	assert.Equal(t, uint64(3), h.Dropped())
}
