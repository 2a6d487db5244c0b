package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedConn feeds prepared frames to the channel's read loop and fails
// once they are exhausted or the conn is closed.
type scriptedConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newScriptedConn(frames ...string) *scriptedConn {
	c := &scriptedConn{
		frames: make(chan []byte, len(frames)),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		c.frames <- []byte(f)
	}
	return c
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	default:
	}
	select {
	case f := <-c.frames:
		return websocket.TextMessage, f, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *scriptedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// droppedConn fails its first read, simulating a transport drop right after
// the handshake.
type droppedConn struct{}

func (droppedConn) ReadMessage() (int, []byte, error) {
	return 0, nil, errors.New("connection dropped")
}

func (droppedConn) Close() error { return nil }

func waitClosed(t *testing.T, events <-chan Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel not closed in time")
		}
	}
}

func TestBackoffDelaySchedule(t *testing.T) {
	base, max := time.Second, 30*time.Second

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for attempt, want := range expected {
		assert.Equal(t, want, backoffDelay(base, max, attempt), "attempt %d", attempt)
	}

	// 2^5 would be 32s, capped at the max.
	assert.Equal(t, max, backoffDelay(base, max, 5))
	assert.Equal(t, max, backoffDelay(base, max, 40))
}

func TestChannelFailsAfterMaxAttempts(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}

	ch := OpenChannel(ChannelConfig{
		BaseURL:     "http://example.test",
		RoomID:      1,
		Session:     NewMemorySession("t", 2),
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		MaxAttempts: 3,
		Dial:        dial,
	})

	waitClosed(t, ch.Events())
	assert.Equal(t, StateFailed, ch.State())
	// One initial connect plus MaxAttempts reconnects, then no more.
	assert.Equal(t, int32(4), dials.Load())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(4), dials.Load(), "no reconnects after Failed")
}

func TestChannelDeliversInlineMessage(t *testing.T) {
	conn := newScriptedConn(`{"type":"chat_message","message":{"id":7,"chat_room":1,"sender_id":2,"content":"hi"}}`)
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) {
		return conn, nil
	}

	ch := OpenChannel(ChannelConfig{
		BaseURL: "http://example.test",
		RoomID:  1,
		Session: NewMemorySession("t", 2),
		Dial:    dial,
	})
	defer ch.Close()

	select {
	case event := <-ch.Events():
		require.NotNil(t, event.Message)
		assert.Equal(t, 7, event.Message.ID)
		assert.Equal(t, "hi", event.Message.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestChannelDeliversBareSignal(t *testing.T) {
	conn := newScriptedConn(`{"type":"chat_message"}`)
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) {
		return conn, nil
	}

	ch := OpenChannel(ChannelConfig{
		BaseURL: "http://example.test",
		RoomID:  1,
		Session: NewMemorySession("t", 2),
		Dial:    dial,
	})
	defer ch.Close()

	select {
	case event := <-ch.Events():
		assert.Nil(t, event.Message, "bare signal carries no payload")
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestChannelSkipsForeignAndMalformedFrames(t *testing.T) {
	conn := newScriptedConn(
		`not json`,
		`{"type":"presence"}`,
		`{"type":"chat_message","message":{"id":3,"chat_room":1,"sender_id":2,"content":"kept"}}`,
	)
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) {
		return conn, nil
	}

	ch := OpenChannel(ChannelConfig{
		BaseURL: "http://example.test",
		RoomID:  1,
		Session: NewMemorySession("t", 2),
		Dial:    dial,
	})
	defer ch.Close()

	select {
	case event := <-ch.Events():
		require.NotNil(t, event.Message)
		assert.Equal(t, "kept", event.Message.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestChannelReconnectsAfterDropAndResetsCounter(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) {
		n := dials.Add(1)
		if n == 1 {
			return droppedConn{}, nil
		}
		return newScriptedConn(`{"type":"chat_message","message":{"id":1,"chat_room":1,"sender_id":2,"content":"back"}}`), nil
	}

	ch := OpenChannel(ChannelConfig{
		BaseURL:     "http://example.test",
		RoomID:      1,
		Session:     NewMemorySession("t", 2),
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		MaxAttempts: 5,
		Dial:        dial,
	})
	defer ch.Close()

	select {
	case event := <-ch.Events():
		require.NotNil(t, event.Message)
		assert.Equal(t, "back", event.Message.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no event after reconnect")
	}
	assert.GreaterOrEqual(t, dials.Load(), int32(2))
}

func TestCloseIsTerminal(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) {
		dials.Add(1)
		return newScriptedConn(), nil
	}

	ch := OpenChannel(ChannelConfig{
		BaseURL: "http://example.test",
		RoomID:  1,
		Session: NewMemorySession("t", 2),
		Dial:    dial,
	})

	// Let it connect, then tear down.
	time.Sleep(10 * time.Millisecond)
	ch.Close()

	waitClosed(t, ch.Events())
	assert.Equal(t, StateClosed, ch.State())

	before := dials.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, dials.Load(), "no reconnect after explicit close")
}

func TestCloseDuringBackoffStopsRetry(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}

	ch := OpenChannel(ChannelConfig{
		BaseURL:     "http://example.test",
		RoomID:      1,
		Session:     NewMemorySession("t", 2),
		BaseDelay:   time.Minute, // long enough that Close lands mid-backoff
		MaxDelay:    time.Minute,
		MaxAttempts: 5,
		Dial:        dial,
	})

	time.Sleep(10 * time.Millisecond)
	ch.Close()

	waitClosed(t, ch.Events())
	assert.Equal(t, StateClosed, ch.State())
	assert.Equal(t, int32(1), dials.Load())
}

func TestChannelWSURLIncludesRoomAndToken(t *testing.T) {
	session := NewMemorySession("secret", 2)
	c := &Channel{cfg: ChannelConfig{BaseURL: "https://api.example.test/", RoomID: 42, Session: session}}

	assert.Equal(t, "wss://api.example.test/ws/chat/42?token=secret", c.wsURL())
	assert.Equal(t, "Bearer secret", c.header().Get("Authorization"))
}
