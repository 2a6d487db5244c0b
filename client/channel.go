package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"dietchat-service/internal/models"
)

// State is the lifecycle state of a realtime channel.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateBackoff
	// StateClosed is terminal, reached only by explicit Close.
	StateClosed
	// StateFailed is terminal until the owning view is re-entered, which
	// constructs a fresh channel.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is a push notification received on a channel. A nil Message is a bare
// new-message signal: the consumer must re-fetch history over REST instead of
// guessing.
type Event struct {
	Message *models.Message
}

// Conn is the subset of a websocket connection the channel reads from.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// DialFunc opens the underlying transport. Overridden in tests.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// ChannelConfig configures a realtime channel for one room.
type ChannelConfig struct {
	// BaseURL is the REST base URL; the ws endpoint is derived from it.
	BaseURL string
	RoomID  int
	Session Session

	// BaseDelay and MaxDelay bound the reconnect backoff
	// (delay = min(BaseDelay * 2^attempt, MaxDelay)). MaxAttempts caps
	// consecutive failed reconnects before the channel fails terminally.
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	Dial DialFunc
}

const (
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultMaxAttempts = 5
)

// Channel is the persistent push transport for a single room. It only
// receives; correctness of the message list comes from the Synchronizer
// reconciling against REST history, never from trusting the channel alone.
type Channel struct {
	cfg    ChannelConfig
	events chan Event
	state  atomic.Int32

	closeOnce sync.Once
	closing   chan struct{}
}

// OpenChannel constructs a channel and starts its connect loop.
func OpenChannel(cfg ChannelConfig) *Channel {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Dial == nil {
		cfg.Dial = dialWebsocket
	}

	c := &Channel{
		cfg:     cfg,
		events:  make(chan Event, 32),
		closing: make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	go c.run()
	return c
}

// Events delivers push notifications. The channel is closed once the Channel
// reaches a terminal state; consumers check State to distinguish Closed from
// Failed.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Close tears the channel down. Terminal: no reconnect follows.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closing)
	})
}

func (c *Channel) run() {
	defer close(c.events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.closing
		cancel()
	}()

	reconnects := 0
	for {
		c.setState(StateConnecting)
		conn, err := c.cfg.Dial(ctx, c.wsURL(), c.header())
		if err == nil {
			c.setState(StateOpen)
			reconnects = 0

			// Closing the conn from here unblocks a pending ReadMessage when
			// the channel is torn down mid-read.
			readDone := make(chan struct{})
			go func() {
				select {
				case <-c.closing:
					conn.Close()
				case <-readDone:
				}
			}()
			err = c.readLoop(conn)
			close(readDone)
			conn.Close()
		}

		if c.isClosing() {
			c.setState(StateClosed)
			return
		}
		log.Printf("chat channel room=%d disconnected: %v", c.cfg.RoomID, err)

		if reconnects >= c.cfg.MaxAttempts {
			c.setState(StateFailed)
			return
		}
		delay := backoffDelay(c.cfg.BaseDelay, c.cfg.MaxDelay, reconnects)
		reconnects++

		c.setState(StateBackoff)
		select {
		case <-time.After(delay):
		case <-c.closing:
			c.setState(StateClosed)
			return
		}
	}
}

func (c *Channel) readLoop(conn Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event models.ChatEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Printf("chat channel room=%d dropping malformed frame: %v", c.cfg.RoomID, err)
			continue
		}
		if event.Type != models.EventTypeChatMessage {
			continue
		}

		select {
		case c.events <- Event{Message: event.Message}:
		case <-c.closing:
			return fmt.Errorf("channel closing")
		}
	}
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Channel) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Channel) wsURL() string {
	base := c.cfg.BaseURL
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	u := fmt.Sprintf("%s/ws/chat/%d", strings.TrimRight(base, "/"), c.cfg.RoomID)
	if token := c.cfg.Session.Token(); token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func (c *Channel) header() http.Header {
	header := http.Header{}
	if token := c.cfg.Session.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

func dialWebsocket(ctx context.Context, wsURL string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
