package client

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dietchat-service/internal/models"
)

// realtimeChannel is what the controller needs from a Channel. Narrowed for
// tests.
type realtimeChannel interface {
	Events() <-chan Event
	State() State
	Close()
}

// ControllerConfig configures a per-room chat controller.
type ControllerConfig struct {
	RoomID  int
	Session Session
	Gateway MessageGateway

	// OnUpdate is invoked with the new ordered snapshot after every change to
	// the message list. Optional.
	OnUpdate func([]models.Message)
	// OnChannelState is invoked on realtime channel state transitions the
	// view must surface, in particular StateFailed. Optional.
	OnChannelState func(State)

	// Channel settings, forwarded to OpenChannel.
	BaseURL     string
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Dial        DialFunc

	// newChannel overrides channel construction in tests.
	newChannel func() realtimeChannel
}

// Controller orchestrates a single open room view: initial history fetch,
// the realtime channel, sends with a staged attachment, and teardown. One
// controller exists per open room; re-entering a room builds a fresh one.
type Controller struct {
	cfg    ControllerConfig
	syncer *Synchronizer

	channel realtimeChannel
	cancel  context.CancelFunc
	closed  atomic.Bool
	done    chan struct{}

	mu          sync.Mutex
	stagedImage *Attachment
	stagedFile  *Attachment
}

// NewController builds a controller for the room. Call Open to start it.
func NewController(cfg ControllerConfig) *Controller {
	return &Controller{
		cfg:    cfg,
		syncer: NewSynchronizer(),
		done:   make(chan struct{}),
	}
}

// Open fetches the initial history and opens the realtime channel. The
// returned error comes from the initial fetch; the channel handles its own
// failures via backoff.
func (c *Controller) Open(ctx context.Context) error {
	history, err := c.cfg.Gateway.ListMessages(ctx, c.cfg.RoomID)
	if err != nil {
		return err
	}
	c.notify(c.syncer.MergeHistory(history))

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if c.cfg.newChannel != nil {
		c.channel = c.cfg.newChannel()
	} else {
		c.channel = OpenChannel(ChannelConfig{
			BaseURL:     c.cfg.BaseURL,
			RoomID:      c.cfg.RoomID,
			Session:     c.cfg.Session,
			BaseDelay:   c.cfg.BaseDelay,
			MaxDelay:    c.cfg.MaxDelay,
			MaxAttempts: c.cfg.MaxAttempts,
			Dial:        c.cfg.Dial,
		})
	}

	go c.loop(runCtx)
	return nil
}

// loop consumes channel events until the channel reaches a terminal state.
func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)

	for event := range c.channel.Events() {
		if c.closed.Load() {
			return
		}
		if event.Message != nil {
			// Inline payload: merge directly, dedup absorbs echoes of our own
			// sends. A payload for another room is a stray frame from a stale
			// connection and is discarded.
			if event.Message.RoomID != c.cfg.RoomID {
				log.Printf("chat controller room=%d discarding frame for room %d", c.cfg.RoomID, event.Message.RoomID)
				continue
			}
			c.notify(c.syncer.Apply(*event.Message))
			continue
		}

		// Bare signal: re-fetch the full history rather than guessing what
		// changed.
		history, err := c.cfg.Gateway.ListMessages(ctx, c.cfg.RoomID)
		if err != nil {
			log.Printf("chat controller room=%d refetch failed: %v", c.cfg.RoomID, err)
			continue
		}
		if c.closed.Load() {
			return
		}
		c.notify(c.syncer.MergeHistory(history))
	}

	if c.closed.Load() {
		return
	}
	if state := c.channel.State(); state == StateFailed && c.cfg.OnChannelState != nil {
		c.cfg.OnChannelState(state)
	}
}

// StageImage stages an image attachment for the next send, replacing any
// staged attachment. At most one attachment is staged at a time.
func (c *Controller) StageImage(att *Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stagedImage = att
	c.stagedFile = nil
}

// StageFile stages a file attachment for the next send, replacing any staged
// attachment.
func (c *Controller) StageFile(att *Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stagedFile = att
	c.stagedImage = nil
}

// ClearAttachment removes the staged attachment.
func (c *Controller) ClearAttachment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stagedImage = nil
	c.stagedFile = nil
}

// Send validates and posts a message with the staged attachment, if any. The
// staged attachment is cleared only on success so a failed send can be
// retried without restaging. The response message is merged immediately; a
// push echo of the same message is absorbed by the synchronizer's dedup.
func (c *Controller) Send(ctx context.Context, content string) error {
	c.mu.Lock()
	draft := Draft{Content: content, Image: c.stagedImage, File: c.stagedFile}
	c.mu.Unlock()

	if strings.TrimSpace(content) == "" && draft.Image == nil && draft.File == nil {
		return ErrEmptyMessage
	}

	msg, err := c.cfg.Gateway.SendMessage(ctx, c.cfg.RoomID, draft)
	if err != nil {
		return err
	}

	c.ClearAttachment()
	if !c.closed.Load() {
		c.notify(c.syncer.Apply(msg))
	}
	return nil
}

// Messages returns the current ordered snapshot.
func (c *Controller) Messages() []models.Message {
	return c.syncer.Messages()
}

// Close tears the view down: the realtime channel closes terminally and late
// events are discarded rather than applied.
func (c *Controller) Close() {
	if c.closed.Swap(true) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.channel != nil {
		c.channel.Close()
	}
}

func (c *Controller) notify(snapshot []models.Message) {
	if c.cfg.OnUpdate != nil {
		c.cfg.OnUpdate(snapshot)
	}
}
