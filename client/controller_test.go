package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dietchat-service/internal/models"
)

type messageGatewayMock struct {
	mock.Mock
}

func (m *messageGatewayMock) ListMessages(ctx context.Context, roomID int) ([]models.Message, error) {
	args := m.Called(ctx, roomID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *messageGatewayMock) SendMessage(ctx context.Context, roomID int, draft Draft) (models.Message, error) {
	args := m.Called(ctx, roomID, draft)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

// fakeChannel stands in for the realtime channel in controller tests.
type fakeChannel struct {
	events chan Event
	state  State
	mu     sync.Mutex
	closed bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan Event, 8), state: StateOpen}
}

func (f *fakeChannel) Events() <-chan Event { return f.events }

func (f *fakeChannel) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Close marks the channel closed but leaves the events channel open so tests
// can deliver events that race with controller teardown.
func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.state = StateClosed
}

func (f *fakeChannel) failTerminally() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.state = StateFailed
		close(f.events)
	}
}

func (f *fakeChannel) push(msg *models.Message) {
	f.events <- Event{Message: msg}
}

type controllerHarness struct {
	controller *Controller
	gateway    *messageGatewayMock
	channel    *fakeChannel

	mu        sync.Mutex
	snapshots [][]models.Message
	states    []State
}

func newControllerHarness(t *testing.T, roomID int, history []models.Message) *controllerHarness {
	t.Helper()

	h := &controllerHarness{
		gateway: new(messageGatewayMock),
		channel: newFakeChannel(),
	}
	h.gateway.On("ListMessages", mock.Anything, roomID).Return(history, nil).Once()

	h.controller = NewController(ControllerConfig{
		RoomID:  roomID,
		Session: NewMemorySession("t", 2),
		Gateway: h.gateway,
		OnUpdate: func(snapshot []models.Message) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.snapshots = append(h.snapshots, snapshot)
		},
		OnChannelState: func(state State) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.states = append(h.states, state)
		},
		newChannel: func() realtimeChannel { return h.channel },
	})
	require.NoError(t, h.controller.Open(context.Background()))
	return h
}

func (h *controllerHarness) waitForLen(t *testing.T, want int) []models.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := h.controller.Messages()
		if len(msgs) == want {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("message list never reached length %d (have %d)", want, len(h.controller.Messages()))
	return nil
}

func history(ids ...int) []models.Message {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := make([]models.Message, 0, len(ids))
	for i, id := range ids {
		msgs = append(msgs, models.Message{
			ID: id, RoomID: 1, SenderID: 3, Content: "m",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	return msgs
}

func TestControllerOpenLoadsHistory(t *testing.T) {
	h := newControllerHarness(t, 1, history(10, 11))
	defer h.controller.Close()

	msgs := h.controller.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, 10, msgs[0].ID)
	assert.Equal(t, 11, msgs[1].ID)
	h.gateway.AssertExpectations(t)
}

func TestControllerAbsorbsDuplicatePush(t *testing.T) {
	// History holds ids 10 and 11; a push echo of 11 must not grow the list.
	h := newControllerHarness(t, 1, history(10, 11))
	defer h.controller.Close()

	dup := h.controller.Messages()[1]
	h.channel.push(&dup)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.controller.Messages(), 2)
}

func TestControllerAppliesInlinePush(t *testing.T) {
	h := newControllerHarness(t, 1, history(10, 11))
	defer h.controller.Close()

	h.channel.push(&models.Message{
		ID: 12, RoomID: 1, SenderID: 3, Content: "new",
		CreatedAt: time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC),
	})

	msgs := h.waitForLen(t, 3)
	assert.Equal(t, 12, msgs[2].ID)
}

func TestControllerRefetchesOnBareSignal(t *testing.T) {
	h := newControllerHarness(t, 1, history(10))
	defer h.controller.Close()

	h.gateway.On("ListMessages", mock.Anything, 1).Return(history(10, 11), nil).Once()
	h.channel.push(nil)

	h.waitForLen(t, 2)
	h.gateway.AssertExpectations(t)
}

func TestControllerDiscardsForeignRoomFrames(t *testing.T) {
	h := newControllerHarness(t, 1, history(10))
	defer h.controller.Close()

	h.channel.push(&models.Message{ID: 99, RoomID: 2, SenderID: 3, Content: "stray"})

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.controller.Messages(), 1)
}

func TestControllerSendEmptyRejectedBeforeNetwork(t *testing.T) {
	h := newControllerHarness(t, 1, history())
	defer h.controller.Close()

	err := h.controller.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	h.gateway.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestControllerSendMergesResponseAndAbsorbsEcho(t *testing.T) {
	h := newControllerHarness(t, 1, history(10))
	defer h.controller.Close()

	sent := models.Message{
		ID: 11, RoomID: 1, SenderID: 2, Content: "hello",
		CreatedAt: time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC),
	}
	h.gateway.On("SendMessage", mock.Anything, 1, Draft{Content: "hello"}).Return(sent, nil).Once()

	require.NoError(t, h.controller.Send(context.Background(), "hello"))
	assert.Len(t, h.controller.Messages(), 2)

	// The server also pushes the same message back to the sender.
	h.channel.push(&sent)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.controller.Messages(), 2)
}

func TestControllerSendKeepsAttachmentOnFailure(t *testing.T) {
	h := newControllerHarness(t, 1, history())
	defer h.controller.Close()

	att := &Attachment{FileName: "plan.pdf", ContentType: "application/pdf"}
	h.controller.StageFile(att)

	h.gateway.On("SendMessage", mock.Anything, 1, mock.Anything).
		Return(models.Message{}, &GatewayError{Op: "send message", Status: 502}).Once()

	err := h.controller.Send(context.Background(), "here")
	require.Error(t, err)

	// The staged attachment survives so the user can retry without
	// restaging.
	sent := models.Message{ID: 1, RoomID: 1, SenderID: 2, File: "/uploads/plan.pdf", CreatedAt: time.Now()}
	h.gateway.On("SendMessage", mock.Anything, 1, Draft{Content: "here", File: att}).Return(sent, nil).Once()
	require.NoError(t, h.controller.Send(context.Background(), "here"))
	h.gateway.AssertExpectations(t)
}

func TestControllerStagesAtMostOneAttachment(t *testing.T) {
	h := newControllerHarness(t, 1, history())
	defer h.controller.Close()

	image := &Attachment{FileName: "photo.jpg", ContentType: "image/jpeg"}
	file := &Attachment{FileName: "plan.pdf", ContentType: "application/pdf"}
	h.controller.StageImage(image)
	h.controller.StageFile(file)

	sent := models.Message{ID: 1, RoomID: 1, SenderID: 2, File: "/uploads/plan.pdf", CreatedAt: time.Now()}
	h.gateway.On("SendMessage", mock.Anything, 1, Draft{Content: "", File: file}).Return(sent, nil).Once()

	require.NoError(t, h.controller.Send(context.Background(), ""))
	h.gateway.AssertExpectations(t)
}

func TestControllerCloseDiscardsLateEvents(t *testing.T) {
	h := newControllerHarness(t, 1, history(10))

	h.controller.Close()
	h.channel.push(&models.Message{
		ID: 11, RoomID: 1, SenderID: 3, Content: "late",
		CreatedAt: time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC),
	})

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.controller.Messages(), 1)
}

func TestControllerSurfacesChannelFailure(t *testing.T) {
	h := newControllerHarness(t, 1, history())
	defer h.controller.Close()

	h.channel.failTerminally()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		states := append([]State(nil), h.states...)
		h.mu.Unlock()
		if len(states) > 0 {
			assert.Equal(t, StateFailed, states[0])
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("channel failure never surfaced")
}
