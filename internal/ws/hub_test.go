package ws

import (
	"testing"

	"dietchat-service/internal/models"
)

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub()

	hub.AddClient(1, nil, ConnInfo{ConnID: "c1", UserID: 7})
	if len(hub.rooms) != 1 {
		t.Fatalf("expected room to be created")
	}
	if len(hub.connInfo) != 1 {
		t.Fatalf("expected conn info to be tracked")
	}

	hub.RemoveClient(1, nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected room to be removed")
	}
	if len(hub.connInfo) != 0 {
		t.Fatalf("expected conn info to be cleared")
	}
}

func TestHubBroadcastToEmptyRoom(t *testing.T) {
	hub := NewHub()

	// No connections registered, must not panic.
	hub.BroadcastMessage(5, models.Message{ID: 1, RoomID: 5, SenderID: 7, Content: "hi"})
}
