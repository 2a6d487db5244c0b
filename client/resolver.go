package client

import (
	"context"

	"dietchat-service/internal/models"
)

// Resolver finds or creates the unique room between the current user and a
// counterpart. Room ids already known from a ListRooms call may be used
// directly without re-resolving.
type Resolver struct {
	gateway RoomGateway
	session Session
}

// NewResolver constructs a Resolver.
func NewResolver(gateway RoomGateway, session Session) *Resolver {
	return &Resolver{gateway: gateway, session: session}
}

// ResolveRoom returns the room shared with the counterpart, creating it when
// none exists. Creation is idempotent server-side; after a failed or
// ambiguous create the room list is re-checked once before giving up, so two
// near-simultaneous resolves for the same pair converge on one room.
func (r *Resolver) ResolveRoom(ctx context.Context, counterpartID int) (models.Room, error) {
	rooms, err := r.gateway.ListRooms(ctx)
	if err != nil {
		return models.Room{}, err
	}
	if room, ok := findRoom(rooms, r.session.UserID(), counterpartID); ok {
		return room, nil
	}

	room, err := r.gateway.CreateRoom(ctx, counterpartID)
	if err == nil {
		return room, nil
	}
	if IsAuthExpired(err) {
		return models.Room{}, err
	}

	// The create may have landed on the server despite the failed response.
	rooms, listErr := r.gateway.ListRooms(ctx)
	if listErr == nil {
		if room, ok := findRoom(rooms, r.session.UserID(), counterpartID); ok {
			return room, nil
		}
	}
	return models.Room{}, err
}

func findRoom(rooms []models.Room, userID, counterpartID int) (models.Room, bool) {
	for _, room := range rooms {
		if room.CounterpartID(userID) == counterpartID {
			return room, true
		}
	}
	return models.Room{}, false
}
