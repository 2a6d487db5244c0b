package models

import "time"

// Role identifies which side of a room a user occupies.
type Role string

const (
	RoleClient    Role = "client"
	RoleDietitian Role = "dietitian"
)

// Room represents the single chat room between one client and one dietitian.
type Room struct {
	ID          int       `db:"id" json:"id"`
	ClientID    int       `db:"client_id" json:"client_id"`
	DietitianID int       `db:"dietitian_id" json:"dietitian_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`

	// LastMessage is a cached summary for room lists; nil when the room is empty.
	LastMessage *Message `json:"last_message,omitempty"`
}

// CounterpartID returns the other party's id from userID's perspective.
func (r Room) CounterpartID(userID int) int {
	if r.ClientID == userID {
		return r.DietitianID
	}
	return r.ClientID
}

// HasParticipant reports whether userID is one of the room's two parties.
func (r Room) HasParticipant(userID int) bool {
	return r.ClientID == userID || r.DietitianID == userID
}
