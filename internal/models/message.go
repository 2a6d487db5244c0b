package models

import "time"

// Message represents a chat message. Messages are immutable once created; at
// least one of Content, Image or File is always set.
type Message struct {
	ID        int       `db:"id" json:"id"`
	RoomID    int       `db:"room_id" json:"chat_room"`
	SenderID  int       `db:"sender_id" json:"sender_id"`
	Content   string    `db:"content" json:"content"`
	Image     string    `db:"image" json:"image,omitempty"`
	File      string    `db:"file" json:"file,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Empty reports whether the message carries neither text nor an attachment.
func (m Message) Empty() bool {
	return m.Content == "" && m.Image == "" && m.File == ""
}

// EventTypeChatMessage is the frame type pushed for newly created messages.
const EventTypeChatMessage = "chat_message"

// ChatEvent is broadcasted through websockets. Message may be omitted, in
// which case the frame is a bare new-message signal and consumers re-fetch
// history over REST.
type ChatEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}
