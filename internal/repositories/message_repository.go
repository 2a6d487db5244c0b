package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"dietchat-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, roomID int, senderID int, content, image, file string) (models.Message, error)
	ListMessages(ctx context.Context, roomID int) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message in a room. The server assigns id and
// timestamp; image and file are URL paths of previously stored uploads.
func (r *MessageRepo) CreateMessage(ctx context.Context, roomID int, senderID int, content, image, file string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO chat_messages (room_id, sender_id, content, image, file)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, room_id, sender_id, content, image, file, created_at`,
		roomID, senderID, content, image, file).
		Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &msg.Image, &msg.File, &msg.CreatedAt)
	return msg, err
}

// ListMessages returns room messages ordered oldest to newest, ties on the
// timestamp broken by id.
func (r *MessageRepo) ListMessages(ctx context.Context, roomID int) ([]models.Message, error) {
	query := `SELECT id, room_id, sender_id, content, image, file, created_at
        FROM chat_messages
        WHERE room_id=$1
        ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, roomID)
	return msgs, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT id, room_id, sender_id, content, image, file, created_at FROM chat_messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}
