package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"dietchat-service/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository abstracts chat room persistence.
type RoomRepository interface {
	CreateOrGetRoom(ctx context.Context, clientID int, dietitianID int) (models.Room, error)
	GetRoom(ctx context.Context, roomID int) (models.Room, error)
	ListRooms(ctx context.Context, userID int) ([]models.Room, error)
	IsParticipant(ctx context.Context, roomID int, userID int) (bool, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// CreateOrGetRoom creates the room between a client and a dietitian if it does
// not already exist. The insert is an upsert on the unique pair, so two
// concurrent creates for the same pair resolve to the same row.
func (r *RoomRepo) CreateOrGetRoom(ctx context.Context, clientID int, dietitianID int) (models.Room, error) {
	if clientID == dietitianID {
		return models.Room{}, errors.New("cannot create room with self")
	}

	var room models.Room
	// The no-op DO UPDATE makes RETURNING yield the existing row on conflict.
	query := `INSERT INTO chat_rooms (client_id, dietitian_id) VALUES ($1, $2)
        ON CONFLICT (client_id, dietitian_id) DO UPDATE SET client_id = EXCLUDED.client_id
        RETURNING id, client_id, dietitian_id, created_at`
	err := r.db.QueryRowxContext(ctx, query, clientID, dietitianID).
		Scan(&room.ID, &room.ClientID, &room.DietitianID, &room.CreatedAt)
	if err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, client_id, dietitian_id, created_at FROM chat_rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// ListRooms returns the rooms the user participates in, newest first, each
// with its last message attached when one exists.
func (r *RoomRepo) ListRooms(ctx context.Context, userID int) ([]models.Room, error) {
	query := `SELECT id, client_id, dietitian_id, created_at FROM chat_rooms
        WHERE client_id=$1 OR dietitian_id=$1
        ORDER BY created_at DESC`
	var rooms []models.Room
	if err := r.db.SelectContext(ctx, &rooms, query, userID); err != nil {
		return nil, err
	}

	for i := range rooms {
		var msg models.Message
		err := r.db.GetContext(ctx, &msg, `SELECT id, room_id, sender_id, content, image, file, created_at
            FROM chat_messages WHERE room_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`, rooms[i].ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, err
		}
		rooms[i].LastMessage = &msg
	}
	return rooms, nil
}

// IsParticipant checks whether a user belongs to the room.
func (r *RoomRepo) IsParticipant(ctx context.Context, roomID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_rooms WHERE id=$1 AND (client_id=$2 OR dietitian_id=$2))`, roomID, userID)
	return exists, err
}
