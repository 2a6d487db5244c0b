package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dietchat-service/internal/middleware"
	"dietchat-service/internal/models"
	"dietchat-service/internal/observability"
	"dietchat-service/internal/repositories"
	"dietchat-service/internal/telemetry"
	"dietchat-service/internal/ws"
)

// ChatHandler manages chat room and message endpoints.
type ChatHandler struct {
	roomRepo    repositories.RoomRepository
	messageRepo repositories.MessageRepository
	hub         *ws.Hub
	audit       *telemetry.AuditEmitter
	uploadDir   string
}

// NewChatHandler builds a ChatHandler. uploadDir is where attachment parts of
// multipart sends are stored; they are served back under /uploads/.
func NewChatHandler(roomRepo repositories.RoomRepository, messageRepo repositories.MessageRepository, hub *ws.Hub, audit *telemetry.AuditEmitter, uploadDir string) *ChatHandler {
	return &ChatHandler{
		roomRepo:    roomRepo,
		messageRepo: messageRepo,
		hub:         hub,
		audit:       audit,
		uploadDir:   uploadDir,
	}
}

// ListRooms returns the rooms the authenticated user participates in.
func (h *ChatHandler) ListRooms(c *gin.Context) {
	userID := c.GetInt("userID")

	rooms, err := h.roomRepo.ListRooms(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}
	if rooms == nil {
		rooms = []models.Room{}
	}

	c.JSON(http.StatusOK, rooms)
}

// CreateRoom creates or returns the existing room between the caller and the
// counterpart. Creation is an idempotent upsert on the pair.
func (h *ChatHandler) CreateRoom(c *gin.Context) {
	var req struct {
		CounterpartID int `json:"counterpart_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if userID == req.CounterpartID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	clientID, dietitianID := userID, req.CounterpartID
	if middleware.RoleFromContext(c) == models.RoleDietitian {
		clientID, dietitianID = req.CounterpartID, userID
	}

	room, err := h.roomRepo.CreateOrGetRoom(c.Request.Context(), clientID, dietitianID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}

	c.JSON(http.StatusOK, room)
}

// ListMessages returns a room's messages ordered oldest to newest.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	userID := c.GetInt("userID")
	member, err := h.roomRepo.IsParticipant(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return
	}

	msgs, err := h.messageRepo.ListMessages(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, msgs)
}

// PostMessage stores a message and broadcasts it to the room's open
// websockets. The body is JSON {content} or multipart form with optional
// content, image and file parts; at least one of the three must be present.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	userID := c.GetInt("userID")
	room, err := h.roomRepo.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "room not found"})
		return
	}
	if !room.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return
	}

	content, image, file, err := h.parseSendBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if content == "" && image == "" && file == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message requires content, image or file"})
		return
	}

	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), roomID, userID, content, image, file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	observability.IncMessageSent(messageKind(msg))
	userIDStr := strconv.Itoa(userID)
	h.audit.Emit(c.Request.Context(), "INFO", fmt.Sprintf("message %d sent in room %d", msg.ID, roomID), requestIDFromContext(c), &userIDStr)

	h.hub.BroadcastMessage(roomID, msg)
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) parseSendBody(c *gin.Context) (content, image, file string, err error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		var req struct {
			Content string `json:"content"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			return "", "", "", errors.New("invalid message body")
		}
		return strings.TrimSpace(req.Content), "", "", nil
	}

	content = strings.TrimSpace(c.PostForm("content"))

	if header, ferr := c.FormFile("image"); ferr == nil {
		image, err = h.storeUpload(c, header.Filename, "image")
		if err != nil {
			return "", "", "", err
		}
	}
	if header, ferr := c.FormFile("file"); ferr == nil {
		file, err = h.storeUpload(c, header.Filename, "file")
		if err != nil {
			return "", "", "", err
		}
	}
	return content, image, file, nil
}

func (h *ChatHandler) storeUpload(c *gin.Context, originalName, field string) (string, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return "", err
	}

	name := uuid.New().String() + filepath.Ext(originalName)
	if err := c.SaveUploadedFile(header, filepath.Join(h.uploadDir, name)); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return "/uploads/" + name, nil
}

func messageKind(msg models.Message) string {
	switch {
	case msg.Image != "":
		return "image"
	case msg.File != "":
		return "file"
	default:
		return "text"
	}
}
