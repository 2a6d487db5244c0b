// Package client implements the chat client runtime: the REST chat gateway,
// the per-room realtime channel with reconnect backoff, the message
// synchronizer merging both sources into one ordered view, and the per-room
// controller tying them together.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"dietchat-service/internal/models"
)

const defaultRequestTimeout = 15 * time.Second

// Attachment is a staged image or file for an outgoing message.
type Attachment struct {
	FileName    string
	ContentType string
	Reader      io.Reader
}

// Draft is the payload of a send operation. At most one of Image and File is
// set; the Controller enforces the single-staged-attachment rule.
type Draft struct {
	Content string
	Image   *Attachment
	File    *Attachment
}

// RoomGateway is the room-listing surface of the REST gateway.
type RoomGateway interface {
	ListRooms(ctx context.Context) ([]models.Room, error)
	CreateRoom(ctx context.Context, counterpartID int) (models.Room, error)
}

// MessageGateway is the message surface of the REST gateway.
type MessageGateway interface {
	ListMessages(ctx context.Context, roomID int) ([]models.Message, error)
	SendMessage(ctx context.Context, roomID int, draft Draft) (models.Message, error)
}

// Gateway performs the chat REST calls with bearer-token auth. Reads are
// retried at most once on transient failures; sends are never retried.
type Gateway struct {
	baseURL string
	http    *http.Client
	session Session
}

// NewGateway constructs a Gateway. httpClient may be nil, in which case a
// client with a bounded timeout is used.
func NewGateway(baseURL string, session Session, httpClient *http.Client) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		session: session,
	}
}

// BaseURL returns the configured REST base URL.
func (g *Gateway) BaseURL() string { return g.baseURL }

// ListRooms fetches the caller's rooms.
func (g *Gateway) ListRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := g.getJSON(ctx, "list rooms", "/api/chat/rooms/", &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// ListMessages fetches a room's history, ordered oldest to newest.
func (g *Gateway) ListMessages(ctx context.Context, roomID int) ([]models.Message, error) {
	var msgs []models.Message
	path := fmt.Sprintf("/api/chat/rooms/%d/messages/", roomID)
	if err := g.getJSON(ctx, "list messages", path, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// CreateRoom requests the room with the counterpart. The server treats this
// as an upsert, so repeated calls for the same pair return the same room.
func (g *Gateway) CreateRoom(ctx context.Context, counterpartID int) (models.Room, error) {
	body, err := json.Marshal(map[string]int{"counterpart_id": counterpartID})
	if err != nil {
		return models.Room{}, err
	}

	req, err := g.newRequest(ctx, http.MethodPost, "/api/chat/rooms/", bytes.NewReader(body))
	if err != nil {
		return models.Room{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var room models.Room
	if err := g.do("create room", req, &room); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// SendMessage posts a message. A multipart request is used when the draft
// carries an attachment, JSON otherwise. Never retried: a duplicate send
// would create a duplicate message.
func (g *Gateway) SendMessage(ctx context.Context, roomID int, draft Draft) (models.Message, error) {
	if strings.TrimSpace(draft.Content) == "" && draft.Image == nil && draft.File == nil {
		return models.Message{}, ErrEmptyMessage
	}

	path := fmt.Sprintf("/api/chat/rooms/%d/messages/", roomID)

	var req *http.Request
	var err error
	if draft.Image == nil && draft.File == nil {
		body, merr := json.Marshal(map[string]any{
			"content":   draft.Content,
			"chat_room": roomID,
		})
		if merr != nil {
			return models.Message{}, merr
		}
		req, err = g.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
		if err != nil {
			return models.Message{}, err
		}
		req.Header.Set("Content-Type", "application/json")
	} else {
		body, contentType, merr := encodeMultipart(roomID, draft)
		if merr != nil {
			return models.Message{}, merr
		}
		req, err = g.newRequest(ctx, http.MethodPost, path, body)
		if err != nil {
			return models.Message{}, err
		}
		req.Header.Set("Content-Type", contentType)
	}

	var msg models.Message
	if err := g.do("send message", req, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func encodeMultipart(roomID int, draft Draft) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	if err := writer.WriteField("chat_room", strconv.Itoa(roomID)); err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(draft.Content) != "" {
		if err := writer.WriteField("content", draft.Content); err != nil {
			return nil, "", err
		}
	}
	if draft.Image != nil {
		if err := writeAttachment(writer, "image", draft.Image); err != nil {
			return nil, "", err
		}
	}
	if draft.File != nil {
		if err := writeAttachment(writer, "file", draft.File); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf, writer.FormDataContentType(), nil
}

func writeAttachment(writer *multipart.Writer, field string, att *Attachment) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, att.FileName))
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, att.Reader)
	return err
}

// getJSON performs an authenticated GET with a single immediate retry on
// transient failures.
func (g *Gateway) getJSON(ctx context.Context, op, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := g.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		err = g.do(op, req, out)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (g *Gateway) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if token := g.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (g *Gateway) do(op string, req *http.Request, out any) error {
	resp, err := g.http.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		g.session.Clear()
		return &AuthExpiredError{Op: op}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &GatewayError{Op: op, Status: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &GatewayError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// isTransient reports whether the error qualifies for the single read retry:
// network failures and 5xx responses only.
func isTransient(err error) bool {
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		return false
	}
	if gwErr.Err != nil && gwErr.Status == 0 {
		return true
	}
	return gwErr.Status >= 500
}
