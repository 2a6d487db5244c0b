package client

import (
	"sort"
	"sync"

	"dietchat-service/internal/models"
)

// Synchronizer merges REST-fetched history and realtime-pushed messages into
// one ordered, de-duplicated view. It is the single serialization point for
// the displayed message list: every update passes through it atomically.
//
// Union is by message id; messages are immutable, so a duplicate id is a
// no-op. Order is ascending (created_at, id), the id breaking timestamp ties
// for a total order. Both operations are idempotent.
type Synchronizer struct {
	mu      sync.Mutex
	known   map[int]struct{}
	ordered []models.Message
}

// NewSynchronizer creates an empty Synchronizer.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{known: make(map[int]struct{})}
}

// MergeHistory merges a freshly fetched history into the view and returns the
// resulting snapshot.
func (s *Synchronizer) MergeHistory(history []models.Message) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, msg := range history {
		if _, ok := s.known[msg.ID]; ok {
			continue
		}
		s.known[msg.ID] = struct{}{}
		s.ordered = append(s.ordered, msg)
		changed = true
	}
	if changed {
		sort.SliceStable(s.ordered, func(i, j int) bool {
			return messageLess(s.ordered[i], s.ordered[j])
		})
	}
	return s.snapshotLocked()
}

// Apply merges a single pushed message and returns the resulting snapshot.
// Applying a message already present (the sender's own send response, or a
// prior re-fetch) leaves the view unchanged.
func (s *Synchronizer) Apply(msg models.Message) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.known[msg.ID]; ok {
		return s.snapshotLocked()
	}
	s.known[msg.ID] = struct{}{}

	at := sort.Search(len(s.ordered), func(i int) bool {
		return messageLess(msg, s.ordered[i])
	})
	s.ordered = append(s.ordered, models.Message{})
	copy(s.ordered[at+1:], s.ordered[at:])
	s.ordered[at] = msg

	return s.snapshotLocked()
}

// Messages returns the current ordered snapshot.
func (s *Synchronizer) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Len returns the number of distinct messages in the view.
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ordered)
}

func (s *Synchronizer) snapshotLocked() []models.Message {
	out := make([]models.Message, len(s.ordered))
	copy(out, s.ordered)
	return out
}

func messageLess(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
