package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/liveloop/backend/internal/models"
)

type presenceKey struct {
	streamID int64
	viewerID string
}

// NewInMemoryStore returns a Store backed by an in-memory map.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[presenceKey]models.ViewerPresence)}
}

// InMemoryStore implements Store for tests and local development.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[presenceKey]models.ViewerPresence
}

// Upsert stores the presence row, replacing any previous one for the pair.
func (s *InMemoryStore) Upsert(_ context.Context, row models.ViewerPresence) error {
	s.mu.Lock()
	s.rows[presenceKey{streamID: row.StreamID, viewerID: row.ViewerID}] = row
	s.mu.Unlock()
	return nil
}

// ListRecent returns up to limit rows for the stream ordered by recency.
func (s *InMemoryStore) ListRecent(_ context.Context, streamID int64, limit int) ([]models.ViewerPresence, error) {
	s.mu.RLock()
	var rows []models.ViewerPresence
	for key, row := range s.rows {
		if key.streamID == streamID {
			rows = append(rows, row)
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].LastActiveAt.After(rows[j].LastActiveAt)
	})

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// DeleteIdle removes rows whose last heartbeat predates olderThan.
func (s *InMemoryStore) DeleteIdle(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, row := range s.rows {
		if row.LastActiveAt.Before(olderThan) {
			delete(s.rows, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored rows. Useful for tests.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
