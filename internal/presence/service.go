package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/liveloop/backend/internal/logging"
	"github.com/liveloop/backend/internal/models"
)

var (
	// ErrInvalidStreamID indicates the heartbeat named a non-positive stream.
	ErrInvalidStreamID = errors.New("live stream id must be a positive integer")
	// ErrMissingViewerID indicates the heartbeat omitted the viewer identity.
	ErrMissingViewerID = errors.New("viewer id is required")
)

// unknownViewerName is used when the identity join cannot resolve a viewer.
const unknownViewerName = "Unknown viewer"

// Store persists viewer presence rows keyed on (streamID, viewerID).
type Store interface {
	Upsert(ctx context.Context, row models.ViewerPresence) error
	ListRecent(ctx context.Context, streamID int64, limit int) ([]models.ViewerPresence, error)
	DeleteIdle(ctx context.Context, olderThan time.Time) (int64, error)
}

// ProfileDirectory resolves profile identities in bulk.
type ProfileDirectory interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]models.Profile, error)
}

// HeartbeatInput carries one liveness ping. Nil flags default to true: a
// heartbeat with no flags means "I'm here and fully engaged".
type HeartbeatInput struct {
	StreamID     int64
	ViewerID     string
	IsActive     *bool
	IsUnmuted    *bool
	IsVisible    *bool
	IsSubscribed *bool
}

// ViewerEntry is one row of the aggregated viewer list. IsActive is the
// derived flag, not the stored one: a stored true still renders inactive
// once the heartbeat goes stale.
type ViewerEntry struct {
	ViewerID     string    `json:"viewer_id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	IsActive     bool      `json:"is_active"`
	IsUnmuted    bool      `json:"is_unmuted"`
	IsVisible    bool      `json:"is_visible"`
	IsSubscribed bool      `json:"is_subscribed"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Service coordinates heartbeat ingestion and viewer list aggregation.
type Service struct {
	store    Store
	profiles ProfileDirectory

	staleCutoff time.Duration
	listLimit   int
	nowFunc     func() time.Time
}

// NewService constructs a presence service using the provided store and
// identity directory.
func NewService(store Store, profiles ProfileDirectory, staleCutoff time.Duration, listLimit int) *Service {
	if store == nil {
		panic("presence: store must not be nil")
	}
	if staleCutoff <= 0 {
		staleCutoff = 60 * time.Second
	}
	if listLimit <= 0 {
		listLimit = 200
	}
	return &Service{
		store:       store,
		profiles:    profiles,
		staleCutoff: staleCutoff,
		listLimit:   listLimit,
		nowFunc:     func() time.Time { return time.Now().UTC() },
	}
}

// WithNowFunc overrides the time source. Useful for tests.
func (s *Service) WithNowFunc(now func() time.Time) *Service {
	s.nowFunc = now
	return s
}

// Heartbeat validates and upserts one liveness ping. Heartbeats are
// idempotent snapshots; last write wins per (streamID, viewerID).
func (s *Service) Heartbeat(ctx context.Context, in HeartbeatInput) error {
	if in.StreamID <= 0 {
		return ErrInvalidStreamID
	}
	if in.ViewerID == "" {
		return ErrMissingViewerID
	}

	row := models.ViewerPresence{
		StreamID:     in.StreamID,
		ViewerID:     in.ViewerID,
		IsActive:     flagOrTrue(in.IsActive),
		IsUnmuted:    flagOrTrue(in.IsUnmuted),
		IsVisible:    flagOrTrue(in.IsVisible),
		IsSubscribed: flagOrTrue(in.IsSubscribed),
		LastActiveAt: s.nowFunc(),
	}

	if err := s.store.Upsert(ctx, row); err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

// ListViewers returns the most recently active viewers for a stream,
// active entries first, each group ordered by recency.
func (s *Service) ListViewers(ctx context.Context, streamID int64) ([]ViewerEntry, error) {
	if streamID <= 0 {
		return nil, ErrInvalidStreamID
	}

	rows, err := s.store.ListRecent(ctx, streamID, s.listLimit)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}

	now := s.nowFunc()
	cutoff := now.Add(-s.staleCutoff)

	profiles := s.resolveProfiles(ctx, rows)

	entries := make([]ViewerEntry, 0, len(rows))
	for _, row := range rows {
		entry := ViewerEntry{
			ViewerID:     row.ViewerID,
			Username:     unknownViewerName,
			DisplayName:  unknownViewerName,
			IsActive:     row.IsActive && row.LastActiveAt.After(cutoff),
			IsUnmuted:    row.IsUnmuted,
			IsVisible:    row.IsVisible,
			IsSubscribed: row.IsSubscribed,
			LastActiveAt: row.LastActiveAt,
		}
		if profile, ok := profiles[row.ViewerID]; ok {
			entry.Username = profile.Username
			entry.DisplayName = profile.DisplayName
			if entry.DisplayName == "" {
				entry.DisplayName = profile.Username
			}
			entry.AvatarURL = profile.AvatarURL
		}
		entries = append(entries, entry)
	}

	// Two-key sort: active before stale, then recency within each group.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsActive != entries[j].IsActive {
			return entries[i].IsActive
		}
		return entries[i].LastActiveAt.After(entries[j].LastActiveAt)
	})

	return entries, nil
}

// resolveProfiles joins presence rows with profile identities. A directory
// failure degrades to unresolved names; it never aborts the viewer list.
func (s *Service) resolveProfiles(ctx context.Context, rows []models.ViewerPresence) map[string]models.Profile {
	if s.profiles == nil || len(rows) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.ViewerID]; ok {
			continue
		}
		seen[row.ViewerID] = struct{}{}
		ids = append(ids, row.ViewerID)
	}

	profiles, err := s.profiles.FindByIDs(ctx, ids)
	if err != nil {
		logging.FromContext(ctx).Warn("viewer identity resolution failed", "viewers", len(ids), "error", err)
		return nil
	}
	return profiles
}

func flagOrTrue(flag *bool) bool {
	if flag == nil {
		return true
	}
	return *flag
}
