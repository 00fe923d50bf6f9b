package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liveloop/backend/internal/presence"
)

type presenceServiceStub struct {
	heartbeat    presence.HeartbeatInput
	heartbeatErr error

	viewers      []presence.ViewerEntry
	listErr      error
	listStreamID int64
}

func (s *presenceServiceStub) Heartbeat(ctx context.Context, in presence.HeartbeatInput) error {
	_ = ctx
	s.heartbeat = in
	return s.heartbeatErr
}

func (s *presenceServiceStub) ListViewers(ctx context.Context, streamID int64) ([]presence.ViewerEntry, error) {
	_ = ctx
	s.listStreamID = streamID
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.viewers, nil
}

type guardStub struct {
	allowed bool
	key     string
}

func (g *guardStub) Allow(key string) bool {
	g.key = key
	return g.allowed
}

func TestPresenceHandlerHeartbeatSuccess(t *testing.T) {
	service := &presenceServiceStub{}
	guard := &guardStub{allowed: true}
	handler := PresenceHandler{Presence: service, Guard: guard}

	body := `{"live_stream_id":42,"viewer_id":"viewer-1","is_unmuted":false}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/presence/heartbeat", bytes.NewBufferString(body))
	req.Header.Set(serviceKeyHeader, "service-key")
	rec := httptest.NewRecorder()

	handler.Heartbeat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if guard.key != "service-key" {
		t.Fatalf("expected guard to see the header key, got %q", guard.key)
	}
	if service.heartbeat.StreamID != 42 || service.heartbeat.ViewerID != "viewer-1" {
		t.Fatalf("unexpected heartbeat input: %+v", service.heartbeat)
	}
	if service.heartbeat.IsUnmuted == nil || *service.heartbeat.IsUnmuted {
		t.Fatal("expected explicit is_unmuted=false to pass through")
	}
	if service.heartbeat.IsActive != nil {
		t.Fatal("expected omitted flags to stay nil")
	}
}

func TestPresenceHandlerHeartbeatBadServiceKey(t *testing.T) {
	service := &presenceServiceStub{}
	handler := PresenceHandler{Presence: service, Guard: &guardStub{allowed: false}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/presence/heartbeat", bytes.NewBufferString(`{"live_stream_id":1,"viewer_id":"v"}`))
	rec := httptest.NewRecorder()

	handler.Heartbeat(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusUnauthorized)
	}
	if service.heartbeat.ViewerID != "" {
		t.Fatal("expected service to stay untouched")
	}
}

func TestPresenceHandlerHeartbeatValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "malformed body", body: `{`, want: http.StatusBadRequest},
		{name: "invalid stream", body: `{"live_stream_id":0,"viewer_id":"v"}`, err: presence.ErrInvalidStreamID, want: http.StatusBadRequest},
		{name: "missing viewer", body: `{"live_stream_id":1}`, err: presence.ErrMissingViewerID, want: http.StatusBadRequest},
		{name: "store failure", body: `{"live_stream_id":1,"viewer_id":"v"}`, err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := PresenceHandler{
				Presence: &presenceServiceStub{heartbeatErr: tc.err},
				Guard:    &guardStub{allowed: true},
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/presence/heartbeat", bytes.NewBufferString(tc.body))
			rec := httptest.NewRecorder()

			handler.Heartbeat(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("unexpected status: got %d want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestPresenceHandlerHeartbeatMethodNotAllowed(t *testing.T) {
	handler := PresenceHandler{Presence: &presenceServiceStub{}, Guard: &guardStub{allowed: true}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/presence/heartbeat", nil)
	rec := httptest.NewRecorder()

	handler.Heartbeat(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestPresenceHandlerViewersSuccess(t *testing.T) {
	service := &presenceServiceStub{
		viewers: []presence.ViewerEntry{
			{ViewerID: "viewer-1", Username: "alice", IsActive: true, LastActiveAt: time.Now().UTC()},
		},
	}
	handler := PresenceHandler{Presence: service, Guard: &guardStub{allowed: true}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/presence/viewers?live_stream_id=42", nil)
	req.Header.Set(serviceKeyHeader, "service-key")
	rec := httptest.NewRecorder()

	handler.Viewers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if service.listStreamID != 42 {
		t.Fatalf("expected stream 42 to be queried, got %d", service.listStreamID)
	}

	var resp struct {
		Viewers []presence.ViewerEntry `json:"viewers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Viewers) != 1 || resp.Viewers[0].Username != "alice" {
		t.Fatalf("unexpected viewers payload: %+v", resp.Viewers)
	}
}

func TestPresenceHandlerViewersEmptyListIsNotNull(t *testing.T) {
	handler := PresenceHandler{Presence: &presenceServiceStub{}, Guard: &guardStub{allowed: true}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/presence/viewers?live_stream_id=7", nil)
	rec := httptest.NewRecorder()

	handler.Viewers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if body := rec.Body.String(); !bytes.Contains([]byte(body), []byte(`"viewers":[]`)) {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestPresenceHandlerViewersBadStreamID(t *testing.T) {
	for _, raw := range []string{"", "abc", "-5", "0"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/presence/viewers?live_stream_id="+raw, nil)
		rec := httptest.NewRecorder()

		handler := PresenceHandler{Presence: &presenceServiceStub{}, Guard: &guardStub{allowed: true}}
		handler.Viewers(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("live_stream_id=%q: unexpected status %d", raw, rec.Code)
		}
	}
}

func TestPresenceHandlerViewersBadServiceKey(t *testing.T) {
	handler := PresenceHandler{Presence: &presenceServiceStub{}, Guard: &guardStub{allowed: false}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/presence/viewers?live_stream_id=42", nil)
	rec := httptest.NewRecorder()

	handler.Viewers(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusUnauthorized)
	}
}
