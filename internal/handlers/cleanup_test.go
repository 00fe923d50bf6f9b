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
)

type cleanupStoreStub struct {
	endedOwner    string
	endedAt       time.Time
	endErr        error
	clearedOwner  string
	clearErr      error
	presenceOwner string
	presenceErr   error
}

func (s *cleanupStoreStub) EndOwnedStreams(ctx context.Context, ownerID string, endedAt time.Time) (int64, error) {
	_ = ctx
	s.endedOwner = ownerID
	s.endedAt = endedAt
	if s.endErr != nil {
		return 0, s.endErr
	}
	return 1, nil
}

func (s *cleanupStoreStub) ClearGridSlots(ctx context.Context, streamerID string) (int64, error) {
	_ = ctx
	s.clearedOwner = streamerID
	if s.clearErr != nil {
		return 0, s.clearErr
	}
	return 2, nil
}

func (s *cleanupStoreStub) RemoveRoomPresence(ctx context.Context, profileID string) (int64, error) {
	_ = ctx
	s.presenceOwner = profileID
	if s.presenceErr != nil {
		return 0, s.presenceErr
	}
	return 1, nil
}

func TestCleanupHandlerSuccess(t *testing.T) {
	store := &cleanupStoreStub{}
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	handler := CleanupHandler{
		Streams:  store,
		Verifier: verifierStub{profileID: "streamer-1"},
		NowFunc:  func() time.Time { return now },
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stream-cleanup", nil)
	rec := httptest.NewRecorder()

	handler.Handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if store.endedOwner != "streamer-1" || !store.endedAt.Equal(now) {
		t.Fatalf("unexpected end call: owner=%s at=%v", store.endedOwner, store.endedAt)
	}
	if store.clearedOwner != "streamer-1" || store.presenceOwner != "streamer-1" {
		t.Fatalf("expected all teardown steps, got %+v", store)
	}

	var resp map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp["success"] {
		t.Fatal("expected success response")
	}
}

func TestCleanupHandlerPartialFailureStillSucceeds(t *testing.T) {
	store := &cleanupStoreStub{endErr: errors.New("db down")}
	handler := CleanupHandler{Streams: store, Verifier: verifierStub{profileID: "streamer-1"}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stream-cleanup", nil)
	rec := httptest.NewRecorder()

	handler.Handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	// The failing step never blocks the remaining ones.
	if store.clearedOwner != "streamer-1" || store.presenceOwner != "streamer-1" {
		t.Fatalf("expected remaining steps to run, got %+v", store)
	}
}

func TestCleanupHandlerAcceptsEndStreamAction(t *testing.T) {
	store := &cleanupStoreStub{}
	handler := CleanupHandler{Streams: store, Verifier: verifierStub{profileID: "streamer-1"}}

	body := bytes.NewBufferString(`{"action":"end_stream","reason":"page_unload"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stream-cleanup", body)
	rec := httptest.NewRecorder()

	handler.Handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if store.endedOwner != "streamer-1" {
		t.Fatalf("expected teardown to run, got %+v", store)
	}
}

func TestCleanupHandlerRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "unknown action", body: `{"action":"pause_stream"}`},
		{name: "malformed body", body: `{`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &cleanupStoreStub{}
			handler := CleanupHandler{Streams: store, Verifier: verifierStub{profileID: "streamer-1"}}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/stream-cleanup", bytes.NewBufferString(tc.body))
			rec := httptest.NewRecorder()

			handler.Handle(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
			}
			if store.endedOwner != "" || store.clearedOwner != "" || store.presenceOwner != "" {
				t.Fatal("expected no teardown for rejected payload")
			}
		})
	}
}

func TestCleanupHandlerUnauthenticated(t *testing.T) {
	store := &cleanupStoreStub{}
	handler := CleanupHandler{Streams: store, Verifier: verifierStub{err: errors.New("no token")}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stream-cleanup", nil)
	rec := httptest.NewRecorder()

	handler.Handle(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusUnauthorized)
	}
	if store.endedOwner != "" || store.clearedOwner != "" || store.presenceOwner != "" {
		t.Fatal("expected no teardown for unauthenticated caller")
	}
}

func TestCleanupHandlerMethodNotAllowed(t *testing.T) {
	handler := CleanupHandler{Streams: &cleanupStoreStub{}, Verifier: verifierStub{profileID: "streamer-1"}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream-cleanup", nil)
	rec := httptest.NewRecorder()

	handler.Handle(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
