package handlers

import "net/http"

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{}
	presence := PresenceHandler{Presence: deps.Presence, Guard: deps.Guard}
	battle := BattleHandler{Battles: deps.Battles, Profiles: deps.Profiles, Verifier: deps.Verifier, Limiter: deps.Limiter}
	cleanup := CleanupHandler{Streams: deps.Streams, Verifier: deps.Verifier}
	scoreboard := ScoreboardHandler{Hubs: deps.Hubs, Verifier: deps.Verifier}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/api/v1/presence/heartbeat", presence.Heartbeat)
	mux.HandleFunc("/api/v1/presence/viewers", presence.Viewers)
	mux.HandleFunc("/api/v1/battle/start", battle.Start)
	mux.HandleFunc("/api/v1/battle/accept", battle.Accept)
	mux.HandleFunc("/api/v1/battle/decline", battle.Decline)
	mux.HandleFunc("/api/v1/battle/score", battle.Score)
	mux.HandleFunc("/api/v1/battle/end", battle.End)
	mux.HandleFunc("/api/v1/battle/supporters", battle.Supporters)
	mux.HandleFunc("/api/v1/stream-cleanup", cleanup.Handle)
	mux.HandleFunc("/ws/battle", scoreboard.Handle)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Presence PresenceService
	Battles  BattleService
	Streams  CleanupStore
	Profiles ProfileFinder
	Verifier TokenVerifier
	Guard    ServiceGuard
	Limiter  RateLimiter
	Hubs     HubProvider
}
