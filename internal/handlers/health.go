package handlers

import "net/http"

// HealthHandler reports process liveness.
type HealthHandler struct{}

// Handle responds with a static healthy payload.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	respondJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}
