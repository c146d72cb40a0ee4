package history

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler exposes the history listings over HTTP.
type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes registers history routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rounds", h.handleRounds)
	mux.HandleFunc("/api/stakes", h.handleStakes)
}

func (h *Handler) handleRounds(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.repo.RecentRounds(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list rounds")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to list rounds"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}

func (h *Handler) handleStakes(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "user is required"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.repo.StakesForUser(r.Context(), userID, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list stakes")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to list stakes"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
