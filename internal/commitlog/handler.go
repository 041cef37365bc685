package commitlog

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Handler serves commit statistics and, when a Store is configured, the
// persisted history.
type Handler struct {
	aggregator *Aggregator
	store      *Store
	logger     *slog.Logger
}

// NewHandler builds a Handler. store may be nil.
func NewHandler(aggregator *Aggregator, store *Store) *Handler {
	return &Handler{
		aggregator: aggregator,
		store:      store,
		logger:     slog.Default().With("component", "commit-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/commits", h.Stats)
	mux.HandleFunc("GET /api/v1/commits/history", h.History)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.aggregator.Stats())
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "commit history is disabled"})
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	events, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load commit history", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load commit history"})
		return
	}
	if events == nil {
		events = []Event{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"commits": events})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write commit response", "error", err)
	}
}
