package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"fedifeed/relay/internal/models"
	"fedifeed/relay/internal/server/pagination"
	"fedifeed/relay/internal/storage"
)

const defaultLimit = 100
const maxLimit = 1000
const iso8601Format = time.RFC3339

// Attempt is the JSON view of a delivery attempt.
type Attempt struct {
	models.DeliveryAttempt
	Error *string `json:"error,omitempty"`
}

// AttemptsResponse is the body of the delivery attempts endpoint.
type AttemptsResponse struct {
	Items      []Attempt `json:"items"`
	NextCursor *string   `json:"next_cursor,omitempty"`
}

// AttemptsHandler serves the delivery attempt log.
type AttemptsHandler struct {
	repo storage.AttemptRepository
}

// NewAttemptsHandler creates a new handler instance.
func NewAttemptsHandler(repo storage.AttemptRepository) *AttemptsHandler {
	return &AttemptsHandler{repo: repo}
}

// List pages through attempts after 'since' (RFC 3339) or after an opaque
// 'cursor' returned by a previous page.
func (h *AttemptsHandler) List(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	ctx := r.Context()

	query := r.URL.Query()
	limitStr := query.Get("limit")
	sinceStr := query.Get("since")
	cursorStr := query.Get("cursor")

	limit := defaultLimit
	if limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		limit = parsedLimit
	}

	var since *time.Time
	var cursorTimestamp *time.Time
	var cursorID *int64

	switch {
	case cursorStr != "":
		ts, id, err := pagination.DecodeCursor(cursorStr)
		if err != nil {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			http.Error(w, "Invalid 'cursor' parameter", http.StatusBadRequest)
			return
		}
		cursorTimestamp = &ts
		cursorID = &id
	case sinceStr != "":
		parsedSince, err := time.Parse(iso8601Format, sinceStr)
		if err != nil {
			log.Warn().Err(err).Str("since", sinceStr).Msg("Invalid 'since' parameter format")
			http.Error(w, "Invalid 'since' parameter: use RFC3339 format (e.g., 2025-03-28T15:00:00Z)", http.StatusBadRequest)
			return
		}
		utcSince := parsedSince.UTC()
		since = &utcSince
	default:
		http.Error(w, "Missing required parameter: 'since' or 'cursor'", http.StatusBadRequest)
		return
	}

	attempts, err := h.repo.ListAttempts(ctx, limit+1, since, cursorTimestamp, cursorID) // Fetch one extra
	if err != nil {
		log.Error().Err(err).Str("cursor", cursorStr).Msg("Error fetching delivery attempts")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var nextCursor *string
	if len(attempts) > limit {
		attempts = attempts[:limit]
		last := attempts[len(attempts)-1]
		cursor := pagination.EncodeCursor(last.AttemptedAt.UTC(), last.ID)
		nextCursor = &cursor
	}

	items := make([]Attempt, 0, len(attempts))
	for _, a := range attempts {
		item := Attempt{DeliveryAttempt: a}
		if a.Error.Valid {
			item.Error = &a.Error.String
		}
		items = append(items, item)
	}

	writeJSON(w, r, http.StatusOK, AttemptsResponse{Items: items, NextCursor: nextCursor})
}
