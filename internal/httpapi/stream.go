package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"amana.org/internal/stream"
)

// Stream serves the live mutation feed over Server-Sent Events.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.events.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

type eventArchiveResponse struct {
	Items     []stream.Event `json:"items"`
	NextAfter uint64         `json:"next_after"`
	AsOf      time.Time      `json:"as_of"`
}

// handleEventArchive pages through the durable event copy in Postgres.
func (a *API) handleEventArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.archive == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event archive disabled")
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		after, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
	}

	entity := strings.TrimSpace(r.URL.Query().Get("entity"))
	entityID := strings.TrimSpace(r.URL.Query().Get("entity_id"))
	if entity != "" || entityID != "" {
		items, err := a.archive.EntityHistory(r.Context(), entity, entityID, limit)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, eventArchiveResponse{Items: items, AsOf: time.Now().UTC()})
		return
	}

	items, next, err := a.archive.List(r.Context(), limit, after)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "archive query failed")
		return
	}
	writeJSON(w, http.StatusOK, eventArchiveResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}
