package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/phonedesk/server/internal/metrics"
	"github.com/phonedesk/server/internal/stream"
)

// StreamHandler handles POST /process
type StreamHandler struct {
	delay   time.Duration
	sleep   stream.Sleeper
	metrics *metrics.Metrics
}

// NewStreamHandler creates a handler that pauses delay before each event.
// A nil sleep uses time.Sleep; nil metrics disables counting.
func NewStreamHandler(delay time.Duration, sleep stream.Sleeper, m *metrics.Metrics) *StreamHandler {
	return &StreamHandler{delay: delay, sleep: sleep, metrics: m}
}

type processRequest struct {
	Text *string `json:"text"`
}

// HandleProcess streams the processed forms of the input text as SSE
func (h *StreamHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if req.Text == nil {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "invalid fields",
			"fields": []string{"text"},
		})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range stream.Process(*req.Text, h.delay, h.sleep) {
		if err := stream.Write(w, ev); err != nil {
			log.Printf("Stream write failed after %s: %v", ev.Label, err)
			return
		}
		flusher.Flush()
		if h.metrics != nil {
			h.metrics.StreamEvents.Inc()
		}
	}
}
