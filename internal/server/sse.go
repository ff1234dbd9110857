package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// SSEHeartbeatInterval is the interval for SSE heartbeats.
	SSEHeartbeatInterval = 30 * time.Second
)

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent marshals data and writes it as one SSE event.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.writeRaw(eventType, jsonData)
}

// writeRaw writes already encoded JSON as one SSE event.
func (s *sseWriter) writeRaw(eventType string, jsonData []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	s.flush()
	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flush()
}

func (s *sseWriter) flush() {
	// ResponseController reaches through middleware wrappers
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
}

// allEvents streams every bus event until the client disconnects.
func (s *Server) allEvents(w http.ResponseWriter, r *http.Request) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Subscribe before the connected event so nothing published after it is missed.
	events, err := s.bus.Stream(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	sse.flush()

	if err := sse.writeEvent("message", map[string]any{
		"type": "server.connected",
		"data": map[string]any{},
	}); err != nil {
		return
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-events:
			if !ok {
				return
			}
			if err := sse.writeRaw("message", payload); err != nil {
				s.logger.Debug().Err(err).Msg("event stream write failed")
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
