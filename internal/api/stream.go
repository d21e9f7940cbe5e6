package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/transitwatch/internal/broadcast"
)

// events streams hub events as Server-Sent Events until the client
// disconnects or the hub closes the subscription.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.svc.Subscribe()
	defer sub.Close()

	for {
		evt, err := sub.Next(r.Context())
		if err != nil {
			if errors.Is(err, broadcast.ErrEvicted) {
				s.logger.Info("Stream closed for slow client", "subscriber_id", sub.ID())
			}
			return
		}

		data, err := json.Marshal(evt)
		if err != nil {
			s.logger.Error("Failed to encode event", "type", evt.Type, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
			return
		}
		flusher.Flush()
	}
}
