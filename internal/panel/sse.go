package panel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/GGPrompts/flowcanvas/internal/streaming"
)

// Idle SSE connections get a comment ping so proxies don't reap them.
const sseKeepalive = 25 * time.Second

// handleSSEGlobal streams every editor event. ?types=a,b narrows to the
// given event types.
func (s *PanelServer) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{EventTypes: typesParam(r)})
}

// handleSSEGraph streams events for one graph.
func (s *PanelServer) handleSSEGraph(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{
		GraphID:    r.PathValue("id"),
		EventTypes: typesParam(r),
	})
}

func typesParam(r *http.Request) []string {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	var types []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	return types
}

func (s *PanelServer) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
		}
	}
}
