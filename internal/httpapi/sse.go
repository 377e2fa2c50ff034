package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ankittk/deskpilot/internal/otel"
	"github.com/ankittk/deskpilot/pkg/models"
)

// sseMessage is one encoded event ready to write.
type sseMessage struct {
	id    uint64
	runID string
	kind  string
	data  []byte
}

// subscriber receives events for one run, or all runs when runID is empty.
type subscriber struct {
	runID string
	ch    chan sseMessage
}

// SSEHub fans run events out to /stream subscribers. Slow subscribers drop
// events instead of blocking the run that produced them.
type SSEHub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	seq  atomic.Uint64
}

func NewSSEHub() *SSEHub {
	return &SSEHub{subs: make(map[*subscriber]struct{})}
}

// subscribe registers a subscriber. runID filters to one run; empty means all.
func (h *SSEHub) subscribe(runID string) *subscriber {
	s := &subscriber{runID: runID, ch: make(chan sseMessage, models.DefaultSSEChannelBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	otel.AddSSEConnection()
	return s
}

func (h *SSEHub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
		otel.RemoveSSEConnection()
	}
	h.mu.Unlock()
}

// Publish encodes ev once and offers it to every matching subscriber.
func (h *SSEHub) Publish(ev models.RunEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	msg := sseMessage{id: h.seq.Add(1), runID: ev.RunID, kind: ev.Type, data: b}
	otel.RecordSSEEvent(context.Background())
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.runID != "" && s.runID != ev.RunID {
			continue
		}
		select {
		case s.ch <- msg:
		default:
		}
	}
}

// Handler streams events as text/event-stream. ?run_id= limits the stream
// to one run.
func (h *SSEHub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		sub := h.subscribe(r.URL.Query().Get("run_id"))
		defer h.unsubscribe(sub)

		// The connected message tells clients the subscription is live.
		_, _ = fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected"}`)
		flusher.Flush()

		keepalive := time.NewTicker(30 * time.Second)
		defer keepalive.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				_, _ = fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case msg, ok := <-sub.ch:
				if !ok {
					return
				}
				_, _ = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", msg.id, msg.kind, msg.data)
				flusher.Flush()
			}
		}
	}
}
