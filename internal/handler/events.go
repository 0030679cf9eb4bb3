package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/model"
)

// StreamEvents handles GET /v1/executions/{executionId}/events.
// The response is an ndjson stream: every event already in the run's log
// from from_sequence onward, then live events as they are appended, ending
// with the run's terminal event.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "executionId")
	if _, err := h.runs.Get(r.Context(), runID); err != nil {
		h.Error(w, err)
		return
	}

	fromSeq, err := parseFromSequence(r)
	if err != nil {
		h.Error(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.Error(w, apierror.Storage(nil, "streaming not supported"))
		return
	}

	// Subscribe before replaying so nothing lands in the gap between the
	// two; the live loop skips anything the replay already wrote.
	sub := h.broker.Subscribe(runID)
	defer h.broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	// Acknowledge the connection before any event exists.
	flusher.Flush()

	enc := json.NewEncoder(w)
	write := func(ev *model.Event) (terminal bool) {
		if err := enc.Encode(ev); err != nil {
			return true
		}
		flusher.Flush()
		return model.TerminalEvent(ev.EventType)
	}

	history, err := h.broker.Replay(r.Context(), runID, fromSeq)
	if err != nil {
		h.log.Warn("event replay failed", "run_id", runID, "error", err)
		return
	}
	// Replay is inclusive of fromSeq; the live cutoff sits one below it so
	// that event fromSeq still streams when it lands after the replay.
	lastSeq := fromSeq - 1
	if lastSeq < 0 {
		lastSeq = 0
	}
	for _, ev := range history {
		if write(ev) {
			return
		}
		lastSeq = ev.SequenceNum
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev.SequenceNum <= lastSeq {
				continue
			}
			if write(ev) {
				return
			}
			lastSeq = ev.SequenceNum
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// StreamEventsWS handles GET /v1/executions/{executionId}/events/ws: the
// same replay-then-live stream as StreamEvents, framed as one JSON text
// message per event over a websocket.
func (h *Handler) StreamEventsWS(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "executionId")
	if _, err := h.runs.Get(r.Context(), runID); err != nil {
		h.Error(w, err)
		return
	}

	fromSeq, err := parseFromSequence(r)
	if err != nil {
		h.Error(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close frames are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sub := h.broker.Subscribe(runID)
	defer h.broker.Unsubscribe(sub)

	write := func(ev *model.Event) (terminal bool) {
		if err := conn.WriteJSON(ev); err != nil {
			return true
		}
		return model.TerminalEvent(ev.EventType)
	}

	history, err := h.broker.Replay(r.Context(), runID, fromSeq)
	if err != nil {
		h.log.Warn("event replay failed", "run_id", runID, "error", err)
		return
	}
	// Same inclusive-replay cutoff as the ndjson stream.
	lastSeq := fromSeq - 1
	if lastSeq < 0 {
		lastSeq = 0
	}
	for _, ev := range history {
		if write(ev) {
			h.closeWS(conn)
			return
		}
		lastSeq = ev.SequenceNum
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-clientGone:
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev.SequenceNum <= lastSeq {
				continue
			}
			if write(ev) {
				h.closeWS(conn)
				return
			}
			lastSeq = ev.SequenceNum
		}
	}
}

func (h *Handler) closeWS(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func parseFromSequence(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("from_sequence")
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0, apierror.InvalidArgument("from_sequence must be a non-negative integer, got %q", raw)
	}
	return seq, nil
}
