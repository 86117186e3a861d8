// Package progress fans import events out to websocket subscribers.
package progress

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mjhen/rosterbridge/internal/ingest"
	"github.com/mjhen/rosterbridge/internal/logging"
)

const (
	subscriberBuffer  = 256
	heartbeatInterval = 15 * time.Second
	writeTimeout      = 10 * time.Second
)

type subscriber struct {
	runID  string
	events chan ingest.Event
}

// Hub is an ingest.Sink. A slow subscriber loses events rather than
// stalling the import.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	logger *zap.Logger

	heartbeat time.Duration
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:      make(map[*subscriber]struct{}),
		logger:    logging.OrNop(logger),
		heartbeat: heartbeatInterval,
	}
}

// Publish delivers e to every subscriber watching its run, or all runs.
// A terminal event is never dropped: it evicts the oldest buffered event
// when the subscriber is full.
func (h *Hub) Publish(e ingest.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.runID != "" && sub.runID != e.RunID {
			continue
		}
		select {
		case sub.events <- e:
			continue
		default:
		}
		if !e.State.Terminal() {
			h.logger.Debug("progress subscriber lagging, event dropped",
				zap.String("run_id", e.RunID), zap.Int("row", e.Row))
			continue
		}
		// Publishers hold mu, so after one receive the send has room.
		select {
		case <-sub.events:
		default:
		}
		select {
		case sub.events <- e:
		default:
		}
		h.logger.Debug("progress subscriber lagging, oldest event evicted",
			zap.String("run_id", e.RunID))
	}
}

// Subscribe registers a subscriber for runID ("" for every run). The
// returned cancel func must be called to release it.
func (h *Hub) Subscribe(runID string) (<-chan ingest.Event, func()) {
	sub := &subscriber{runID: runID, events: make(chan ingest.Event, subscriberBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.events)
		return sub.events, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.events, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.events)
			}
		})
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription; later subscriptions are closed at once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.events)
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// ServeWS streams events for runID ("" for every run) until the client goes
// away, the request is canceled or the hub closes. A subscription to a single
// run ends after its terminal event.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, runID string) error {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	defer conn.Close()

	events, cancel := h.Subscribe(runID)
	defer cancel()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(v)
	}
	if err := write(map[string]any{"type": "connected", "runId": runID}); err != nil {
		return fmt.Errorf("write websocket connected payload: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case <-done:
			return nil
		case <-ticker.C:
			if err := write(map[string]any{"type": "heartbeat"}); err != nil {
				return fmt.Errorf("write websocket heartbeat: %w", err)
			}
		case e, ok := <-events:
			if !ok {
				return closeNormal(conn)
			}
			if err := write(map[string]any{"type": "event", "event": e}); err != nil {
				return fmt.Errorf("write websocket payload: %w", err)
			}
			if runID != "" && e.State.Terminal() {
				return closeNormal(conn)
			}
		}
	}
}

func closeNormal(conn *websocket.Conn) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil && err != websocket.ErrCloseSent {
		return fmt.Errorf("write websocket close: %w", err)
	}
	return nil
}
