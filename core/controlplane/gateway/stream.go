package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nodeflow/nodeflow/core/infra/bus"
	"github.com/nodeflow/nodeflow/core/infra/logging"
)

const (
	streamBuffer     = 64
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

// streamEvent is one execution update fanned out to websocket clients.
type streamEvent struct {
	workflowID string
	data       []byte
}

type streamClient struct {
	workflowID string
	ch         chan streamEvent
}

// streamHub fans execution events out to connected websocket clients.
// Slow clients drop events rather than block the bus callback.
type streamHub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

func newStreamHub() *streamHub {
	return &streamHub{clients: make(map[*streamClient]struct{})}
}

func (h *streamHub) add(workflowID string) *streamClient {
	c := &streamClient{workflowID: workflowID, ch: make(chan streamEvent, streamBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *streamHub) remove(c *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.ch)
	}
	h.mu.Unlock()
}

func (h *streamHub) broadcast(ev streamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.workflowID != "" && c.workflowID != ev.workflowID {
			continue
		}
		select {
		case c.ch <- ev:
		default:
		}
	}
}

func (h *streamHub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.ch)
	}
	h.mu.Unlock()
}

func (h *streamHub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// startEventTap subscribes once to execution events for the lifetime of
// the gateway. Every replica receives every event.
func (s *server) startEventTap() error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Subscribe(bus.SubjectExecutionEvents, "", s.onExecutionEvent)
}

func (s *server) onExecutionEvent(env *bus.Envelope) error {
	if env == nil || env.Kind != bus.KindExecutionEvent || len(env.Payload) == 0 {
		return nil
	}
	var head struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.Unmarshal(env.Payload, &head); err != nil {
		logging.Error("api-gateway", "decode execution event", "error", err)
		return nil
	}
	s.hub.broadcast(streamEvent{workflowID: head.WorkflowID, data: env.Payload})
	return nil
}

func (s *server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return s.origins.allows(r.Header.Get("Origin")) },
	}
}

// handleStream upgrades to a websocket and pushes execution records as they
// change. ?workflow_id= narrows the stream to one workflow.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logging.Error("api-gateway", "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	client := s.hub.add(r.URL.Query().Get("workflow_id"))
	defer s.hub.remove(client)
	logging.Info("api-gateway", "ws connected", "remote", r.RemoteAddr, "clients", s.hub.size())

	// Reader goroutine notices client disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-client.ch:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(streamWriteWait))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, ev.data); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
