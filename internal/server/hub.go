package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/models"
	"github.com/gorilla/websocket"
)

const (
	viewWriteWait  = 10 * time.Second
	viewPongWait   = 60 * time.Second
	viewPingPeriod = 30 * time.Second
	viewQueueSize  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// stateEvents announce a replaced projection. Only the newest of each type
// matters to a view, so they are coalesced per client instead of queued.
var stateEvents = map[models.EventType]bool{
	models.EventConnectionState:  true,
	models.EventSignalsChanged:   true,
	models.EventValuationChanged: true,
	models.EventStatusChanged:    true,
}

// SnapshotFunc returns the current dashboard projection.
type SnapshotFunc func() models.DashboardSnapshot

// EventHub fans bus events out to dashboard views over WebSocket. A view
// receives a full snapshot on connect, then every event. State events are
// coalesced so a slow view always ends up with the latest projection. A view
// that falls behind on ordered events (notifications, presentation frames)
// is disconnected and must reconnect for a fresh snapshot.
type EventHub struct {
	views      map[*view]struct{}
	events     chan models.Event
	register   chan *view
	unregister chan *view
	done       chan struct{}
	snapshot   SnapshotFunc
	mu         sync.RWMutex
	logger     *common.Logger
}

// view is one connected dashboard.
type view struct {
	hub     *EventHub
	conn    *websocket.Conn
	ordered chan []byte
	dirty   chan struct{}
	quit    chan struct{}

	mu     sync.Mutex
	latest map[models.EventType][]byte
}

func newView(h *EventHub, conn *websocket.Conn, queue int) *view {
	return &view{
		hub:     h,
		conn:    conn,
		ordered: make(chan []byte, queue),
		dirty:   make(chan struct{}, 1),
		quit:    make(chan struct{}),
		latest:  make(map[models.EventType][]byte),
	}
}

// NewEventHub creates a hub. snapshot may be nil, in which case views get no
// initial frame.
func NewEventHub(logger *common.Logger, snapshot SnapshotFunc) *EventHub {
	return &EventHub{
		views:      make(map[*view]struct{}),
		events:     make(chan models.Event, 256),
		register:   make(chan *view),
		unregister: make(chan *view),
		done:       make(chan struct{}),
		snapshot:   snapshot,
		logger:     logger,
	}
}

// Run is the hub loop. Call it as a goroutine.
func (h *EventHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for v := range h.views {
				h.drop(v)
			}
			h.mu.Unlock()
			return

		case v := <-h.register:
			h.mu.Lock()
			h.views[v] = struct{}{}
			n := len(h.views)
			h.mu.Unlock()
			h.logger.Debug().Int("views", n).Msg("View connected")

		case v := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.views[v]; ok {
				h.drop(v)
			}
			n := len(h.views)
			h.mu.Unlock()
			h.logger.Debug().Int("views", n).Msg("View disconnected")

		case event := <-h.events:
			h.fanOut(event)
		}
	}
}

func (h *EventHub) fanOut(event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("Failed to encode view event")
		return
	}

	coalesce := stateEvents[event.Type]

	h.mu.RLock()
	var behind []*view
	for v := range h.views {
		if coalesce {
			v.replace(event.Type, data)
			continue
		}
		select {
		case v.ordered <- data:
		default:
			behind = append(behind, v)
		}
	}
	h.mu.RUnlock()

	if len(behind) == 0 {
		return
	}
	h.mu.Lock()
	for _, v := range behind {
		if _, ok := h.views[v]; ok {
			h.drop(v)
		}
	}
	h.mu.Unlock()
	h.logger.Warn().Int("dropped", len(behind)).Str("event", string(event.Type)).Msg("Dropped views that fell behind")
}

// drop removes v and tells its writer to exit. Caller holds h.mu.
func (h *EventHub) drop(v *view) {
	delete(h.views, v)
	close(v.quit)
}

// Stop ends the hub loop and disconnects every view.
func (h *EventHub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Broadcast queues an event for every view without blocking the publisher.
// Events are discarded when the hub queue is full.
func (h *EventHub) Broadcast(event models.Event) {
	select {
	case h.events <- event:
	default:
		h.logger.Warn().Str("event", string(event.Type)).Msg("View event queue full, dropping event")
	}
}

// ServeWS upgrades the request, sends the current snapshot and registers the view.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("View WebSocket upgrade failed")
		return
	}

	v := newView(h, conn, viewQueueSize)
	if h.snapshot != nil {
		frame := models.Event{Type: models.EventSnapshot, Timestamp: time.Now().UTC(), Payload: h.snapshot()}
		if data, err := json.Marshal(frame); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to encode view snapshot")
		} else {
			v.ordered <- data
		}
	}

	select {
	case h.register <- v:
	case <-h.done:
		conn.Close()
		return
	}

	go v.writePump()
	go v.readPump()
}

// ClientCount returns the number of connected views.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.views)
}

// replace stores data as the newest frame of its type and wakes the writer.
func (v *view) replace(t models.EventType, data []byte) {
	v.mu.Lock()
	v.latest[t] = data
	v.mu.Unlock()
	select {
	case v.dirty <- struct{}{}:
	default:
	}
}

// takeLatest returns and clears the pending state frames.
func (v *view) takeLatest() map[models.EventType][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.latest) == 0 {
		return nil
	}
	out := v.latest
	v.latest = make(map[models.EventType][]byte)
	return out
}

func (v *view) write(messageType int, data []byte) error {
	v.conn.SetWriteDeadline(time.Now().Add(viewWriteWait))
	return v.conn.WriteMessage(messageType, data)
}

func (v *view) writePump() {
	ticker := time.NewTicker(viewPingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case <-v.quit:
			v.write(websocket.CloseMessage, []byte{})
			return

		case data := <-v.ordered:
			if err := v.write(websocket.TextMessage, data); err != nil {
				return
			}

		case <-v.dirty:
			for _, data := range v.takeLatest() {
				if err := v.write(websocket.TextMessage, data); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := v.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames and unregisters the view when it goes away.
func (v *view) readPump() {
	defer func() {
		select {
		case v.hub.unregister <- v:
		case <-v.hub.done:
		}
		v.conn.Close()
	}()

	v.conn.SetReadLimit(512)
	v.conn.SetReadDeadline(time.Now().Add(viewPongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(viewPongWait))
		return nil
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}
