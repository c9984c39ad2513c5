// Package router decodes inbound frames and dispatches them by type tag
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/models"
)

// ErrDecode marks a payload that failed typed decoding at the boundary.
var ErrDecode = errors.New("payload decode failed")

// HandlerFunc handles the raw payload of one message type.
type HandlerFunc func(payload json.RawMessage) error

// Stats counts dispatch outcomes since creation.
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Malformed  uint64 `json:"malformed"`
	Unknown    uint64 `json:"unknown"`
	Rejected   uint64 `json:"rejected"` // typed decode failures
	Failed     uint64 `json:"failed"`   // handler errors and panics
}

// Router holds the handler table. Dispatch is synchronous and never
// propagates handler failures, so frames are handled strictly in call order.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   *common.Logger

	dispatched atomic.Uint64
	malformed  atomic.Uint64
	unknown    atomic.Uint64
	rejected   atomic.Uint64
	failed     atomic.Uint64
}

// NewRouter creates an empty router.
func NewRouter(logger *common.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register sets the handler for msgType, replacing any previous one.
func (r *Router) Register(msgType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = h
}

// Handle registers fn for msgType with the payload JSON-decoded into T once.
func Handle[T any](r *Router, msgType string, fn func(T) error) {
	HandleDecoded(r, msgType, func(raw json.RawMessage) (T, error) {
		var v T
		err := json.Unmarshal(raw, &v)
		return v, err
	}, fn)
}

// HandleDecoded registers fn for msgType with a custom validating decoder.
// A decoder error is reported as a single rejected message.
func HandleDecoded[T any](r *Router, msgType string, decode func(json.RawMessage) (T, error), fn func(T) error) {
	r.Register(msgType, func(raw json.RawMessage) error {
		v, err := decode(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDecode, msgType, err)
		}
		return fn(v)
	})
}

// Types returns the registered message types.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// Dispatch parses one raw frame and runs its handler. Malformed frames and
// unknown types are logged and dropped.
func (r *Router) Dispatch(frame []byte) {
	var msg models.InboundMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		r.malformed.Add(1)
		r.logger.Warn().Err(err).Int("bytes", len(frame)).Msg("Router: dropping malformed frame")
		return
	}
	if msg.Type == "" {
		r.malformed.Add(1)
		r.logger.Warn().Int("bytes", len(frame)).Msg("Router: dropping frame without type")
		return
	}
	r.Route(msg)
}

// Route runs the handler for an already parsed message.
func (r *Router) Route(msg models.InboundMessage) {
	r.mu.RLock()
	h, ok := r.handlers[msg.Type]
	r.mu.RUnlock()

	if !ok {
		r.unknown.Add(1)
		r.logger.Debug().Str("type", msg.Type).Msg("Router: ignoring unknown message type")
		return
	}

	r.dispatched.Add(1)
	if err := r.invoke(msg.Type, h, msg.Payload); err != nil {
		if errors.Is(err, ErrDecode) {
			r.rejected.Add(1)
			r.logger.Warn().Str("type", msg.Type).Err(err).Msg("Router: dropping invalid payload")
			return
		}
		r.failed.Add(1)
		r.logger.Error().Str("type", msg.Type).Err(err).Msg("Router: handler failed")
	}
}

// Stats returns a copy of the dispatch counters.
func (r *Router) Stats() Stats {
	return Stats{
		Dispatched: r.dispatched.Load(),
		Malformed:  r.malformed.Load(),
		Unknown:    r.unknown.Load(),
		Rejected:   r.rejected.Load(),
		Failed:     r.failed.Load(),
	}
}

func (r *Router) invoke(msgType string, h HandlerFunc, payload json.RawMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("type", msgType).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in message handler")
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(payload)
}
