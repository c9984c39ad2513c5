// Package events provides the typed state-change bus consumed by the presentation layer
package events

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/models"
)

// Bus fans events out synchronously to every subscriber in subscription order.
// A panicking subscriber is logged and skipped.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]func(models.Event)
	order  []uint64
	nextID uint64
	now    func() time.Time
	logger *common.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *common.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]func(models.Event)),
		now:    time.Now,
		logger: logger,
	}
}

// Subscribe registers fn and returns a func that removes it.
func (b *Bus) Subscribe(fn func(models.Event)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish stamps the event if needed and delivers it to all subscribers.
func (b *Bus) Publish(event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	b.mu.RLock()
	fns := make([]func(models.Event), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		b.deliver(event, fn)
	}
}

// Emit is shorthand for publishing a typed payload.
func (b *Bus) Emit(typ models.EventType, payload any) {
	b.Publish(models.Event{Type: typ, Payload: payload})
}

func (b *Bus) deliver(event models.Event, fn func(models.Event)) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event", string(event.Type)).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in event subscriber")
		}
	}()
	fn(event)
}
