// Package signal provides the bounded, paginated trading signal buffer
package signal

import (
	"sync"

	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/models"
)

const (
	DefaultCapacity = 20
	DefaultPageSize = 5
)

// Store holds at most capacity signals, newest first, with a page pointer.
// Duplicates are kept.
type Store struct {
	mu       sync.RWMutex
	signals  []models.Signal
	capacity int
	pageSize int
	page     int
	logger   *common.Logger
}

// NewStore creates a signal store. Non-positive sizes fall back to the defaults.
func NewStore(capacity, pageSize int, logger *common.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Store{
		signals:  make([]models.Signal, 0, capacity),
		capacity: capacity,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Push inserts a signal at the head, evicts the oldest beyond capacity and
// resets the page pointer to 0.
func (s *Store) Push(signal models.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.signals) + 1
	if n > s.capacity {
		n = s.capacity
	}
	next := make([]models.Signal, n, s.capacity)
	next[0] = signal
	copy(next[1:], s.signals)
	s.signals = next
	s.page = 0

	s.logger.Debug().
		Str("ticker", signal.Ticker).
		Str("action", string(signal.Action)).
		Int("count", len(s.signals)).
		Msg("Signal pushed")
}

// Replace swaps the whole buffer for a pulled list (already newest first),
// truncated to capacity, and resets the page pointer.
func (s *Store) Replace(signals []models.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(signals)
	if n > s.capacity {
		n = s.capacity
	}
	next := make([]models.Signal, n, s.capacity)
	copy(next, signals[:n])
	s.signals = next
	s.page = 0

	s.logger.Debug().Int("count", n).Int("received", len(signals)).Msg("Signals replaced")
}

// Page returns up to pageSize signals for page i. Out-of-range pages clamp.
func (s *Store) Page(i int) []models.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageLocked(s.clampLocked(i))
}

// TotalPages returns ceil(count/pageSize), or 0 when empty.
func (s *Store) TotalPages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalPagesLocked()
}

// CurrentPage returns the page pointer.
func (s *Store) CurrentPage() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

// SetPage moves the page pointer, clamped to the valid range, and returns it.
func (s *Store) SetPage(i int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = s.clampLocked(i)
	return s.page
}

// Len returns the number of buffered signals.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.signals)
}

// All returns a copy of the buffer, newest first.
func (s *Store) All() []models.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

// View returns a page with its pagination metadata. A negative page means
// the current page pointer.
func (s *Store) View(page int) models.SignalPage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if page < 0 {
		page = s.page
	}
	page = s.clampLocked(page)
	return models.SignalPage{
		Page:       page,
		PageSize:   s.pageSize,
		TotalPages: s.totalPagesLocked(),
		Count:      len(s.signals),
		Signals:    s.pageLocked(page),
	}
}

func (s *Store) totalPagesLocked() int {
	return (len(s.signals) + s.pageSize - 1) / s.pageSize
}

func (s *Store) clampLocked(i int) int {
	last := s.totalPagesLocked() - 1
	if i > last {
		i = last
	}
	if i < 0 {
		i = 0
	}
	return i
}

func (s *Store) pageLocked(i int) []models.Signal {
	start := i * s.pageSize
	if start >= len(s.signals) {
		return []models.Signal{}
	}
	end := start + s.pageSize
	if end > len(s.signals) {
		end = len(s.signals)
	}
	out := make([]models.Signal, end-start)
	copy(out, s.signals[start:end])
	return out
}
