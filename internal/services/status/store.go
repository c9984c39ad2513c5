// Package status holds the latest bot status and trading statistics
package status

import (
	"sync"

	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/models"
)

// Store keeps the most recent bot status and stats. Push and pull both
// write here; the last write wins.
type Store struct {
	mu     sync.RWMutex
	bot    *models.BotStatus
	stats  *models.TradingStats
	logger *common.Logger
}

// NewStore creates an empty status store.
func NewStore(logger *common.Logger) *Store {
	return &Store{logger: logger}
}

// ApplyBotStatus replaces the bot status.
func (s *Store) ApplyBotStatus(status models.BotStatus) {
	s.mu.Lock()
	s.bot = &status
	s.mu.Unlock()
	s.logger.Debug().Bool("running", status.Running).Str("state", status.State).Msg("Bot status applied")
}

// ApplyStats replaces the trading stats.
func (s *Store) ApplyStats(stats models.TradingStats) {
	s.mu.Lock()
	s.stats = &stats
	s.mu.Unlock()
	s.logger.Debug().Int("total_trades", stats.TotalTrades).Msg("Trading stats applied")
}

// Snapshot returns copies of the latest values. Unknown values are nil.
func (s *Store) Snapshot() models.StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snap models.StatusSnapshot
	if s.bot != nil {
		b := *s.bot
		snap.Bot = &b
	}
	if s.stats != nil {
		st := *s.stats
		snap.Stats = &st
	}
	return snap
}
