// Package interfaces defines service contracts for Hive
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/hive/internal/models"
)

// ConnectionManager owns the push connection lifecycle
type ConnectionManager interface {
	// Connect starts a session. No-op while connecting or connected.
	Connect()

	// Send writes a command frame. Returns an error unless connected.
	Send(msg models.OutboundMessage) error

	// Close tears down the session and stops reconnecting
	Close() error

	// State returns the current lifecycle state
	State() models.ConnectionState

	// Status returns state plus attempt bookkeeping
	Status() models.ConnectionStatus
}

// SignalStore holds the bounded newest-first signal buffer
type SignalStore interface {
	Push(signal models.Signal)
	Replace(signals []models.Signal)
	Page(i int) []models.Signal
	TotalPages() int
	CurrentPage() int
	SetPage(i int) int
	Len() int
	All() []models.Signal
	View(page int) models.SignalPage
}

// PositionLedger holds wallet holdings, cash and the price table
type PositionLedger interface {
	ApplyWalletSnapshot(snapshot models.WalletSnapshot)
	ApplyPriceTicks(ticks []models.PriceTick)
	Valuation() models.Valuation
	Prices() []models.PriceTick
	Snapshot() models.WalletSnapshot
	Price(symbol string) (models.PriceTick, bool)
}

// ReconciliationCache reconciles approximate trade counts against authoritative ones
type ReconciliationCache interface {
	RecordAuthoritative(wallet string, count int)
	RecordApproximate(wallet string, count int)
	Resolve(wallet string, approx int) int
	TradesCount(wallet string) (count int, authoritative bool)
	Overrides() map[string]int
	Counts() map[string]int
}

// StatusStore holds the latest bot status and trading stats
type StatusStore interface {
	ApplyBotStatus(status models.BotStatus)
	ApplyStats(stats models.TradingStats)
	Snapshot() models.StatusSnapshot
}

// TaskID identifies a scheduled periodic task
type TaskID uint64

// Scheduler runs independent periodic pull tasks
type Scheduler interface {
	// Start runs task every interval, first firing offset by jitter
	Start(name string, task func(ctx context.Context), interval time.Duration) TaskID

	// Stop cancels one task; unknown ids are ignored
	Stop(id TaskID)

	// StopAll cancels every task and waits for running ones to return
	StopAll()
}

// EventPublisher fans out state-change events
type EventPublisher interface {
	Publish(event models.Event)
	Subscribe(fn func(models.Event)) (unsubscribe func())
}
