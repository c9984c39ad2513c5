package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/hive/internal/models"
)

// ErrEmptyMessage is returned when a chat message has no text.
var ErrEmptyMessage = errors.New("app: empty chat message")

// RequestPrices asks the server to push current prices.
func (a *App) RequestPrices() error {
	return a.send(models.NewRequestPrices())
}

// SendChat sends a chat message to the server-side assistant.
func (a *App) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	return a.send(models.NewChatMessage(text))
}

// ClearConversation asks the server to drop the chat history.
func (a *App) ClearConversation() error {
	return a.send(models.NewClearConversation())
}

// FetchTradeHistory requests the exact trade list for a wallet. The reply
// arrives as a trades_history push and records the authoritative count.
func (a *App) FetchTradeHistory(wallet string) error {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return fmt.Errorf("fetch trade history: wallet name required")
	}
	return a.send(models.NewTradesHistoryRequest(wallet))
}

// Reconnect starts a fresh connection session, resetting the attempt
// counter. No-op while connecting or connected.
func (a *App) Reconnect() error {
	if a.isClosed() {
		return ErrClosed
	}
	a.Connection.Connect()
	return nil
}

// TradesCount returns the resolved trade count for a wallet and whether it is authoritative.
func (a *App) TradesCount(wallet string) (int, bool) {
	return a.Reconcile.TradesCount(wallet)
}

// Snapshot returns a read-only projection of every store. It is taken on
// the dispatch loop so no frame is half applied; after Close the stores are
// read directly.
func (a *App) Snapshot() models.DashboardSnapshot {
	var snap models.DashboardSnapshot
	if err := a.do(func() { snap = a.collect() }); err != nil {
		snap = a.collect()
	}
	return snap
}

// SetSignalPage moves the signal cursor and returns the page it landed on.
func (a *App) SetSignalPage(page int) models.SignalPage {
	var view models.SignalPage
	apply := func() {
		a.Signals.SetPage(page)
		view = a.Signals.View(-1)
		a.Bus.Emit(models.EventSignalsChanged, view)
	}
	if err := a.do(apply); err != nil {
		view = a.Signals.View(page)
	}
	return view
}

func (a *App) collect() models.DashboardSnapshot {
	return models.DashboardSnapshot{
		Connection:   a.Connection.Status(),
		Signals:      a.Signals.View(-1),
		Wallet:       a.Ledger.Snapshot(),
		Valuation:    a.Ledger.Valuation(),
		Prices:       a.Ledger.Prices(),
		TradesCounts: a.Reconcile.Counts(),
		Status:       a.Status.Snapshot(),
		Epoch:        a.epoch.Load(),
		GeneratedAt:  time.Now(),
	}
}

func (a *App) send(msg models.OutboundMessage) error {
	if a.isClosed() {
		return ErrClosed
	}
	if err := a.Connection.Send(msg); err != nil {
		a.Logger.Debug().Str("type", msg.Type).Err(err).Msg("Command not sent")
		return err
	}
	return nil
}

func (a *App) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
