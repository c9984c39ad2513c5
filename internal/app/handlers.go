package app

import (
	"encoding/json"

	"github.com/bobmcallan/hive/internal/models"
	"github.com/bobmcallan/hive/internal/services/router"
)

// registerHandlers wires every inbound message type to its store.
// Handlers run on the dispatch loop.
func (a *App) registerHandlers() {
	r := a.Router

	router.HandleDecoded(r, models.MsgPriceUpdate, models.DecodePriceTicks, func(ticks []models.PriceTick) error {
		a.Ledger.ApplyPriceTicks(ticks)
		a.Bus.Emit(models.EventValuationChanged, a.Ledger.Valuation())
		return nil
	})

	router.HandleDecoded(r, models.MsgNewSignal, a.decodeSignal, func(s models.Signal) error {
		a.Signals.Push(s)
		a.Bus.Emit(models.EventSignalsChanged, a.Signals.View(0))
		return nil
	})

	router.HandleDecoded(r, models.MsgWalletUpdate, a.decodeWallet, func(w models.WalletSnapshot) error {
		a.applyWallet(w)
		return nil
	})

	router.HandleDecoded(r, models.MsgTradesHistory, models.DecodeTradesHistory, func(h models.TradesHistory) error {
		a.Reconcile.RecordAuthoritative(h.WalletName, len(h.Trades))
		a.Bus.Emit(models.EventTradesCountChanged, models.TradesCountEvent{
			WalletName:    h.WalletName,
			Count:         len(h.Trades),
			Authoritative: true,
		})
		return nil
	})

	r.Register(models.MsgStatsUpdate, func(raw json.RawMessage) error {
		stats, err := models.DecodeTradingStats(raw, a.now())
		if err == nil {
			a.Status.ApplyStats(stats)
			a.Bus.Emit(models.EventStatusChanged, a.Status.Snapshot())
		} else {
			a.Logger.Debug().Err(err).Msg("stats_update not decodable as trading stats")
		}
		a.Bus.Emit(models.EventPresentation, models.PresentationEvent{MessageType: models.MsgStatsUpdate, Payload: raw})
		return nil
	})

	router.HandleDecoded(r, models.MsgBotStatus, a.decodeBotStatus, func(st models.BotStatus) error {
		a.Status.ApplyBotStatus(st)
		a.Bus.Emit(models.EventStatusChanged, a.Status.Snapshot())
		return nil
	})

	router.Handle(r, models.MsgError, func(p models.ErrorPayload) error {
		a.Bus.Emit(models.EventNotification, models.NotificationEvent{
			Level:   "error",
			Source:  "server",
			Message: p.Message,
		})
		return nil
	})

	for _, t := range models.PresentationTypes {
		msgType := t
		r.Register(msgType, func(raw json.RawMessage) error {
			a.Bus.Emit(models.EventPresentation, models.PresentationEvent{MessageType: msgType, Payload: raw})
			return nil
		})
	}
}

// applyWallet replaces the ledger's wallet and records its approximate trade
// count. Push and pull share this path. Runs on the dispatch loop.
func (a *App) applyWallet(w models.WalletSnapshot) {
	a.Ledger.ApplyWalletSnapshot(w)
	a.Bus.Emit(models.EventValuationChanged, a.Ledger.Valuation())

	if w.WalletName == "" {
		return
	}
	if n, ok := w.ApproximateTrades(); ok {
		a.Reconcile.RecordApproximate(w.WalletName, n)
	}
	count, authoritative := a.Reconcile.TradesCount(w.WalletName)
	a.Bus.Emit(models.EventTradesCountChanged, models.TradesCountEvent{
		WalletName:    w.WalletName,
		Count:         count,
		Authoritative: authoritative,
	})
}

func (a *App) decodeSignal(raw json.RawMessage) (models.Signal, error) {
	return models.DecodeSignal(raw, a.now())
}

func (a *App) decodeWallet(raw json.RawMessage) (models.WalletSnapshot, error) {
	return models.DecodeWalletSnapshot(raw, a.now())
}

func (a *App) decodeBotStatus(raw json.RawMessage) (models.BotStatus, error) {
	return models.DecodeBotStatus(raw, a.now())
}
