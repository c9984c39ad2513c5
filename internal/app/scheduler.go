package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/hive/internal/clients/hive"
	"github.com/bobmcallan/hive/internal/models"
)

// startSyncTasks schedules the periodic pulls that bound staleness when a
// push is missed. Results go through the same store methods as pushes.
func (a *App) startSyncTasks() {
	cfg := a.Config.Sync
	tasks := []struct {
		name     string
		interval time.Duration
		run      func(ctx context.Context) error
	}{
		{"bot-status", cfg.GetStatusInterval(), a.RefreshStatus},
		{"trading-stats", cfg.GetStatsInterval(), a.RefreshStats},
		{"signals", cfg.GetSignalsInterval(), a.RefreshSignals},
		{"wallet", cfg.GetWalletInterval(), a.RefreshWallet},
	}

	for _, t := range tasks {
		t := t
		if id := a.Scheduler.Start(t.name, func(ctx context.Context) {
			a.runPull(ctx, t.name, t.run)
		}, t.interval); id == 0 {
			a.Logger.Debug().Str("task", t.name).Msg("Sync task disabled")
		}
	}
}

// Bootstrap runs every pull once, typically right after a (re)connect.
func (a *App) Bootstrap(ctx context.Context) {
	start := time.Now()
	a.runPull(ctx, "bot-status", a.RefreshStatus)
	a.runPull(ctx, "trading-stats", a.RefreshStats)
	a.runPull(ctx, "signals", a.RefreshSignals)
	a.runPull(ctx, "wallet", a.RefreshWallet)
	a.Logger.Info().Dur("elapsed", time.Since(start)).Msg("Sync bootstrap: complete")
}

// runPull executes one pull and reports its outcome. Application errors
// become notifications; transport errors are logged.
func (a *App) runPull(ctx context.Context, name string, fn func(ctx context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	switch {
	case err == nil:
		a.Logger.Debug().Str("task", name).Dur("elapsed", time.Since(start)).Msg("Sync pull: complete")
	case errors.Is(err, ErrStaleResult), errors.Is(err, ErrClosed), ctx.Err() != nil:
		a.Logger.Debug().Str("task", name).Err(err).Msg("Sync pull: discarded")
	case hive.IsApplicationError(err):
		a.Logger.Warn().Str("task", name).Err(err).Msg("Sync pull: server reported error")
		a.Bus.Emit(models.EventNotification, models.NotificationEvent{
			Level:   "error",
			Source:  name,
			Message: err.Error(),
		})
	default:
		a.Logger.Warn().Str("task", name).Err(err).Msg("Sync pull: failed")
	}
}

// RefreshStatus pulls the bot status.
func (a *App) RefreshStatus(ctx context.Context) error {
	epoch := a.epoch.Load()
	st, err := a.Client.GetBotStatus(ctx)
	if err != nil {
		return fmt.Errorf("refresh bot status: %w", err)
	}
	return a.applyAt(epoch, func() {
		a.Status.ApplyBotStatus(*st)
		a.Bus.Emit(models.EventStatusChanged, a.Status.Snapshot())
	})
}

// RefreshStats pulls the trading stats.
func (a *App) RefreshStats(ctx context.Context) error {
	epoch := a.epoch.Load()
	stats, err := a.Client.GetTradingStats(ctx)
	if err != nil {
		return fmt.Errorf("refresh trading stats: %w", err)
	}
	return a.applyAt(epoch, func() {
		a.Status.ApplyStats(*stats)
		a.Bus.Emit(models.EventStatusChanged, a.Status.Snapshot())
	})
}

// RefreshSignals replaces the signal buffer with the server's latest list.
func (a *App) RefreshSignals(ctx context.Context) error {
	epoch := a.epoch.Load()
	signals, err := a.Client.GetSignals(ctx, a.signalCapacity())
	if err != nil {
		return fmt.Errorf("refresh signals: %w", err)
	}
	return a.applyAt(epoch, func() {
		a.Signals.Replace(signals)
		a.Bus.Emit(models.EventSignalsChanged, a.Signals.View(0))
	})
}

// RefreshWallet pulls the simulation wallet and applies it like a wallet_update push.
func (a *App) RefreshWallet(ctx context.Context) error {
	epoch := a.epoch.Load()
	w, err := a.Client.GetSimulationWallet(ctx)
	if err != nil {
		return fmt.Errorf("refresh wallet: %w", err)
	}
	return a.applyAt(epoch, func() { a.applyWallet(*w) })
}

// RefreshWalletByID pulls one wallet and its holdings and applies them as a snapshot.
func (a *App) RefreshWalletByID(ctx context.Context, id string) error {
	epoch := a.epoch.Load()
	w, err := a.Client.GetWallet(ctx, id)
	if err != nil {
		return fmt.Errorf("refresh wallet %s: %w", id, err)
	}
	if len(w.Holdings) == 0 {
		holdings, err := a.Client.GetWalletHoldings(ctx, id)
		if err != nil {
			return fmt.Errorf("refresh wallet %s holdings: %w", id, err)
		}
		w.Holdings = holdings
		w.HoldingsCount = len(holdings)
	}
	return a.applyAt(epoch, func() { a.applyWallet(*w) })
}

func (a *App) signalCapacity() int {
	if n := a.Config.Signals.Capacity; n > 0 {
		return n
	}
	return 20
}
