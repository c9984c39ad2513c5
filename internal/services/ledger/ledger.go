// Package ledger holds wallet holdings, cash and the latest price table,
// and derives valuation from them on every read.
package ledger

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/models"
)

// Ledger owns the holdings and the price table. Nothing else mutates them.
type Ledger struct {
	mu       sync.RWMutex
	wallet   models.WalletSnapshot
	prices   map[string]models.PriceTick
	assetIDs map[string]string
	logger   *common.Logger
}

// NewLedger creates a ledger. overrides are merged over models.DefaultAssetIDs;
// an empty asset id removes a default mapping.
func NewLedger(overrides map[string]string, logger *common.Logger) *Ledger {
	ids := make(map[string]string, len(models.DefaultAssetIDs)+len(overrides))
	for sym, id := range models.DefaultAssetIDs {
		ids[sym] = id
	}
	for sym, id := range overrides {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if id == "" {
			delete(ids, sym)
			continue
		}
		ids[sym] = id
	}
	return &Ledger{
		prices:   make(map[string]models.PriceTick),
		assetIDs: ids,
		logger:   logger,
	}
}

// ApplyWalletSnapshot replaces holdings and cash wholesale. Last write wins.
func (l *Ledger) ApplyWalletSnapshot(snapshot models.WalletSnapshot) {
	holdings := make([]models.Holding, len(snapshot.Holdings))
	copy(holdings, snapshot.Holdings)
	snapshot.Holdings = holdings

	l.mu.Lock()
	l.wallet = snapshot
	l.mu.Unlock()

	l.logger.Debug().
		Str("wallet", snapshot.WalletName).
		Int("holdings", len(holdings)).
		Msg("Wallet snapshot applied")
}

// ApplyPriceTicks upserts ticks by asset id. Other entries are untouched.
func (l *Ledger) ApplyPriceTicks(ticks []models.PriceTick) {
	l.mu.Lock()
	for _, t := range ticks {
		if t.AssetID == "" || t.USD < 0 || math.IsNaN(t.USD) || math.IsInf(t.USD, 0) {
			continue
		}
		l.prices[t.AssetID] = t
	}
	size := len(l.prices)
	l.mu.Unlock()

	l.logger.Debug().Int("ticks", len(ticks)).Int("table_size", size).Msg("Price ticks applied")
}

// AssetID translates a holding symbol to its price table key.
func (l *Ledger) AssetID(symbol string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.assetIDs[strings.ToUpper(symbol)]
	return id, ok
}

// Price looks up the latest tick for a holding symbol.
func (l *Ledger) Price(symbol string) (models.PriceTick, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.assetIDs[strings.ToUpper(symbol)]
	if !ok {
		return models.PriceTick{}, false
	}
	tick, ok := l.prices[id]
	return tick, ok
}

// Prices returns a copy of the price table sorted by asset id.
func (l *Ledger) Prices() []models.PriceTick {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.PriceTick, 0, len(l.prices))
	for _, t := range l.prices {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Snapshot returns a copy of the last applied wallet snapshot.
func (l *Ledger) Snapshot() models.WalletSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := l.wallet
	snap.Holdings = make([]models.Holding, len(l.wallet.Holdings))
	copy(snap.Holdings, l.wallet.Holdings)
	return snap
}

// Valuation recomputes every derived field from the current holdings and
// price table. Nothing derived is cached between calls.
func (l *Ledger) Valuation() models.Valuation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v := models.Valuation{
		WalletName: l.wallet.WalletName,
		Holdings:   make([]models.HoldingValuation, 0, len(l.wallet.Holdings)),
		Cash:       l.wallet.Cash,
	}

	for _, h := range l.wallet.Holdings {
		hv := models.HoldingValuation{
			Symbol:       h.Symbol,
			Quantity:     h.Quantity,
			AvgBuyPrice:  h.AvgBuyPrice,
			CurrentPrice: h.AvgBuyPrice,
		}
		if id, ok := l.assetIDs[strings.ToUpper(h.Symbol)]; ok {
			hv.AssetID = id
			if tick, ok := l.prices[id]; ok {
				hv.CurrentPrice = tick.USD
				hv.Priced = true
				hv.Change24h = tick.USD24hChange
			}
		}

		hv.CurrentValue = h.Quantity * hv.CurrentPrice
		hv.CostBasis = h.Quantity * h.AvgBuyPrice
		hv.PnL = hv.CurrentValue - hv.CostBasis
		hv.PnLPercent = percent(hv.PnL, hv.CostBasis)

		v.HoldingsValue += hv.CurrentValue
		v.TotalCost += hv.CostBasis
		v.Holdings = append(v.Holdings, hv)
	}

	v.TotalValue = v.Cash + v.HoldingsValue
	v.TotalPnL = v.HoldingsValue - v.TotalCost
	v.TotalPnLPercent = percent(v.TotalPnL, v.TotalCost)
	return v
}

func percent(pnl, cost float64) float64 {
	if cost <= 0 {
		return 0
	}
	return pnl / cost * 100
}
