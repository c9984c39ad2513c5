package ledger

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger() *Ledger {
	return NewLedger(nil, common.NewSilentLogger())
}

func TestLedger_PnLFromPriceTick(t *testing.T) {
	l := newTestLedger()
	l.ApplyWalletSnapshot(models.WalletSnapshot{
		WalletName: "w1",
		Holdings:   []models.Holding{{Symbol: "BTC", Quantity: 2, AvgBuyPrice: 30000}},
	})
	l.ApplyPriceTicks([]models.PriceTick{{AssetID: "bitcoin", USD: 35000}})

	v := l.Valuation()
	assert.Equal(t, 10000.0, v.TotalPnL)
	require.Len(t, v.Holdings, 1)
	h := v.Holdings[0]
	assert.True(t, h.Priced)
	assert.Equal(t, "bitcoin", h.AssetID)
	assert.Equal(t, 70000.0, h.CurrentValue)
	assert.Equal(t, 10000.0, h.PnL)
	assert.InDelta(t, 16.6667, h.PnLPercent, 0.001)
}

func TestLedger_NonFiniteTickIsIgnored(t *testing.T) {
	l := newTestLedger()
	l.ApplyWalletSnapshot(models.WalletSnapshot{
		Holdings: []models.Holding{{Symbol: "BTC", Quantity: 2, AvgBuyPrice: 30000}},
	})
	l.ApplyPriceTicks([]models.PriceTick{{AssetID: "bitcoin", USD: 35000}})
	l.ApplyPriceTicks([]models.PriceTick{
		{AssetID: "bitcoin", USD: math.NaN()},
		{AssetID: "bitcoin", USD: math.Inf(1)},
	})

	v := l.Valuation()
	assert.Equal(t, 70000.0, v.TotalValue)
	assert.Equal(t, 10000.0, v.TotalPnL)
	_, err := json.Marshal(v)
	assert.NoError(t, err)

	_, err = models.DecodePriceTicks(json.RawMessage(`{"bitcoin":{"usd":"NaN"}}`))
	assert.Error(t, err)
	assert.Equal(t, 70000.0, l.Valuation().TotalValue)
}

func TestLedger_UnknownSymbolFallsBackToAvgBuyPrice(t *testing.T) {
	l := newTestLedger()
	l.ApplyWalletSnapshot(models.WalletSnapshot{
		Holdings: []models.Holding{{Symbol: "WIF", Quantity: 100, AvgBuyPrice: 2.5}},
	})
	l.ApplyPriceTicks([]models.PriceTick{{AssetID: "bitcoin", USD: 35000}})

	h := l.Valuation().Holdings[0]
	assert.False(t, h.Priced)
	assert.Equal(t, 2.5, h.CurrentPrice)
	assert.Equal(t, 250.0, h.CurrentValue)
	assert.Equal(t, 0.0, h.PnL)
}

func TestLedger_KnownSymbolWithoutTick(t *testing.T) {
	l := newTestLedger()
	l.ApplyWalletSnapshot(models.WalletSnapshot{
		Holdings: []models.Holding{{Symbol: "ETH", Quantity: 1, AvgBuyPrice: 2000}},
	})
	h := l.Valuation().Holdings[0]
	assert.Equal(t, "ethereum", h.AssetID)
	assert.False(t, h.Priced)
	assert.Equal(t, 2000.0, h.CurrentValue)
}

func TestLedger_ZeroCostBasisGivesZeroPercent(t *testing.T) {
	l := newTestLedger()
	l.ApplyWalletSnapshot(models.WalletSnapshot{
		Holdings: []models.Holding{{Symbol: "BTC", Quantity: 1, AvgBuyPrice: 0}},
	})
	l.ApplyPriceTicks([]models.PriceTick{{AssetID: "bitcoin", USD: 100}})

	v := l.Valuation()
	assert.Equal(t, 100.0, v.Holdings[0].PnL)
	assert.Equal(t, 0.0, v.Holdings[0].PnLPercent)
	assert.Equal(t, 0.0, v.TotalPnLPercent)
}

func TestLedger_WalletSnapshotReplacesWholesale(t *testing.T) {
	l := newTestLedger()
	l.ApplyWalletSnapshot(models.WalletSnapshot{
		Cash:     500,
		Holdings: []models.Holding{{Symbol: "BTC", Quantity: 1, AvgBuyPrice: 1}, {Symbol: "ETH", Quantity: 1, AvgBuyPrice: 1}},
	})
	l.ApplyWalletSnapshot(models.WalletSnapshot{
		Cash:     200,
		Holdings: []models.Holding{{Symbol: "SOL", Quantity: 3, AvgBuyPrice: 10}},
	})

	snap := l.Snapshot()
	require.Len(t, snap.Holdings, 1)
	assert.Equal(t, "SOL", snap.Holdings[0].Symbol)
	assert.Equal(t, 200.0, snap.Cash)

	v := l.Valuation()
	assert.Equal(t, 30.0, v.HoldingsValue)
	assert.Equal(t, 230.0, v.TotalValue)
}

func TestLedger_PriceTicksUpsert(t *testing.T) {
	l := newTestLedger()
	l.ApplyPriceTicks([]models.PriceTick{{AssetID: "bitcoin", USD: 1}, {AssetID: "ethereum", USD: 2}})
	l.ApplyPriceTicks([]models.PriceTick{{AssetID: "bitcoin", USD: 3}, {AssetID: "bad", USD: -1}})

	prices := l.Prices()
	require.Len(t, prices, 2)
	assert.Equal(t, "bitcoin", prices[0].AssetID)
	assert.Equal(t, 3.0, prices[0].USD)
	assert.Equal(t, 2.0, prices[1].USD, "unrelated entries are untouched")

	tick, ok := l.Price("eth")
	assert.True(t, ok)
	assert.Equal(t, 2.0, tick.USD)
	_, ok = l.Price("WIF")
	assert.False(t, ok)
}

func TestLedger_ValuationIsPureOverInterleavings(t *testing.T) {
	wallet := models.WalletSnapshot{
		Cash: 1000,
		Holdings: []models.Holding{
			{Symbol: "BTC", Quantity: 0.5, AvgBuyPrice: 40000},
			{Symbol: "ETH", Quantity: 4, AvgBuyPrice: 2500},
		},
	}
	ticks := []models.PriceTick{{AssetID: "bitcoin", USD: 42000}, {AssetID: "ethereum", USD: 2400}}

	a := newTestLedger()
	a.ApplyWalletSnapshot(wallet)
	a.ApplyPriceTicks(ticks)

	b := newTestLedger()
	b.ApplyPriceTicks(ticks)
	b.ApplyWalletSnapshot(wallet)

	va := a.Valuation()
	assert.Equal(t, va, a.Valuation(), "valuation is idempotent")
	assert.Equal(t, va, b.Valuation(), "order of wallet and price application does not matter")

	// Re-applying the same state is a no-op for valuation.
	a.ApplyWalletSnapshot(wallet)
	a.ApplyPriceTicks(ticks)
	assert.Equal(t, va, a.Valuation())

	assert.Equal(t, 21000.0+9600.0, va.HoldingsValue)
	assert.Equal(t, 20000.0+10000.0, va.TotalCost)
	assert.Equal(t, 600.0, va.TotalPnL)
	assert.Equal(t, 1000.0+30600.0, va.TotalValue)
}

func TestLedger_AssetOverrides(t *testing.T) {
	l := NewLedger(map[string]string{"pepe": "pepe", "DOGE": ""}, common.NewSilentLogger())

	id, ok := l.AssetID("PEPE")
	assert.True(t, ok)
	assert.Equal(t, "pepe", id)

	_, ok = l.AssetID("DOGE")
	assert.False(t, ok, "empty override removes the default mapping")

	id, ok = l.AssetID("btc")
	assert.True(t, ok)
	assert.Equal(t, "bitcoin", id)
}

func TestLedger_SnapshotIsCopy(t *testing.T) {
	l := newTestLedger()
	in := []models.Holding{{Symbol: "BTC", Quantity: 1, AvgBuyPrice: 1}}
	l.ApplyWalletSnapshot(models.WalletSnapshot{Holdings: in})
	in[0].Quantity = 99

	snap := l.Snapshot()
	assert.Equal(t, 1.0, snap.Holdings[0].Quantity)
	snap.Holdings[0].Quantity = 42
	assert.Equal(t, 1.0, l.Snapshot().Holdings[0].Quantity)
}
