package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultAssetIDs maps holding symbols to canonical price asset ids.
var DefaultAssetIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"DOGE":  "dogecoin",
	"ADA":   "cardano",
	"XRP":   "ripple",
	"DOT":   "polkadot",
	"AVAX":  "avalanche-2",
	"MATIC": "matic-network",
	"LINK":  "chainlink",
}

// Holding is a position in a wallet. Mutated only by wallet snapshots.
type Holding struct {
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	AvgBuyPrice float64 `json:"avg_buy_price"`
}

// WalletSnapshot is an authoritative full view of a wallet.
// TotalTrades keeps the server's approximate count text as received.
type WalletSnapshot struct {
	WalletName    string    `json:"wallet_name"`
	Cash          float64   `json:"cash"`
	TotalValue    float64   `json:"total_value"`
	TotalTrades   string    `json:"total_trades,omitempty"`
	HoldingsCount int       `json:"holdings_count"`
	Holdings      []Holding `json:"holdings"`
	ReceivedAt    time.Time `json:"received_at"`
}

// ApproximateTrades returns the best-effort parsed aggregate trade count.
func (w WalletSnapshot) ApproximateTrades() (int, bool) {
	return ParseApproximateCount(w.TotalTrades)
}

type holdingWire struct {
	Symbol       string     `json:"symbol"`
	Quantity     *FlexFloat `json:"quantity"`
	Amount       *FlexFloat `json:"amount"`
	AvgBuyPrice  *FlexFloat `json:"avg_buy_price"`
	AveragePrice *FlexFloat `json:"average_price"`
}

type walletWire struct {
	WalletName    string        `json:"wallet_name"`
	Name          string        `json:"name"`
	Cash          *FlexFloat    `json:"cash"`
	CashBalance   *FlexFloat    `json:"cash_balance"`
	TotalValue    FlexFloat     `json:"total_value"`
	TotalTrades   flexString    `json:"total_trades"`
	HoldingsCount FlexFloat     `json:"holdings_count"`
	Holdings      []holdingWire `json:"holdings"`
}

// DecodeWalletSnapshot validates and normalizes a wallet payload. Negative
// quantities and prices are clamped to zero and holdings without a symbol
// are dropped.
func DecodeWalletSnapshot(raw json.RawMessage, now time.Time) (WalletSnapshot, error) {
	var w walletWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return WalletSnapshot{}, fmt.Errorf("decode wallet: %w", err)
	}

	name := w.WalletName
	if name == "" {
		name = w.Name
	}

	snap := WalletSnapshot{
		WalletName:    name,
		Cash:          nonNegative(firstFlex(w.CashBalance, w.Cash)),
		TotalValue:    float64(w.TotalValue),
		TotalTrades:   string(w.TotalTrades),
		HoldingsCount: int(w.HoldingsCount),
		Holdings:      make([]Holding, 0, len(w.Holdings)),
		ReceivedAt:    now,
	}

	for _, h := range w.Holdings {
		symbol := strings.ToUpper(strings.TrimSpace(h.Symbol))
		if symbol == "" {
			continue
		}
		snap.Holdings = append(snap.Holdings, Holding{
			Symbol:      symbol,
			Quantity:    nonNegative(firstFlex(h.Quantity, h.Amount)),
			AvgBuyPrice: nonNegative(firstFlex(h.AvgBuyPrice, h.AveragePrice)),
		})
	}
	if snap.HoldingsCount == 0 {
		snap.HoldingsCount = len(snap.Holdings)
	}
	return snap, nil
}

// DecodeHoldings decodes a bare holdings list as served by the wallet holdings endpoint.
func DecodeHoldings(raw json.RawMessage) ([]Holding, error) {
	var items []holdingWire
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode holdings: %w", err)
	}
	holdings := make([]Holding, 0, len(items))
	for _, h := range items {
		symbol := strings.ToUpper(strings.TrimSpace(h.Symbol))
		if symbol == "" {
			continue
		}
		holdings = append(holdings, Holding{
			Symbol:      symbol,
			Quantity:    nonNegative(firstFlex(h.Quantity, h.Amount)),
			AvgBuyPrice: nonNegative(firstFlex(h.AvgBuyPrice, h.AveragePrice)),
		})
	}
	return holdings, nil
}

// PriceTick is the latest market price for one asset id.
type PriceTick struct {
	AssetID      string   `json:"asset_id"`
	USD          float64  `json:"usd"`
	USD24hChange *float64 `json:"usd_24h_change,omitempty"`
	MarketCap    *float64 `json:"usd_market_cap,omitempty"`
	Image        string   `json:"image,omitempty"`
}

type priceWire struct {
	USD          FlexFloat  `json:"usd"`
	USD24hChange *FlexFloat `json:"usd_24h_change"`
	MarketCap    *FlexFloat `json:"usd_market_cap"`
	Image        string     `json:"image"`
}

// DecodePriceTicks decodes a price_update payload keyed by asset id.
// Entries with a negative price are dropped. Ticks are returned sorted by asset id.
func DecodePriceTicks(raw json.RawMessage) ([]PriceTick, error) {
	var m map[string]priceWire
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}
	ticks := make([]PriceTick, 0, len(m))
	for id, p := range m {
		if id == "" || p.USD < 0 || !finite(float64(p.USD)) {
			continue
		}
		tick := PriceTick{AssetID: id, USD: float64(p.USD), Image: p.Image}
		if p.USD24hChange != nil {
			v := float64(*p.USD24hChange)
			tick.USD24hChange = &v
		}
		if p.MarketCap != nil {
			v := float64(*p.MarketCap)
			tick.MarketCap = &v
		}
		ticks = append(ticks, tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].AssetID < ticks[j].AssetID })
	return ticks, nil
}

// HoldingValuation is the derived value of one holding at current prices.
type HoldingValuation struct {
	Symbol       string   `json:"symbol"`
	AssetID      string   `json:"asset_id,omitempty"`
	Quantity     float64  `json:"quantity"`
	AvgBuyPrice  float64  `json:"avg_buy_price"`
	CurrentPrice float64  `json:"current_price"`
	Priced       bool     `json:"priced"` // false when falling back to avg buy price
	Change24h    *float64 `json:"change_24h,omitempty"`
	CurrentValue float64  `json:"current_value"`
	CostBasis    float64  `json:"cost_basis"`
	PnL          float64  `json:"pnl"`
	PnLPercent   float64  `json:"pnl_percent"`
}

// Valuation is computed on read from holdings, cash and the price table.
type Valuation struct {
	WalletName      string             `json:"wallet_name,omitempty"`
	Holdings        []HoldingValuation `json:"holdings"`
	Cash            float64            `json:"cash"`
	HoldingsValue   float64            `json:"holdings_value"`
	TotalValue      float64            `json:"total_value"` // cash + holdings value
	TotalCost       float64            `json:"total_cost"`
	TotalPnL        float64            `json:"total_pnl"`
	TotalPnLPercent float64            `json:"total_pnl_percent"`
}

// TradeRecord is one executed trade from a wallet's detailed history.
type TradeRecord struct {
	ID         string  `json:"id,omitempty"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	ExecutedAt string  `json:"executed_at,omitempty"`
}

type tradeWire struct {
	ID         flexString `json:"id"`
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side"`
	Action     string     `json:"action"`
	Quantity   FlexFloat  `json:"quantity"`
	Price      FlexFloat  `json:"price"`
	ExecutedAt string     `json:"executed_at"`
	Timestamp  flexString `json:"timestamp"`
}

// TradesHistory is the exact trade list for one wallet.
type TradesHistory struct {
	WalletName string        `json:"wallet_name"`
	Trades     []TradeRecord `json:"trades"`
}

// DecodeTradesHistory decodes a trades_history payload. Every element of the
// trade list counts, including ones whose fields fail to parse.
func DecodeTradesHistory(raw json.RawMessage) (TradesHistory, error) {
	var w struct {
		WalletName string            `json:"wallet_name"`
		Trades     []json.RawMessage `json:"trades"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return TradesHistory{}, fmt.Errorf("decode trades history: %w", err)
	}
	if w.WalletName == "" {
		return TradesHistory{}, fmt.Errorf("decode trades history: missing wallet_name")
	}

	history := TradesHistory{WalletName: w.WalletName, Trades: make([]TradeRecord, 0, len(w.Trades))}
	for _, item := range w.Trades {
		var t tradeWire
		_ = json.Unmarshal(item, &t)
		side := t.Side
		if side == "" {
			side = t.Action
		}
		executed := t.ExecutedAt
		if executed == "" {
			executed = string(t.Timestamp)
		}
		history.Trades = append(history.Trades, TradeRecord{
			ID:         string(t.ID),
			Symbol:     t.Symbol,
			Side:       strings.ToUpper(side),
			Quantity:   float64(t.Quantity),
			Price:      float64(t.Price),
			ExecutedAt: executed,
		})
	}
	return history, nil
}

func firstFlex(vals ...*FlexFloat) float64 {
	for _, v := range vals {
		if v != nil {
			return float64(*v)
		}
	}
	return 0
}

func nonNegative(v float64) float64 {
	if v < 0 || !finite(v) {
		return 0
	}
	return v
}
