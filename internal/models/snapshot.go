package models

import "time"

// SignalPage is one page of the newest-first signal buffer.
type SignalPage struct {
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalPages int      `json:"total_pages"`
	Count      int      `json:"count"`
	Signals    []Signal `json:"signals"`
}

// StatusSnapshot pairs the latest bot status and trading stats, either of which may be unknown.
type StatusSnapshot struct {
	Bot   *BotStatus    `json:"bot,omitempty"`
	Stats *TradingStats `json:"stats,omitempty"`
}

// DashboardSnapshot is the read-only projection handed to the presentation layer.
type DashboardSnapshot struct {
	Connection   ConnectionStatus `json:"connection"`
	Signals      SignalPage       `json:"signals"`
	Wallet       WalletSnapshot   `json:"wallet"`
	Valuation    Valuation        `json:"valuation"`
	Prices       []PriceTick      `json:"prices"`
	TradesCounts map[string]int   `json:"trades_counts"`
	Status       StatusSnapshot   `json:"status"`
	Epoch        uint64           `json:"epoch"`
	GeneratedAt  time.Time        `json:"generated_at"`
}
