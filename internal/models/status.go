package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// BotStatus is the latest known state of the server-side trading bot.
type BotStatus struct {
	Running      bool      `json:"is_running"`
	State        string    `json:"state,omitempty"`
	Mode         string    `json:"mode,omitempty"`
	Strategy     string    `json:"strategy,omitempty"`
	LastActivity string    `json:"last_activity,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TradingStats is the server's aggregate trading performance summary.
type TradingStats struct {
	TotalTrades   int       `json:"total_trades"`
	WinningTrades int       `json:"winning_trades"`
	LosingTrades  int       `json:"losing_trades"`
	WinRate       float64   `json:"win_rate"`
	TotalPnL      float64   `json:"total_pnl"`
	ActiveSignals int       `json:"active_signals"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type botStatusWire struct {
	IsRunning    *bool  `json:"is_running"`
	Running      *bool  `json:"running"`
	State        string `json:"state"`
	BotStatus    string `json:"bot_status"`
	Mode         string `json:"mode"`
	Strategy     string `json:"strategy"`
	LastActivity string `json:"last_activity"`
}

// DecodeBotStatus decodes a bot status payload from either push or pull.
func DecodeBotStatus(raw json.RawMessage, now time.Time) (BotStatus, error) {
	var w botStatusWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return BotStatus{}, fmt.Errorf("decode bot status: %w", err)
	}
	state := w.State
	if state == "" {
		state = w.BotStatus
	}
	running := state == "running" || state == "active"
	if w.IsRunning != nil {
		running = *w.IsRunning
	} else if w.Running != nil {
		running = *w.Running
	}
	return BotStatus{
		Running:      running,
		State:        state,
		Mode:         w.Mode,
		Strategy:     w.Strategy,
		LastActivity: w.LastActivity,
		UpdatedAt:    now,
	}, nil
}

type statsWire struct {
	TotalTrades   FlexFloat `json:"total_trades"`
	WinningTrades FlexFloat `json:"winning_trades"`
	LosingTrades  FlexFloat `json:"losing_trades"`
	WinRate       FlexFloat `json:"win_rate"`
	TotalPnL      FlexFloat `json:"total_pnl"`
	ActiveSignals FlexFloat `json:"active_signals"`
}

// DecodeTradingStats decodes a stats payload from either push or pull.
func DecodeTradingStats(raw json.RawMessage, now time.Time) (TradingStats, error) {
	var w statsWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return TradingStats{}, fmt.Errorf("decode trading stats: %w", err)
	}
	return TradingStats{
		TotalTrades:   int(w.TotalTrades),
		WinningTrades: int(w.WinningTrades),
		LosingTrades:  int(w.LosingTrades),
		WinRate:       float64(w.WinRate),
		TotalPnL:      float64(w.TotalPnL),
		ActiveSignals: int(w.ActiveSignals),
		UpdatedAt:     now,
	}, nil
}
