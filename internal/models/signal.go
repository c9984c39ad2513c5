package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// SignalAction is the recommended trade direction.
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// Signal is a single trading recommendation. Identity is positional and
// duplicates are legal.
type Signal struct {
	Ticker      string       `json:"ticker"`
	Action      SignalAction `json:"action"`
	Confidence  float64      `json:"confidence"` // 0-100
	EntryPrice  *float64     `json:"entry_price,omitempty"`
	TargetPrice *float64     `json:"target_price,omitempty"`
	StopLoss    *float64     `json:"stop_loss,omitempty"`
	SignalType  string       `json:"signal_type,omitempty"`
	Reasoning   string       `json:"reasoning,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// ErrMissingTicker is returned when a signal payload names no instrument.
var ErrMissingTicker = errors.New("signal has no ticker")

type signalWire struct {
	Ticker      string          `json:"ticker"`
	Symbol      string          `json:"symbol"`
	Action      string          `json:"action"`
	Type        string          `json:"type"`
	Confidence  FlexFloat       `json:"confidence"`
	EntryPrice  *FlexFloat      `json:"entry_price"`
	TargetPrice *FlexFloat      `json:"target_price"`
	StopLoss    *FlexFloat      `json:"stop_loss"`
	SignalType  string          `json:"signal_type"`
	Reasoning   string          `json:"reasoning"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

// DecodeSignal validates and normalizes a signal payload. The action falls
// back from "action" to "type" to HOLD, confidence is clamped to [0,100] and
// a missing or unreadable timestamp becomes now.
func DecodeSignal(raw json.RawMessage, now time.Time) (Signal, error) {
	var w signalWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Signal{}, fmt.Errorf("decode signal: %w", err)
	}

	ticker := strings.TrimSpace(w.Ticker)
	if ticker == "" {
		ticker = strings.TrimSpace(w.Symbol)
	}
	if ticker == "" {
		return Signal{}, ErrMissingTicker
	}

	action := w.Action
	if action == "" {
		action = w.Type
	}

	return Signal{
		Ticker:      strings.ToUpper(ticker),
		Action:      NormalizeAction(action),
		Confidence:  clamp(float64(w.Confidence), 0, 100),
		EntryPrice:  optionalPrice(w.EntryPrice),
		TargetPrice: optionalPrice(w.TargetPrice),
		StopLoss:    optionalPrice(w.StopLoss),
		SignalType:  w.SignalType,
		Reasoning:   w.Reasoning,
		Timestamp:   parseTimestamp(w.Timestamp, now),
	}, nil
}

// DecodeSignals decodes a list of signal payloads, skipping invalid entries.
// The number of skipped entries is returned alongside.
func DecodeSignals(raw json.RawMessage, now time.Time) ([]Signal, int, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0, fmt.Errorf("decode signal list: %w", err)
	}
	signals := make([]Signal, 0, len(items))
	skipped := 0
	for _, item := range items {
		s, err := DecodeSignal(item, now)
		if err != nil {
			skipped++
			continue
		}
		signals = append(signals, s)
	}
	return signals, skipped, nil
}

// NormalizeAction maps free-form action text onto BUY, SELL or HOLD.
func NormalizeAction(s string) SignalAction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return ActionBuy
	case "SELL", "SHORT":
		return ActionSell
	default:
		return ActionHold
	}
}

func optionalPrice(f *FlexFloat) *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	if v < 0 || math.IsNaN(v) {
		return nil
	}
	return &v
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// parseTimestamp accepts RFC3339 text or unix seconds/milliseconds.
func parseTimestamp(raw json.RawMessage, now time.Time) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return now
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return now
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		var t time.Time
		if n > 1e12 {
			if n > maxUnixMilli {
				return now
			}
			t = time.UnixMilli(int64(n)).UTC()
		} else {
			sec, frac := math.Modf(n)
			t = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		if t.Year() > 9999 {
			return now
		}
		return t
	}
	return now
}

// maxUnixMilli is the last millisecond of year 9999, the JSON time limit.
var maxUnixMilli = float64(time.Date(9999, 12, 31, 23, 59, 59, 999e6, time.UTC).UnixMilli())
