package models

import (
	"encoding/json"
	"time"
)

// EventType identifies a state-change notification for the presentation layer.
type EventType string

const (
	EventConnectionState    EventType = "connection_state"
	EventConnected          EventType = "connected"
	EventConnectionFailed   EventType = "connection_failed"
	EventSignalsChanged     EventType = "signals_changed"
	EventValuationChanged   EventType = "valuation_changed"
	EventTradesCountChanged EventType = "trades_count_changed"
	EventStatusChanged      EventType = "status_changed"
	EventNotification       EventType = "notification"
	EventPresentation       EventType = "presentation"
	EventSnapshot           EventType = "snapshot" // first frame sent to a new view
)

// Event is published on the bus after every observable state change.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// ConnectionEvent describes a connection state transition.
type ConnectionEvent struct {
	State    ConnectionState `json:"state"`
	Previous ConnectionState `json:"previous"`
	Attempt  int             `json:"attempt"`
	DelayMS  int64           `json:"delay_ms,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// NotificationEvent is a user-visible application error or notice.
type NotificationEvent struct {
	Level   string `json:"level"` // "error", "warning", "info"
	Source  string `json:"source"`
	Message string `json:"message"`
}

// PresentationEvent forwards a pushed frame the core does not interpret.
type PresentationEvent struct {
	MessageType string          `json:"message_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// TradesCountEvent reports the resolved trade count for a wallet.
type TradesCountEvent struct {
	WalletName    string `json:"wallet_name"`
	Count         int    `json:"count"`
	Authoritative bool   `json:"authoritative"`
}
