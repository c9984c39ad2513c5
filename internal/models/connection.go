// Package models defines data structures for Hive
package models

// ConnectionState is the lifecycle state of the push connection.
// Exactly one state exists per client session.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionFailed       ConnectionState = "failed"
)

// BackoffStrategy selects how reconnect delays grow with the attempt number.
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// ConnectionStatus is a point-in-time view of the connection for readers.
type ConnectionStatus struct {
	State       ConnectionState `json:"state"`
	ClientID    string          `json:"client_id"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
}
