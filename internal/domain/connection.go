package domain

import "time"

// ConnectionState describes the control connection lifecycle.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnectionStatus is a snapshot of the supervisor state.
// Attempt and NextDelay are set while reconnecting; Terminal marks the
// disconnected state reached after the last reconnect attempt failed.
type ConnectionStatus struct {
	State       ConnectionState
	Target      ServerKey
	Attempt     int
	MaxAttempts int
	NextDelay   time.Duration
	Terminal    bool
	Err         string
	Timestamp   time.Time
}

func (s ConnectionStatus) IsConnected() bool {
	return s.State == ConnectionStateConnected
}

func DisconnectedStatus() ConnectionStatus {
	return ConnectionStatus{State: ConnectionStateDisconnected}
}
