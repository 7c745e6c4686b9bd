package models

import (
	"time"
)

type ConnectionScope string

const (
	ScopeUser    ConnectionScope = "user-scoped"
	ScopeSession ConnectionScope = "session-scoped"
	ScopeMachine ConnectionScope = "machine-scoped"
)

// Presence describes one live update connection held by some server process.
type Presence struct {
	ConnectionID string          `json:"connection_id"`
	AccountID    string          `json:"account_id"`
	Scope        ConnectionScope `json:"scope"`
	SessionID    string          `json:"session_id,omitempty"`
	MachineID    string          `json:"machine_id,omitempty"`
	DeviceType   string          `json:"device_type,omitempty"`
	InstanceID   string          `json:"instance_id"`
	LastSeen     time.Time       `json:"last_seen"`
}
