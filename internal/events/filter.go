package events

import (
	"fmt"

	"github.com/prudhvinik1/changesync/internal/models"
)

type FilterType string

const (
	FilterAllUserConnections     FilterType = "all-user-authenticated-connections"
	FilterUserScopedOnly         FilterType = "user-scoped-only"
	FilterAllInterestedInSession FilterType = "all-interested-in-session"
	FilterMachineScopedOnly      FilterType = "machine-scoped-only"
	FilterConnection             FilterType = "session"
)

// RecipientFilter selects which of a user's live connections receive an
// update. SkipConnectionID excludes the connection that caused it.
type RecipientFilter struct {
	Type             FilterType `json:"type"`
	SessionID        string     `json:"sessionId,omitempty"`
	MachineID        string     `json:"machineId,omitempty"`
	ConnectionID     string     `json:"connectionId,omitempty"`
	SkipConnectionID string     `json:"skipConnectionId,omitempty"`
}

func AllConnections() RecipientFilter {
	return RecipientFilter{Type: FilterAllUserConnections}
}

func UserScopedOnly(skipConnectionID string) RecipientFilter {
	return RecipientFilter{Type: FilterUserScopedOnly, SkipConnectionID: skipConnectionID}
}

func InterestedInSession(sessionID string) RecipientFilter {
	return RecipientFilter{Type: FilterAllInterestedInSession, SessionID: sessionID}
}

func MachineScopedOnly(machineID string) RecipientFilter {
	return RecipientFilter{Type: FilterMachineScopedOnly, MachineID: machineID}
}

func OnlyConnection(connectionID string) RecipientFilter {
	return RecipientFilter{Type: FilterConnection, ConnectionID: connectionID}
}

func (f RecipientFilter) Validate() error {
	switch f.Type {
	case FilterAllUserConnections, FilterUserScopedOnly:
		return nil
	case FilterAllInterestedInSession:
		if f.SessionID == "" {
			return fmt.Errorf("filter %s requires a session id", f.Type)
		}
	case FilterMachineScopedOnly:
		if f.MachineID == "" {
			return fmt.Errorf("filter %s requires a machine id", f.Type)
		}
	case FilterConnection:
		if f.ConnectionID == "" {
			return fmt.Errorf("filter %s requires a connection id", f.Type)
		}
	default:
		return fmt.Errorf("unknown recipient filter %q", f.Type)
	}
	return nil
}

// Matches reports whether conn should receive an update sent with f.
// User-scoped connections follow everything on the account, so they also
// match the session and machine filters.
func (f RecipientFilter) Matches(conn *Conn) bool {
	if f.SkipConnectionID != "" && conn.ID == f.SkipConnectionID {
		return false
	}

	switch f.Type {
	case FilterAllUserConnections:
		return true
	case FilterUserScopedOnly:
		return conn.Scope == models.ScopeUser
	case FilterAllInterestedInSession:
		if conn.Scope == models.ScopeSession {
			return conn.SessionID == f.SessionID
		}
		return conn.Scope == models.ScopeUser
	case FilterMachineScopedOnly:
		if conn.Scope == models.ScopeMachine {
			return conn.MachineID == f.MachineID
		}
		return conn.Scope == models.ScopeUser
	case FilterConnection:
		return conn.ID == f.ConnectionID
	}
	return false
}
