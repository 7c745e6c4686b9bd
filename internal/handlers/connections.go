package handlers

import (
	"net/http"

	"github.com/prudhvinik1/changesync/internal/events"
	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/prudhvinik1/changesync/internal/repositories"
)

type ConnectionsHandler struct {
	hub        *events.Hub
	presence   repositories.PresenceRepository
	instanceID string
}

func NewConnectionsHandler(hub *events.Hub, presence repositories.PresenceRepository, instanceID string) *ConnectionsHandler {
	return &ConnectionsHandler{hub: hub, presence: presence, instanceID: instanceID}
}

type connectionsResponse struct {
	Connections []*models.Presence `json:"connections"`
}

// List returns the caller's live update connections. With Redis presence
// it covers every server process; otherwise only this one.
func (h *ConnectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	if h.presence != nil {
		presences, err := h.presence.ListByAccountID(r.Context(), claims.AccountID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, connectionsResponse{Connections: presences})
		return
	}

	local := h.hub.Connections(claims.AccountID)
	presences := make([]*models.Presence, 0, len(local))
	for _, c := range local {
		presences = append(presences, &models.Presence{
			ConnectionID: c.ID,
			AccountID:    c.UserID,
			Scope:        c.Scope,
			SessionID:    c.SessionID,
			MachineID:    c.MachineID,
			InstanceID:   h.instanceID,
		})
	}
	writeJSON(w, http.StatusOK, connectionsResponse{Connections: presences})
}
