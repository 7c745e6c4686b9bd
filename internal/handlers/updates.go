package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prudhvinik1/changesync/internal/events"
	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/prudhvinik1/changesync/internal/repositories"
)

const (
	writeWait  = 10 * time.Second
	pongDelay  = 60 * time.Second
	pingPeriod = (pongDelay * 9) / 10
)

var websocketUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type helloMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

// UpdatesHandler streams fanout updates to a client over a websocket. The
// first frame is a hello carrying the connection id; every following frame
// is one update.
type UpdatesHandler struct {
	hub        *events.Hub
	presence   repositories.PresenceRepository // nil without Redis
	instanceID string
	stop       <-chan struct{}
	logger     *slog.Logger
}

func NewUpdatesHandler(hub *events.Hub, presence repositories.PresenceRepository, instanceID string, stop <-chan struct{}, logger *slog.Logger) *UpdatesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdatesHandler{
		hub:        hub,
		presence:   presence,
		instanceID: instanceID,
		stop:       stop,
		logger:     logger.With("module", "updates"),
	}
}

func parseConnection(r *http.Request, accountID string) (*events.Conn, error) {
	q := r.URL.Query()
	conn := &events.Conn{
		ID:        uuid.NewString(),
		UserID:    accountID,
		Scope:     models.ConnectionScope(q.Get("scope")),
		SessionID: q.Get("sessionId"),
		MachineID: q.Get("machineId"),
	}

	switch conn.Scope {
	case "":
		conn.Scope = models.ScopeUser
	case models.ScopeUser:
	case models.ScopeSession:
		if err := models.ValidateID("sessionId", conn.SessionID); err != nil {
			return nil, err
		}
	case models.ScopeMachine:
		if err := models.ValidateID("machineId", conn.MachineID); err != nil {
			return nil, err
		}
	default:
		return nil, &models.ValidationError{Field: "scope", Reason: "unknown connection scope"}
	}
	return conn, nil
}

func (h *UpdatesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	conn, err := parseConnection(r, claims.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	socket, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Problem initiating websocket", "error", err)
		return
	}
	defer socket.Close()

	h.hub.Register(conn)
	defer h.hub.Unregister(conn)

	logger := h.logger.With("connection_id", conn.ID, "account_id", conn.UserID, "scope", conn.Scope)
	logger.Debug("Update connection opened")
	defer logger.Debug("Update connection closed")

	presence := &models.Presence{
		ConnectionID: conn.ID,
		AccountID:    conn.UserID,
		Scope:        conn.Scope,
		SessionID:    conn.SessionID,
		MachineID:    conn.MachineID,
		DeviceType:   claims.DeviceType,
		InstanceID:   h.instanceID,
	}
	h.touchPresence(r.Context(), presence)
	defer h.dropPresence(presence)

	socket.SetWriteDeadline(time.Now().Add(writeWait))
	if err := socket.WriteJSON(helloMessage{Type: "hello", ConnectionID: conn.ID}); err != nil {
		logger.Debug("Failed to write hello", "error", err)
		return
	}

	// Configure the ping/pong handling so the server notices when the
	// client goes away.
	socket.SetReadDeadline(time.Now().Add(pongDelay))
	socket.SetPongHandler(func(string) error {
		socket.SetReadDeadline(time.Now().Add(pongDelay))
		return nil
	})
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	readerDone := h.discardMessages(socket)
	for {
		select {
		case <-h.stop:
			socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-readerDone:
			return
		case data, ok := <-conn.Updates():
			if !ok {
				return
			}
			socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := socket.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("Failed to write update", "error", err)
				return
			}
		case <-ticker.C:
			if err := socket.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				// This error is expected if the other end goes away.
				logger.Debug("Failed to write ping", "error", err)
				return
			}
			h.touchPresence(r.Context(), presence)
		}
	}
}

// discardMessages reads (and drops) client frames so control frames are
// processed. The returned channel closes when the socket fails.
func (h *UpdatesHandler) discardMessages(socket *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := socket.NextReader(); err != nil {
				return
			}
		}
	}()
	return done
}

func (h *UpdatesHandler) touchPresence(ctx context.Context, p *models.Presence) {
	if h.presence == nil {
		return
	}
	if err := h.presence.SetPresence(ctx, p); err != nil {
		h.logger.Warn("Failed to refresh presence", "connection_id", p.ConnectionID, "error", err)
	}
}

func (h *UpdatesHandler) dropPresence(p *models.Presence) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := h.presence.DeletePresence(ctx, p.AccountID, p.ConnectionID); err != nil {
		h.logger.Warn("Failed to delete presence", "connection_id", p.ConnectionID, "error", err)
	}
}
