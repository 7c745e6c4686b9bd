package handlers

import (
	"net/http"

	"github.com/prudhvinik1/changesync/internal/services"
)

type ChangesHandler struct {
	svc *services.ChangesService
}

func NewChangesHandler(svc *services.ChangesService) *ChangesHandler {
	return &ChangesHandler{svc: svc}
}

// GetChanges serves GET /v2/changes?after=N&limit=M.
func (h *ChangesHandler) GetChanges(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	after, err := parseInt64Query(r, "after", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := parseInt64Query(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.svc.FetchChanges(r.Context(), claims.AccountID, after, int(limit))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type cursorResponse struct {
	Cursor       int64 `json:"cursor"`
	ChangesFloor int64 `json:"changesFloor"`
}

func (h *ChangesHandler) GetCursor(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	current, err := h.svc.GetCursor(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cursorResponse{Cursor: current.Cursor, ChangesFloor: current.ChangesFloor})
}
