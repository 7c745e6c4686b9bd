package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/prudhvinik1/changesync/internal/services"
)

type AuthHandler struct {
	svc *services.AuthService
}

func NewAuthHandler(svc *services.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type issueTokenRequest struct {
	AccountID  string `json:"accountId"`
	DeviceType string `json:"deviceType"`
	Secret     string `json:"secret"`
}

func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, r, &models.ValidationError{Field: "body", Reason: "must be a JSON object"})
		return
	}

	resp, err := h.svc.IssueToken(r.Context(), services.IssueRequest{
		AccountID:  req.AccountID,
		DeviceType: req.DeviceType,
		Secret:     req.Secret,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), bearerToken(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.LogoutAll(r.Context(), bearerToken(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
