package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/prudhvinik1/changesync/internal/services"
)

// ConnectionIDHeader names the update connection a write came from, so
// fanout can skip it.
const ConnectionIDHeader = "X-Connection-ID"

type KVHandler struct {
	svc *services.KVService
}

func NewKVHandler(svc *services.KVService) *KVHandler {
	return &KVHandler{svc: svc}
}

type putKVRequest struct {
	Value   string `json:"value"`
	Version int64  `json:"version"`
}

type listKVResponse struct {
	Entries []*models.KVEntry `json:"entries"`
}

func (h *KVHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	entries, err := h.svc.List(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listKVResponse{Entries: entries})
}

func (h *KVHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	entry, err := h.svc.Get(r.Context(), claims.AccountID, chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *KVHandler) Put(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	var req putKVRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 2*services.MaxValueBytes)).Decode(&req); err != nil {
		writeError(w, r, &models.ValidationError{Field: "body", Reason: "must be a JSON object with value and version"})
		return
	}

	result, err := h.svc.Mutate(r.Context(), services.MutateRequest{
		AccountID:    claims.AccountID,
		ConnectionID: r.Header.Get(ConnectionIDHeader),
		Key:          chi.URLParam(r, "key"),
		Value:        req.Value,
		Version:      req.Version,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Delete serves DELETE /v2/kv/{key}?version=N.
func (h *KVHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	version, err := parseInt64Query(r, "version", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.svc.Mutate(r.Context(), services.MutateRequest{
		AccountID:    claims.AccountID,
		ConnectionID: r.Header.Get(ConnectionIDHeader),
		Key:          chi.URLParam(r, "key"),
		Version:      version,
		Delete:       true,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
