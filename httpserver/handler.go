package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ruteri/tee-oracle-bridge/bridge"
	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// AccountHeader carries the authenticated account identity. Authentication
// itself happens upstream (gateway or mTLS); the handler trusts the header.
const AccountHeader = "X-Account-ID"

// Handler translates the HTTP API into bridge service calls.
type Handler struct {
	service *bridge.Service
	log     *slog.Logger
}

// NewHandler creates a handler for the given service.
func NewHandler(service *bridge.Service, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// CreateKeyRequest is the POST /api/v1/keys body.
type CreateKeyRequest struct {
	PublicKey     string            `json:"public_key"`
	WalletAddress string            `json:"wallet_address"`
	Label         string            `json:"label,omitempty"`
	Status        string            `json:"status,omitempty"`
	Attestation   string            `json:"attestation,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CreateRequestRequest is the POST /api/v1/requests body.
type CreateRequestRequest struct {
	KeyID    string            `json:"key_id"`
	Consumer string            `json:"consumer"`
	Seed     string            `json:"seed"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DispatchFailedResponse is returned with status 502 when the request record
// was persisted but handing it to the executor channel failed. The record
// stays pending and can be re-dispatched out of band.
type DispatchFailedResponse struct {
	Error   string             `json:"error"`
	Request interfaces.Request `json:"request"`
}

func (h *Handler) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var body CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, &interfaces.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}
	created, err := h.service.CreateKey(r.Context(), interfaces.Key{
		AccountID:     accountID,
		PublicKey:     body.PublicKey,
		WalletAddress: body.WalletAddress,
		Label:         body.Label,
		Status:        interfaces.KeyStatus(body.Status),
		Attestation:   body.Attestation,
		Metadata:      body.Metadata,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) HandleUpdateKey(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var body CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, &interfaces.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}
	updated, err := h.service.UpdateKey(r.Context(), accountID, interfaces.Key{
		ID:            chi.URLParam(r, "key_id"),
		PublicKey:     body.PublicKey,
		WalletAddress: body.WalletAddress,
		Label:         body.Label,
		Status:        interfaces.KeyStatus(body.Status),
		Attestation:   body.Attestation,
		Metadata:      body.Metadata,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) HandleGetKey(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	key, err := h.service.GetKey(r.Context(), accountID, chi.URLParam(r, "key_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, key)
}

func (h *Handler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	keys, err := h.service.ListKeys(r.Context(), accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []interfaces.Key{}
	}
	h.writeJSON(w, http.StatusOK, keys)
}

func (h *Handler) HandleCreateRequest(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var body CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, &interfaces.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}
	created, err := h.service.CreateRequest(r.Context(), accountID, body.KeyID, body.Consumer, body.Seed, body.Metadata)
	if err != nil {
		var dispatchErr *interfaces.DispatchError
		if errors.As(err, &dispatchErr) {
			h.writeJSON(w, http.StatusBadGateway, DispatchFailedResponse{Error: dispatchErr.Error(), Request: created})
			return
		}
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	req, err := h.service.GetRequest(r.Context(), accountID, chi.URLParam(r, "request_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

func (h *Handler) HandleListRequests(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, &interfaces.ValidationError{Field: "limit", Reason: "must be an integer"})
			return
		}
		limit = parsed
	}
	requests, err := h.service.ListRequests(r.Context(), accountID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if requests == nil {
		requests = []interfaces.Request{}
	}
	h.writeJSON(w, http.StatusOK, requests)
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID := r.Header.Get(AccountHeader)
	if accountID == "" {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + AccountHeader + " header"})
		return "", false
	}
	return accountID, true
}

// writeError maps service errors onto HTTP statuses. Ownership failures
// answer exactly like missing resources so cross-tenant probing cannot
// distinguish the two.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *interfaces.ValidationError
	var ownershipErr *interfaces.OwnershipError
	switch {
	case errors.As(err, &validationErr):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationErr.Error()})
	case errors.As(err, &ownershipErr), errors.Is(err, interfaces.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		h.log.Error("request handling failed", "err", err, "path", r.URL.Path)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("failed to encode response", "err", err)
	}
}
