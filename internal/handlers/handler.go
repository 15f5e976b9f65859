package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/eldtechnologies/sequencer/internal/flows"
	"github.com/eldtechnologies/sequencer/internal/gateway"
	"github.com/eldtechnologies/sequencer/internal/models"
	"github.com/eldtechnologies/sequencer/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	pipeline *flows.Pipeline
	store    store.DataStore
	gateway  gateway.Gateway
	redis    *store.RedisStore // optional
	owner    string            // sequencer public key
}

// NewHandler creates a new Handler. redis may be nil.
func NewHandler(pipeline *flows.Pipeline, ds store.DataStore, gw gateway.Gateway, redis *store.RedisStore, owner string) *Handler {
	return &Handler{pipeline: pipeline, store: ds, gateway: gw, redis: redis, owner: owner}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Raw sends an already encoded JSON body.
func (h *Handler) Raw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// ErrorResponse is the body of every failed pipeline call.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Kind    flows.Kind      `json:"kind"`
	Receipt *models.Receipt `json:"receipt,omitempty"`
}

// statusFor maps a pipeline error kind to an HTTP status.
func statusFor(kind flows.Kind) int {
	switch kind {
	case flows.KindInput, flows.KindRange:
		return http.StatusBadRequest
	case flows.KindNotFound:
		return http.StatusNotFound
	case flows.KindConflict:
		return http.StatusConflict
	case flows.KindDependency:
		return http.StatusBadGateway
	case flows.KindPartialFailure:
		// The ledger accepted the write; only the local index is behind.
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// PipelineError writes err with the status of its kind.
func (h *Handler) PipelineError(w http.ResponseWriter, err error) {
	kind := flows.KindOf(err)
	resp := ErrorResponse{Error: err.Error(), Kind: kind, Receipt: flows.ReceiptOf(err)}
	if kind == "" || kind == flows.KindSerialization {
		resp.Error = "internal error"
	}
	h.JSON(w, statusFor(kind), resp)
}

// readBody reads the request body, reporting oversized bodies as 413.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		h.Error(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if len(body) == 0 {
		h.Error(w, http.StatusBadRequest, "empty request body")
		return nil, false
	}
	return body, true
}
