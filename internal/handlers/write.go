package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type writeFunc func(ctx context.Context, raw []byte) (json.RawMessage, error)

func (h *Handler) write(w http.ResponseWriter, r *http.Request, fn writeFunc) {
	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}

	out, err := fn(r.Context(), raw)
	if err != nil {
		h.PipelineError(w, err)
		return
	}
	h.Raw(w, http.StatusCreated, out)
}

// Write handles POST /: a message or a process, chosen by the data item's Type tag.
func (h *Handler) Write(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.pipeline.Write)
}

// WriteMessage handles POST /message.
func (h *Handler) WriteMessage(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.pipeline.WriteMessage)
}

// WriteProcess handles POST /process.
func (h *Handler) WriteProcess(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.pipeline.WriteProcess)
}

// Recover handles POST /recover with a bundle binary as the body.
func (h *Handler) Recover(w http.ResponseWriter, r *http.Request) {
	binary, ok := h.readBody(w, r)
	if !ok {
		return
	}

	out, err := h.pipeline.Recover(r.Context(), binary)
	if err != nil {
		h.PipelineError(w, err)
		return
	}
	h.Raw(w, http.StatusOK, out)
}

// RecoverFromLedger handles POST /recover/{id}.
func (h *Handler) RecoverFromLedger(w http.ResponseWriter, r *http.Request) {
	out, err := h.pipeline.RecoverFromLedger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.PipelineError(w, err)
		return
	}
	h.Raw(w, http.StatusOK, out)
}
