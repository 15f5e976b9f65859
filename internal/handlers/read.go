package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// queryCursor returns the named query parameter, or nil if it is absent or empty.
func queryCursor(r *http.Request, name string) *string {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	return &v
}

// ReadMessages handles GET /messages/{process_id}?from=&to=.
func (h *Handler) ReadMessages(w http.ResponseWriter, r *http.Request) {
	out, err := h.pipeline.ReadMessages(r.Context(),
		chi.URLParam(r, "process_id"), queryCursor(r, "from"), queryCursor(r, "to"))
	if err != nil {
		h.PipelineError(w, err)
		return
	}
	h.Raw(w, http.StatusOK, out)
}

// ReadMessage handles GET /message/{id}.
func (h *Handler) ReadMessage(w http.ResponseWriter, r *http.Request) {
	out, err := h.pipeline.ReadMessage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.PipelineError(w, err)
		return
	}
	h.Raw(w, http.StatusOK, out)
}

// ReadProcess handles GET /processes/{id}.
func (h *Handler) ReadProcess(w http.ResponseWriter, r *http.Request) {
	out, err := h.pipeline.ReadProcess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.PipelineError(w, err)
		return
	}
	h.Raw(w, http.StatusOK, out)
}

// Timestamp handles GET /timestamp.
func (h *Handler) Timestamp(w http.ResponseWriter, r *http.Request) {
	out, err := h.pipeline.Timestamp(r.Context())
	if err != nil {
		h.PipelineError(w, err)
		return
	}
	h.Raw(w, http.StatusOK, out)
}
