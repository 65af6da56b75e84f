package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	writeJSON(w, http.StatusOK, h.engine.GetStats(providerName))
}

func (h *handlers) forceRefresh(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	credentialID := r.URL.Query().Get("credential")

	report, err := h.engine.ForceRefresh(providerName, credentialID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) listCredentials(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	views := h.engine.ListCredentials(providerName, time.Now())
	writeJSON(w, http.StatusOK, map[string]any{"credentials": views})
}
