package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keyrotor/llmproxy/pkg/backend/middleware"
	"github.com/keyrotor/llmproxy/pkg/executor"
	"github.com/keyrotor/llmproxy/pkg/provider"
	richerrors "github.com/keyrotor/llmproxy/pkg/providers/common/errors"
	"github.com/keyrotor/llmproxy/pkg/selector"
	"github.com/keyrotor/llmproxy/pkg/types"
)

// completionRequest is the inbound wire shape: a StandardRequest plus the
// provider selection spec §6's ctx carries alongside the body.
type completionRequest struct {
	types.StandardRequest
	Provider string `json:"provider"`
}

func (h *handlers) completions(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, false)
}

func (h *handlers) responses(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, true)
}

func (h *handlers) execute(w http.ResponseWriter, r *http.Request, responsesAPI bool) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	providerName := req.Provider
	if providerName == "" {
		providerName = chi.URLParam(r, "provider")
	}
	if providerName == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "provider is required")
		return
	}

	deadline := time.Now().Add(120 * time.Second)
	ctx, cancel := context.WithDeadline(r.Context(), deadline)
	defer cancel()

	rc := executor.RequestContext{
		Provider:  providerName,
		Model:     req.Model,
		Body:      req.StandardRequest,
		Streaming: req.Stream,
		Deadline:  deadline,
		Priority:  selector.RequestPriority(h.cfg.DefaultPriority),
	}

	resp, stream, err := h.engine.ExecuteCompletion(ctx, rc)
	if err != nil {
		h.writeExecError(w, r, providerName, err)
		return
	}

	if stream != nil {
		writeSSEStream(w, r, stream, h.log)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	if providerName == "" {
		providerName = r.URL.Query().Get("provider")
	}
	if providerName == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "provider is required")
		return
	}
	models, err := h.engine.ListModels(r.Context(), providerName)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": models})
}

// writeExecError maps a classified executor error onto the HTTP status
// code table from spec §7, preserving the provider-shaped error detail in
// a RichError so downstream logging carries full context.
func (h *handlers) writeExecError(w http.ResponseWriter, r *http.Request, providerName string, err error) {
	re := richerrors.NewRichError(err).
		WithRequestID(middleware.GetRequestID(r.Context())).
		WithProvider(types.ProviderType(providerName))

	var classified *executor.ClassifiedError
	if errors.As(err, &classified) {
		status, code := statusForKind(classified.Kind)
		writeError(w, r, status, code, re.Error())
		return
	}
	if errors.Is(err, executor.ErrNoAvailableCredentials) {
		writeError(w, r, http.StatusServiceUnavailable, "no_available_credentials", re.Error())
		return
	}
	writeError(w, r, http.StatusInternalServerError, "internal_error", re.Error())
}

func statusForKind(k provider.ClassificationKind) (int, string) {
	switch k {
	case provider.KindInvalidRequest:
		return http.StatusBadRequest, "invalid_request"
	case provider.KindAuthFailure:
		return http.StatusUnauthorized, "auth_failure"
	case provider.KindQuotaExhausted:
		return http.StatusTooManyRequests, "quota_exhausted"
	case provider.KindRateLimit:
		return http.StatusTooManyRequests, "rate_limit"
	case provider.KindFatal:
		return http.StatusInternalServerError, "fatal"
	case provider.KindTransient:
		return http.StatusBadGateway, "transient"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":       code,
			"message":    message,
			"request_id": middleware.GetRequestID(r.Context()),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
