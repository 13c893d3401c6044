package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-bounties/core"
)

const (
	DefaultMaxBodyBytes int64 = 25 << 20
	DefaultPath               = "/webhooks/github"
)

type HTTPOption func(*httpHandler)

func WithMaxBodyBytes(limit int64) HTTPOption {
	return func(h *httpHandler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

func WithHTTPLogger(logger core.Logger) HTTPOption {
	return func(h *httpHandler) {
		h.logger = logger
	}
}

type httpHandler struct {
	processor    *Processor
	maxBodyBytes int64
	logger       core.Logger
}

// NewHTTPHandler adapts a Processor to net/http. Responses carry no internal
// detail: 400 and 401 for rejected requests, 200 for anything acknowledged and
// 500 when the handler failed.
func NewHTTPHandler(processor *Processor, opts ...HTTPOption) http.Handler {
	h := &httpHandler{
		processor:    processor,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.logger == nil && processor != nil {
		h.logger = processor.Logger
	}
	return h
}

func (h *httpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}

	headers := make(map[string]string, len(r.Header))
	for key := range r.Header {
		headers[key] = r.Header.Get(key)
	}

	result, err := h.processor.Process(r.Context(), Request{Headers: headers, Body: body})
	switch {
	case result.StatusCode == http.StatusBadRequest:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing signature"})
	case result.StatusCode == http.StatusUnauthorized:
		w.WriteHeader(http.StatusUnauthorized)
	case err != nil || result.StatusCode >= http.StatusInternalServerError:
		if err != nil {
			core.LogWithLevel(r.Context(), h.logger, "error", "webhook processing failed", map[string]any{
				"delivery_id": r.Header.Get(HeaderDelivery),
				"event_name":  r.Header.Get(HeaderEvent),
				"error":       err.Error(),
			})
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
	}
}

// NewRouter mounts the webhook endpoint and a liveness probe.
func NewRouter(webhook http.Handler) chi.Router {
	router := chi.NewRouter()
	router.Post(DefaultPath, webhook.ServeHTTP)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	return router
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
