package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alecgard/tokentrack/internal/auth"
	"github.com/alecgard/tokentrack/internal/metering"
	"github.com/alecgard/tokentrack/internal/metrics"
)

// aiHandler serves prompt processing and model discovery.
type aiHandler struct {
	store        LogStore
	processor    PromptProcessor
	catalog      ModelCatalog
	hfConfigured bool
	metrics      *metrics.Metrics
	now          func() time.Time
}

func newAIHandler(store LogStore, processor PromptProcessor, catalog ModelCatalog, hfConfigured bool, m *metrics.Metrics, now func() time.Time) *aiHandler {
	return &aiHandler{
		store:        store,
		processor:    processor,
		catalog:      catalog,
		hfConfigured: hfConfigured,
		metrics:      m,
		now:          now,
	}
}

type processResponse struct {
	metering.Record
	LogID string `json:"logId"`
}

// Process handles POST /api/ai/process. The resulting record is stored
// whether or not the model call succeeded; a failed call answers 502.
func (h *aiHandler) Process(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req struct {
		Prompt string `json:"prompt"`
		Model  string `json:"model"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "prompt is required")
		return
	}
	if utf8.RuneCountInString(req.Prompt) > metering.MaxPromptChars {
		writeError(w, http.StatusBadRequest, "validation_error",
			fmt.Sprintf("prompt cannot be more than %d characters", metering.MaxPromptChars))
		return
	}
	if !knownModel(h.catalog, req.Model) {
		writeError(w, http.StatusBadRequest, "validation_error", "model must be one of the supported models")
		return
	}

	rec := h.processor.Process(r.Context(), req.Prompt, req.Model)
	rec.OwnerID = u.ID
	rec.APIEndpoint = r.URL.Path
	rec.UserAgent = r.UserAgent()
	rec.IPAddress = clientIP(r)

	// The record outlives a client that has gone away.
	storeCtx, cancel := detachedContext(r, 5*time.Second)
	defer cancel()
	if err := h.store.Insert(storeCtx, &rec); err != nil {
		h.recordStored(false)
		slog.Error("storing usage record", "user_id", u.ID, "model", rec.Model, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Error processing AI prompt")
		return
	}
	h.recordStored(true)

	slog.Info("prompt processed",
		"user_id", u.ID,
		"model", rec.Model,
		"status", rec.Status,
		"prompt_tokens", rec.PromptTokens,
		"completion_tokens", rec.CompletionTokens,
		"response_time_ms", rec.ResponseTime,
		"log_id", rec.ID,
		"request_id", RequestIDFromContext(r.Context()),
	)

	if rec.Status == metering.StatusError {
		writeError(w, http.StatusBadGateway, "inference_failed", rec.ErrorMessage)
		return
	}
	writeJSON(w, http.StatusOK, processResponse{Record: rec, LogID: rec.ID})
}

// Models handles GET /api/ai/models.
func (h *aiHandler) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.Models())
}

// Status handles GET /api/ai/status.
func (h *aiHandler) Status(w http.ResponseWriter, r *http.Request) {
	msg := "Service available"
	if !h.hfConfigured {
		msg = "Hugging Face API key not configured"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"huggingFace": map[string]any{
			"available": h.hfConfigured,
			"message":   msg,
		},
		"timestamp": h.now().UTC(),
	})
}

func (h *aiHandler) recordStored(ok bool) {
	if h.metrics != nil {
		h.metrics.IncRecordStored(ok)
	}
}
