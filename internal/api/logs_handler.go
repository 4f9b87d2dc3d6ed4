package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/alecgard/tokentrack/internal/auth"
	"github.com/alecgard/tokentrack/internal/metering"
	"github.com/alecgard/tokentrack/internal/metrics"
)

const (
	maxPageSize    = 500
	exportFilename = "token-usage-export.csv"
)

// logsHandler serves the usage log routes for the authenticated user.
type logsHandler struct {
	store     LogStore
	processor PromptProcessor
	catalog   ModelCatalog
	metrics   *metrics.Metrics
	now       func() time.Time
}

func newLogsHandler(store LogStore, processor PromptProcessor, catalog ModelCatalog, m *metrics.Metrics, now func() time.Time) *logsHandler {
	return &logsHandler{store: store, processor: processor, catalog: catalog, metrics: m, now: now}
}

// List handles GET /api/logs. Records are returned newest first.
func (h *logsHandler) List(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	q := metering.Query{
		OwnerID: u.ID,
		Cursor:  r.URL.Query().Get("cursor"),
		Status:  metering.Status(r.URL.Query().Get("status")),
	}
	if q.Status != "" && !q.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status", "status must be success, error or pending")
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			writeError(w, http.StatusBadRequest, "invalid_limit", fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
			return
		}
		q.Limit = n
	}

	records, next, err := h.store.List(r.Context(), q)
	if err != nil {
		if errors.Is(err, metering.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "invalid_cursor", "cursor is malformed")
			return
		}
		slog.Error("listing usage records", "user_id", u.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Error fetching token logs")
		return
	}

	writeList(w, records, next)
}

// Get handles GET /api/logs/{id}.
func (h *logsHandler) Get(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "token log not found")
		return
	}

	rec, err := h.store.GetByID(r.Context(), u.ID, id)
	if errors.Is(err, metering.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "token log not found")
		return
	}
	if err != nil {
		slog.Error("getting usage record", "user_id", u.ID, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Error fetching token log")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type createLogRequest struct {
	Prompt           string          `json:"prompt"`
	Response         string          `json:"response"`
	Model            string          `json:"modelUsed"`
	PromptTokens     *int            `json:"promptTokens"`
	CompletionTokens *int            `json:"completionTokens"`
	ResponseTime     int64           `json:"responseTime"`
	Status           metering.Status `json:"status"`
	ErrorMessage     string          `json:"errorMessage"`
	APIEndpoint      string          `json:"apiEndpoint"`
}

// Create handles POST /api/logs. Totals and cost are recomputed from the
// submitted token counts; a submitted cost is ignored.
func (h *logsHandler) Create(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req createLogRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if msg := h.validateCreate(&req); msg != "" {
		writeError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}

	rec := metering.Record{
		OwnerID:          u.ID,
		Prompt:           req.Prompt,
		Response:         req.Response,
		Model:            req.Model,
		PromptTokens:     *req.PromptTokens,
		CompletionTokens: *req.CompletionTokens,
		ResponseTime:     req.ResponseTime,
		Status:           req.Status,
		ErrorMessage:     req.ErrorMessage,
		APIEndpoint:      req.APIEndpoint,
		UserAgent:        r.UserAgent(),
		IPAddress:        clientIP(r),
		CreatedAt:        h.now().UTC().Truncate(metering.TimestampPrecision),
	}
	h.processor.Normalize(&rec)

	if err := h.store.Insert(r.Context(), &rec); err != nil {
		h.recordStored(false)
		slog.Error("creating usage record", "user_id", u.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Error creating token log")
		return
	}
	h.recordStored(true)

	writeJSON(w, http.StatusCreated, rec)
}

func (h *logsHandler) validateCreate(req *createLogRequest) string {
	if strings.TrimSpace(req.Prompt) == "" {
		return "prompt is required"
	}
	if utf8.RuneCountInString(req.Prompt) > metering.MaxPromptChars {
		return fmt.Sprintf("prompt cannot be more than %d characters", metering.MaxPromptChars)
	}
	if utf8.RuneCountInString(req.Response) > metering.MaxResponseChars {
		return fmt.Sprintf("response cannot be more than %d characters", metering.MaxResponseChars)
	}
	if !knownModel(h.catalog, req.Model) {
		return "modelUsed must be one of the supported models"
	}
	if req.PromptTokens == nil || *req.PromptTokens < 0 {
		return "promptTokens is required and must be non-negative"
	}
	if req.CompletionTokens == nil || *req.CompletionTokens < 0 {
		return "completionTokens is required and must be non-negative"
	}
	if req.ResponseTime < 0 {
		return "responseTime must be non-negative"
	}
	if req.Status != "" && !req.Status.Valid() {
		return "status must be success, error or pending"
	}
	return ""
}

// Stats handles GET /api/logs/stats.
func (h *logsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	records, err := h.store.ListAll(r.Context(), metering.Query{OwnerID: u.ID, Status: metering.StatusSuccess})
	if err != nil {
		slog.Error("loading records for stats", "user_id", u.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Error fetching user stats")
		return
	}

	writeJSON(w, http.StatusOK, metering.SummaryStats(records, u.ID))
}

// Analytics handles GET /api/logs/analytics?period=7d|30d|90d.
func (h *logsHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	now := h.now()
	start, period := metering.ResolveWindow(r.URL.Query().Get("period"), now)
	records, err := h.store.ListAll(r.Context(), metering.Query{OwnerID: u.ID, From: start})
	if err != nil {
		slog.Error("loading records for analytics", "user_id", u.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Error fetching analytics")
		return
	}

	writeJSON(w, http.StatusOK, metering.AnalyticsForPeriod(records, u.ID, period, now))
}

// Export handles GET /api/logs/export as a CSV attachment, newest first.
func (h *logsHandler) Export(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	records, err := h.store.ListAll(r.Context(), metering.Query{OwnerID: u.ID})
	if err != nil {
		slog.Error("loading records for export", "user_id", u.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Error exporting logs")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+exportFilename)
	w.WriteHeader(http.StatusOK)
	if err := metering.WriteCSV(w, records); err != nil {
		slog.Warn("writing csv export", "user_id", u.ID, "error", err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncExport()
	}
	auditLog(r, "export", "token_logs", u.ID, "rows", len(records))
}

func (h *logsHandler) recordStored(ok bool) {
	if h.metrics != nil {
		h.metrics.IncRecordStored(ok)
	}
}

// knownModel accepts catalog ids and the custom model.
func knownModel(catalog ModelCatalog, model string) bool {
	if model == metering.CustomModel {
		return true
	}
	return catalog != nil && catalog.Has(model)
}
