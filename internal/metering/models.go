package metering

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Costs are JSON numbers on the wire.
	decimal.MarshalJSONWithoutQuotes = true
}

// TimestampPrecision matches what Postgres timestamptz stores.
const TimestampPrecision = time.Microsecond

// Status is the outcome of a prompt-processing attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPending Status = "pending"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusPending:
		return true
	}
	return false
}

const (
	MaxPromptChars   = 10000
	MaxResponseChars = 20000

	// CustomModel is accepted alongside the catalog ids and priced with the
	// default model.
	CustomModel = "custom"
)

var (
	// ErrNotFound is returned when a record does not exist for the owner.
	ErrNotFound = errors.New("usage record not found")
	// ErrInvalidCursor is returned for pagination cursors that cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Record is one processed (or manually logged) prompt. Records are written
// once and never updated.
type Record struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"user"`
	Prompt           string          `json:"prompt"`
	Response         string          `json:"response"`
	Model            string          `json:"modelUsed"`
	PromptTokens     int             `json:"promptTokens"`
	CompletionTokens int             `json:"completionTokens"`
	TotalTokens      int             `json:"totalTokens"`
	EstimatedCost    decimal.Decimal `json:"estimatedCost"`
	ResponseTime     int64           `json:"responseTime"` // milliseconds
	Status           Status          `json:"status"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	APIEndpoint      string          `json:"apiEndpoint,omitempty"`
	UserAgent        string          `json:"userAgent,omitempty"`
	IPAddress        string          `json:"ipAddress,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// Summary holds aggregate figures over a set of records.
type Summary struct {
	TotalTokens     int64           `json:"totalTokens"`
	TotalCost       decimal.Decimal `json:"totalCost"`
	TotalRequests   int64           `json:"totalRequests"`
	AvgResponseTime float64         `json:"avgResponseTime"`
}

// AnalyticsSummary extends Summary with the distinct models seen.
type AnalyticsSummary struct {
	Summary
	Models []string `json:"models"`
}

// HourlyBucket counts requests and tokens for one hour of the day (UTC).
type HourlyBucket struct {
	Hour         int   `json:"hour"`
	RequestCount int64 `json:"requestCount"`
	TotalTokens  int64 `json:"totalTokens"`
}

// Analytics is the result of an analytics query over a time window.
type Analytics struct {
	Period      string           `json:"period"`
	WindowStart time.Time        `json:"windowStart"`
	Summary     AnalyticsSummary `json:"summary"`
	HourlyUsage []HourlyBucket   `json:"hourlyUsage"`
}

// Query defines filters and pagination for listing an owner's records.
type Query struct {
	OwnerID string    `json:"user"`
	Status  Status    `json:"status,omitempty"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Cursor  string    `json:"cursor,omitempty"`
	Limit   int       `json:"limit"`
}
