package api

import (
	"encoding/json"
	"io"
	"net/http"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// envelope is the response shape for every JSON endpoint.
type envelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Count   *int         `json:"count,omitempty"`
	Next    string       `json:"nextCursor,omitempty"`
	Error   *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeEnvelope(w, statusCode, envelope{
		Error: &errorDetail{Code: code, Message: message},
	})
}

// writeJSON writes a successful JSON response carrying data.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	writeEnvelope(w, statusCode, envelope{Success: true, Data: data})
}

// writeList writes a successful list response with its item count.
func writeList[T any](w http.ResponseWriter, items []T, next string) {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	writeEnvelope(w, http.StatusOK, envelope{Success: true, Data: items, Count: &n, Next: next})
}

func writeEnvelope(w http.ResponseWriter, statusCode int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(env)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v any) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}
