package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey int

const userContextKey contextKey = iota

// ContextWithUser returns a new context carrying the given user.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext extracts the user from the context, or nil if not present.
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey).(*User)
	return user
}

// RequireUser returns middleware that authenticates requests with a bearer
// token issued by tokens. The token subject is resolved through users and
// the account is injected into the request context. rec may be nil.
func RequireUser(tokens *TokenService, users UserLookup, rec Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				recordFailure(rec)
				writeUnauthorized(w, "Not authorized, no token")
				return
			}

			id, err := tokens.Verify(token)
			if err != nil {
				recordFailure(rec)
				writeUnauthorized(w, "Not authorized, token failed")
				return
			}

			user, err := users.LookupUser(r.Context(), id)
			if err != nil || user == nil {
				recordFailure(rec)
				writeUnauthorized(w, "Not authorized, user not found")
				return
			}

			if rec != nil {
				rec.IncAuthSuccess("jwt")
			}
			ctx := ContextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func recordFailure(rec Recorder) {
	if rec != nil {
		rec.IncAuthFailure("jwt")
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    "unauthorized",
			Message: message,
		},
	})
}
