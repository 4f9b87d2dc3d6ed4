package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testUserID = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"

// --- mock lookup ---

type mockUserLookup struct {
	users map[string]*User
}

func (m *mockUserLookup) LookupUser(ctx context.Context, id string) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return u, nil
}

type countingRecorder struct {
	failures, successes int
}

func (c *countingRecorder) IncAuthFailure(string) { c.failures++ }
func (c *countingRecorder) IncAuthSuccess(string) { c.successes++ }

func newTestTokens(now time.Time) *TokenService {
	s := NewTokenService("test-secret", time.Hour)
	s.now = func() time.Time { return now }
	return s
}

// --- TokenService tests ---

func TestTokenService_IssueAndVerify(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newTestTokens(now)

	token, exp, err := s.Issue(testUserID)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Errorf("expected expiry %v, got %v", now.Add(time.Hour), exp)
	}

	id, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if id != testUserID {
		t.Errorf("expected subject %s, got %s", testUserID, id)
	}
}

func TestTokenService_CanonicalSubject(t *testing.T) {
	s := newTestTokens(time.Now())
	token, _, err := s.Issue(strings.ToUpper(testUserID))
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if id != testUserID {
		t.Errorf("expected canonical lowercase id, got %s", id)
	}
}

func TestTokenService_IssueRejectsNonUUID(t *testing.T) {
	s := newTestTokens(time.Now())
	if _, _, err := s.Issue("507f1f77bcf86cd799439011"); err == nil {
		t.Error("expected error for non-uuid user id")
	}
}

func TestTokenService_VerifyFailures(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newTestTokens(now)
	valid, _, err := s.Issue(testUserID)
	if err != nil {
		t.Fatal(err)
	}

	expired := newTestTokens(now.Add(2 * time.Hour))

	other := NewTokenService("other-secret", time.Hour)
	other.now = s.now
	foreign, _, _ := other.Issue(testUserID)

	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "not-a-uuid",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte("test-secret"))

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: testUserID,
		Issuer:  issuer,
	}).SignedString([]byte("test-secret"))

	tests := []struct {
		name  string
		svc   *TokenService
		token string
	}{
		{"expired", expired, valid},
		{"wrong secret", s, foreign},
		{"bad subject", s, badSubject},
		{"no expiry", s, noExpiry},
		{"garbage", s, "not.a.jwt"},
		{"empty", s, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

// --- context tests ---

func TestContextWithUser_RoundTrip(t *testing.T) {
	user := &User{ID: testUserID, Email: "ada@example.com", Name: "Ada"}
	ctx := ContextWithUser(context.Background(), user)
	if got := UserFromContext(ctx); got != user {
		t.Errorf("expected same user back, got %+v", got)
	}
	if UserFromContext(context.Background()) != nil {
		t.Error("expected nil user from empty context")
	}
}

// --- middleware tests ---

func TestRequireUser(t *testing.T) {
	now := time.Now()
	tokens := newTestTokens(now)
	valid, _, err := tokens.Issue(testUserID)
	if err != nil {
		t.Fatal(err)
	}
	unknown, _, err := tokens.Issue("9b2d6c4a-1f3e-4d5b-8a7c-6e5f4d3c2b1a")
	if err != nil {
		t.Fatal(err)
	}

	lookup := &mockUserLookup{users: map[string]*User{
		testUserID: {ID: testUserID, Email: "ada@example.com", Name: "Ada"},
	}}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantMsg    string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, ""},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, ""},
		{"missing header", "", http.StatusUnauthorized, "Not authorized, no token"},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, "Not authorized, no token"},
		{"bad token", "Bearer nope", http.StatusUnauthorized, "Not authorized, token failed"},
		{"unknown user", "Bearer " + unknown, http.StatusUnauthorized, "Not authorized, user not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &countingRecorder{}
			var gotUser *User
			h := RequireUser(tokens, lookup, rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = UserFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantStatus == http.StatusOK {
				if gotUser == nil || gotUser.ID != testUserID {
					t.Errorf("expected user in context, got %+v", gotUser)
				}
				if rec.successes != 1 || rec.failures != 0 {
					t.Errorf("expected one success, got %+v", rec)
				}
				return
			}

			var body errorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decoding body: %v", err)
			}
			if body.Success {
				t.Error("expected success=false")
			}
			if body.Error.Code != "unauthorized" || body.Error.Message != tt.wantMsg {
				t.Errorf("unexpected error body %+v", body.Error)
			}
			if rec.failures != 1 {
				t.Errorf("expected one failure recorded, got %d", rec.failures)
			}
		})
	}
}

func TestRequireUser_NilRecorder(t *testing.T) {
	tokens := newTestTokens(time.Now())
	h := RequireUser(tokens, &mockUserLookup{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}
