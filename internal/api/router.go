package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alecgard/tokentrack/internal/auth"
	"github.com/alecgard/tokentrack/internal/inference"
	"github.com/alecgard/tokentrack/internal/metering"
	"github.com/alecgard/tokentrack/internal/metrics"
	"github.com/alecgard/tokentrack/internal/user"
)

// UserStore is the account storage used by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, in user.CreateUserInput) (*user.User, error)
	GetByID(ctx context.Context, id string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	Update(ctx context.Context, id string, in user.UpdateUserInput) (*user.User, error)
}

// LogStore is the usage record storage used by the logs and AI handlers.
type LogStore interface {
	Insert(ctx context.Context, rec *metering.Record) error
	GetByID(ctx context.Context, ownerID, id string) (*metering.Record, error)
	List(ctx context.Context, q metering.Query) ([]metering.Record, string, error)
	ListAll(ctx context.Context, q metering.Query) ([]metering.Record, error)
}

// PromptProcessor turns prompts into usage records.
type PromptProcessor interface {
	Process(ctx context.Context, prompt, model string) metering.Record
	Normalize(rec *metering.Record)
}

// ModelCatalog lists the selectable models.
type ModelCatalog interface {
	Models() []inference.Model
	Has(model string) bool
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Users          UserStore
	UserLookup     auth.UserLookup
	Tokens         *auth.TokenService
	Logs           LogStore
	Processor      PromptProcessor
	Catalog        ModelCatalog
	HFConfigured   bool
	DB             Pinger // optional; health reports "unknown" when nil
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	Environment    string
	Version        string
	Now            func() time.Time
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger(deps.Metrics))
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))

	// Handlers.
	svc := newServiceHandler(deps.DB, deps.Environment, deps.Version, deps.Now)
	authH := newAuthHandler(deps.Users, deps.Tokens, deps.Metrics)
	logs := newLogsHandler(deps.Logs, deps.Processor, deps.Catalog, deps.Metrics, deps.Now)
	ai := newAIHandler(deps.Logs, deps.Processor, deps.Catalog, deps.HFConfigured, deps.Metrics, deps.Now)

	var recorder auth.Recorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}
	requireUser := auth.RequireUser(deps.Tokens, deps.UserLookup, recorder)

	r.Get("/", svc.Root)
	r.Get("/api/health", svc.Health)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.PrometheusHandler())
		r.Get("/api/metrics/summary", deps.Metrics.Handler())
	}

	r.Route("/api/auth", func(ar chi.Router) {
		ar.Post("/register", authH.Register)
		ar.Post("/login", authH.Login)

		ar.Group(func(pr chi.Router) {
			pr.Use(requireUser)
			pr.Get("/me", authH.Me)
			pr.Put("/profile", authH.UpdateProfile)
		})
	})

	r.Route("/api/logs", func(lr chi.Router) {
		lr.Use(requireUser)

		lr.Get("/", logs.List)
		lr.Post("/", logs.Create)
		lr.Get("/stats", logs.Stats)
		lr.Get("/analytics", logs.Analytics)
		lr.Get("/export", logs.Export)
		lr.Get("/{id}", logs.Get)
	})

	r.Route("/api/ai", func(air chi.Router) {
		air.Use(requireUser)

		air.Post("/process", ai.Process)
		air.Get("/models", ai.Models)
		air.Get("/status", ai.Status)
	})

	r.NotFound(svc.NotFound)
	r.MethodNotAllowed(svc.MethodNotAllowed)

	return r
}
