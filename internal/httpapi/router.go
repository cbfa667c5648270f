package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bizops/internal/api"
	"bizops/internal/approval"
	"bizops/internal/audit"
	"bizops/internal/workflow"
	"bizops/pkg/config"
)

type Dependencies struct {
	Cfg    config.Config
	Engine *approval.Service
	Tokens api.TokenVerifier
	// AuditLog serves the per-parent audit trail. Nil leaves the route out.
	AuditLog audit.Lister
	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func(r *http.Request) error
}

func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(api.RequestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(r); err != nil {
				api.WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unavailable")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	approvals := approval.Handlers{Engine: deps.Engine, Verbose: !deps.Cfg.IsProd()}
	trail := audit.Handlers{Events: deps.AuditLog, Verbose: !deps.Cfg.IsProd()}

	// v1
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.CORSMiddleware(api.CORSOptions{
			AllowedOrigins: deps.Cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			MaxAgeSeconds:  600,
		}))

		r.Group(func(r chi.Router) {
			// Production: bearer token. Dev: falls back to X-Actor-Id.
			r.Use(api.ActorAuth(deps.Cfg, deps.Tokens))

			// One set of routes per parent kind.
			for _, kind := range workflow.Kinds() {
				r.Route("/"+approval.PathFor(kind)+"/{id}", func(r chi.Router) {
					r.Get("/approvals", approvals.History(kind))
					r.Post("/approvals", approvals.Submit(kind))
					r.Post("/approvals/start", approvals.Start(kind))
					r.Post("/approvers", approvals.AddApprover(kind))
					if deps.AuditLog != nil {
						r.Get("/audit", trail.Trail(string(kind)))
					}
				})
			}

			// Unified worklist
			r.Get("/approvals/pending", approvals.Pending)
			r.Get("/approvers", approvals.Approvers)
		})
	})

	return r
}
