package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitecert-cpm/sitecert/internal/billing"
	"github.com/sitecert-cpm/sitecert/internal/boq"
	"github.com/sitecert-cpm/sitecert/internal/measure"
	"github.com/sitecert-cpm/sitecert/internal/observability"
	"github.com/sitecert-cpm/sitecert/internal/subcontract"
	"github.com/sitecert-cpm/sitecert/internal/variation"
	"github.com/sitecert-cpm/sitecert/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	BOQHandler         *boq.Handler
	VariationHandler   *variation.Handler
	BillingHandler     *billing.Handler
	SubcontractHandler *subcontract.Handler
	MeasureHandler     *measure.Handler
	JobHandler         *jobs.Handler
	Pool               *pgxpool.Pool
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/projects/{projectID}", func(r chi.Router) {
		if params.BOQHandler != nil {
			params.BOQHandler.MountRoutes(r)
		}
		if params.VariationHandler != nil {
			params.VariationHandler.MountRoutes(r)
		}
		if params.BillingHandler != nil {
			params.BillingHandler.MountRoutes(r)
		}
		if params.SubcontractHandler != nil {
			params.SubcontractHandler.MountRoutes(r)
		}
		if params.MeasureHandler != nil {
			params.MeasureHandler.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			params.JobHandler.MountRoutes(r)
		})
	}

	return r
}
