package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger/accounts"
	"github.com/meridian-erp/meridian-erp/internal/ledger/journals"
	"github.com/meridian-erp/meridian-erp/internal/ledger/periods"
	"github.com/meridian-erp/meridian-erp/internal/ledger/reports"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/reconcile"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	AccountsHandler  *accounts.Handler
	JournalsHandler  *journals.Handler
	PeriodsHandler   *periods.Handler
	ReportsHandler   *reports.Handler
	StockHandler     *stock.Handler
	CostingHandler   *costing.Handler
	ReconcileHandler *reconcile.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
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
		r.Handle("/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.AccountsHandler != nil {
			r.Route("/accounts", func(r chi.Router) {
				params.AccountsHandler.MountRoutes(r)
			})
		}
		if params.JournalsHandler != nil {
			r.Route("/journals", func(r chi.Router) {
				params.JournalsHandler.MountRoutes(r)
			})
			r.Get("/accounts/{id}/balance", params.JournalsHandler.AccountBalanceHandler)
		}
		if params.PeriodsHandler != nil {
			r.Route("/periods", func(r chi.Router) {
				params.PeriodsHandler.MountRoutes(r)
			})
		}
		if params.ReportsHandler != nil {
			r.Route("/reports", func(r chi.Router) {
				params.ReportsHandler.MountRoutes(r)
			})
		}
		if params.StockHandler != nil {
			r.Route("/stock", func(r chi.Router) {
				params.StockHandler.MountRoutes(r)
			})
		}
		if params.CostingHandler != nil {
			r.Route("/costing", func(r chi.Router) {
				params.CostingHandler.MountRoutes(r)
			})
		}
		if params.ReconcileHandler != nil {
			r.Route("/reconcile", func(r chi.Router) {
				params.ReconcileHandler.MountRoutes(r)
			})
		}
	})

	return r
}
