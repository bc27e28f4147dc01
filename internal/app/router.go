package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/opsledger/internal/allowances"
	"github.com/odyssey-erp/opsledger/internal/inventory"
	"github.com/odyssey-erp/opsledger/internal/masterdata"
	"github.com/odyssey-erp/opsledger/internal/observability"
	"github.com/odyssey-erp/opsledger/internal/payroll"
	"github.com/odyssey-erp/opsledger/internal/platform/httpx"
	"github.com/odyssey-erp/opsledger/internal/reporting"
	"github.com/odyssey-erp/opsledger/internal/sales"
	"github.com/odyssey-erp/opsledger/internal/transfers"
	"github.com/odyssey-erp/opsledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	InventoryHandler  *inventory.Handler
	SalesHandler      *sales.Handler
	TransfersHandler  *transfers.Handler
	PayrollHandler    *payroll.Handler
	AllowancesHandler *allowances.Handler
	ReportingHandler  *reporting.Handler
	MasterDataHandler *masterdata.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with ledger defaults.
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
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.SalesHandler != nil {
			r.Route("/orders", params.SalesHandler.MountRoutes)
		}
		if params.TransfersHandler != nil {
			r.Route("/transfers", params.TransfersHandler.MountRoutes)
		}
		if params.PayrollHandler != nil {
			r.Route("/payroll", params.PayrollHandler.MountRoutes)
		}
		if params.AllowancesHandler != nil {
			r.Route("/allowances", params.AllowancesHandler.MountRoutes)
		}
		if params.ReportingHandler != nil {
			r.Route("/reports", params.ReportingHandler.MountRoutes)
		}
		if params.MasterDataHandler != nil {
			r.Route("/masterdata", params.MasterDataHandler.MountRoutes)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
