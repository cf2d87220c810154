package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zazakia/kiropos/internal/ledger"
	"github.com/zazakia/kiropos/internal/masterdata/products"
	"github.com/zazakia/kiropos/internal/masterdata/warehouses"
	"github.com/zazakia/kiropos/internal/observability"
	"github.com/zazakia/kiropos/internal/pos"
	"github.com/zazakia/kiropos/internal/procurement"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Metrics            *observability.Metrics
	LedgerHandler      *ledger.Handler
	ProductHandler     *products.Handler
	WarehouseHandler   *warehouses.Handler
	ProcurementHandler *procurement.Handler
	POSHandler         *pos.Handler
	Pool               *pgxpool.Pool
}

// NewRouter assembles the HTTP router with the default middleware stack.
func NewRouter(p RouterParams) chi.Router {
	r := chi.NewRouter()
	r.Use(MiddlewareStack(MiddlewareConfig{
		Logger:  p.Logger,
		Config:  p.Config,
		Metrics: p.Metrics,
	})...)

	r.Get("/healthz", healthz(p.Pool))
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if p.LedgerHandler != nil {
			api.Route("/inventory", p.LedgerHandler.MountRoutes)
		}
		if p.ProductHandler != nil {
			p.ProductHandler.MountRoutes(api)
		}
		if p.WarehouseHandler != nil {
			p.WarehouseHandler.MountRoutes(api)
		}
		if p.ProcurementHandler != nil {
			p.ProcurementHandler.MountRoutes(api)
		}
		if p.POSHandler != nil {
			p.POSHandler.MountRoutes(api)
		}
	})

	return r
}

func healthz(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
