package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	Catalog       *CatalogHandler
	Users         *UserHandler
	Machines      *MachineHandler
	Interventions *InterventionHandler
	Usage         *UsageHandler
	Liveness      *LivenessHandler
	Logger        *slog.Logger
	// Metrics exposes /metrics from the default Prometheus registry.
	Metrics    bool
	Middleware []func(http.Handler) http.Handler
}

// NewRouter mounts every configured handler under /api. Nil handlers leave
// their routes unregistered.
func NewRouter(cfg RouterConfig) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.Recoverer)
	router.Use(Metrics())
	router.Use(RequestLogger(cfg.Logger))
	for _, mw := range cfg.Middleware {
		if mw != nil {
			router.Use(mw)
		}
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		newResponder(cfg.Logger).writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{Message: "route not found"})
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		newResponder(cfg.Logger).writeJSON(r.Context(), w, http.StatusMethodNotAllowed, errorResponse{Message: http.StatusText(http.StatusMethodNotAllowed)})
	})

	if cfg.Liveness != nil {
		router.Get("/healthz", cfg.Liveness.Healthz)
	}
	if cfg.Metrics {
		router.Handle("/metrics", promhttp.Handler())
	}

	router.Route("/api", func(r chi.Router) {
		if h := cfg.Catalog; h != nil {
			r.Route("/roles", func(r chi.Router) {
				r.Get("/", h.ListRoles)
				r.Post("/", h.CreateRole)
				r.Get("/{roleID}", h.GetRole)
				r.Patch("/{roleID}", h.UpdateRole)
				r.Delete("/{roleID}", h.DeleteRole)
			})
			r.Route("/machine-types", func(r chi.Router) {
				r.Get("/", h.ListMachineTypes)
				r.Post("/", h.CreateMachineType)
				r.Get("/{typeID}", h.GetMachineType)
				r.Patch("/{typeID}", h.UpdateMachineType)
				r.Delete("/{typeID}", h.DeleteMachineType)
			})
			r.Route("/maintenances", func(r chi.Router) {
				r.Get("/", h.ListMaintenances)
				r.Post("/", h.CreateMaintenance)
				r.Get("/{maintenanceID}", h.GetMaintenance)
				r.Patch("/{maintenanceID}", h.UpdateMaintenance)
				r.Delete("/{maintenanceID}", h.DeleteMaintenance)
			})
		}

		r.Route("/users", func(r chi.Router) {
			if h := cfg.Users; h != nil {
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Get("/{userID}", h.Get)
				r.Patch("/{userID}", h.Update)
				r.Delete("/{userID}", h.Delete)
				r.Get("/{userID}/role", h.Role)
				r.Get("/{userID}/authorizations", h.Authorizations)
			}
			if h := cfg.Usage; h != nil {
				r.Put("/{userID}/authorizations", h.ReplaceAuthorizations)
				r.Get("/{userID}/sessions", h.UserSessions)
				r.Get("/{userID}/total-time", h.UserTotalTime)
			}
		})

		r.Route("/machines", func(r chi.Router) {
			if h := cfg.Usage; h != nil {
				r.Get("/in-use", h.MachinesInUse)
				r.Get("/{machineID}/in-use", h.MachineInUse)
				r.Post("/{machineID}/sessions/start", h.StartSession)
				r.Post("/{machineID}/sessions/end", h.EndSession)
				r.Get("/{machineID}/authorization", h.Authorization)
			}
			if h := cfg.Machines; h != nil {
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Get("/{machineID}", h.Get)
				r.Patch("/{machineID}", h.Update)
				r.Delete("/{machineID}", h.Delete)
				r.Get("/{machineID}/maintenances", h.Maintenances)
				r.Put("/{machineID}/maintenances/{maintenanceID}", h.AttachMaintenance)
				r.Delete("/{machineID}/maintenances/{maintenanceID}", h.DetachMaintenance)
			}
			if h := cfg.Interventions; h != nil {
				r.Get("/{machineID}/interventions", h.ListForMachine)
			}
		})

		if h := cfg.Usage; h != nil {
			r.Get("/sessions", h.Sessions)
		}

		if h := cfg.Interventions; h != nil {
			r.Route("/interventions", func(r chi.Router) {
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Get("/{interventionID}", h.Get)
			})
		}

		if h := cfg.Liveness; h != nil {
			r.Get("/liveness", h.Machines)
			r.Get("/liveness/pending", h.Pending)
		}
	})

	return router
}
