// Package cfsapi assembles the versioned HTTP surface of spec.md §6 on top
// of gorilla/mux, grounded on the teacher's internal/api/router.go layout.
package cfsapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/hpcfleet/cfs/internal/cfsapi/handlers"
	"github.com/hpcfleet/cfs/internal/cfsapi/middleware"
	"github.com/hpcfleet/cfs/internal/componentregistry"
	"github.com/hpcfleet/cfs/internal/configregistry"
	"github.com/hpcfleet/cfs/internal/health"
	"github.com/hpcfleet/cfs/internal/optionscache"
	"github.com/hpcfleet/cfs/internal/sessionfsm"
	"github.com/hpcfleet/cfs/internal/sourceregistry"
	"github.com/hpcfleet/cfs/internal/tenancy"
)

// Config bundles every collaborator the router needs to build handler groups.
type Config struct {
	Logger  *slog.Logger
	Options *optionscache.Cache
	Health  *health.Probe
	Tenancy *tenancy.Gate

	// Keyspaces and their keyspace-scoped Stores are separate per v2/v3
	// surface only in spec.md's terms; the underlying registries are
	// shared, since the data model is identical across wire versions.
	Components     *componentregistry.Registry
	Configurations *configregistry.Registry
	Sources        *sourceregistry.Registry
	OptionsStore   *handlers.Options
	SessionsV2     *sessionfsm.FSM
	SessionsV3     *sessionfsm.FSM

	RateLimitPerMinute int
	RateLimitBurst     int
}

// NewRouter builds the full CFS router: global middleware, then the legacy,
// v2, and v3 route trees, per spec.md §6.
func NewRouter(cfg Config) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.SecurityHeaders)
	router.Use(middleware.Logging(cfg.Logger))
	router.Use(middleware.Metrics)
	router.Use(middleware.RateLimit(cfg.RateLimitPerMinute, cfg.RateLimitBurst))

	router.HandleFunc("/healthz", handlers.Health(cfg.Health)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	versionsHandler := handlers.Versions()
	router.HandleFunc("/versions", versionsHandler).Methods(http.MethodGet)
	router.HandleFunc("/v2", versionsHandler).Methods(http.MethodGet)
	router.HandleFunc("/v3", versionsHandler).Methods(http.MethodGet)

	router.PathPrefix("/docs").Handler(httpSwagger.WrapHandler)

	components := handlers.NewComponents(cfg.Components, cfg.Options)
	configurationsH := handlers.NewConfigurations(cfg.Configurations, cfg.Options)
	sources := handlers.NewSources(cfg.Sources, cfg.Options)
	sessionsV2 := handlers.NewSessions(cfg.SessionsV2, cfg.Options)
	sessionsV3 := handlers.NewSessions(cfg.SessionsV3, cfg.Options)

	refresh := middleware.OptionsRefresh(cfg.Options)

	// Legacy surface (no version prefix) mirrors v2 exactly.
	mountComponents(router.PathPrefix("").Subrouter(), components, refresh)
	mountConfigurations(router.PathPrefix("").Subrouter(), configurationsH, refresh, false)
	mountSessions(router.PathPrefix("").Subrouter(), sessionsV2, refresh)
	mountOptions(router.PathPrefix("").Subrouter(), cfg.OptionsStore, refresh)

	v2 := router.PathPrefix("/v2").Subrouter()
	mountComponents(v2, components, refresh)
	mountConfigurations(v2, configurationsH, refresh, false)
	mountSessions(v2, sessionsV2, refresh)
	mountOptions(v2, cfg.OptionsStore, refresh)

	v3 := router.PathPrefix("/v3").Subrouter()
	v3.Use(middleware.Tenancy(cfg.Tenancy))
	mountComponents(v3, components, refresh)
	mountConfigurations(v3, configurationsH, refresh, true)
	mountSessions(v3, sessionsV3, refresh)
	mountOptions(v3, cfg.OptionsStore, refresh)
	mountSources(v3, sources, refresh)

	return router
}

func mountComponents(r *mux.Router, h *handlers.Components, refresh func(http.Handler) http.Handler) {
	sub := r.PathPrefix("/components").Subrouter()
	sub.Use(refresh)
	sub.HandleFunc("", h.List).Methods(http.MethodGet)
	sub.HandleFunc("", h.Patch).Methods(http.MethodPatch)
	sub.HandleFunc("/{id}", h.Get).Methods(http.MethodGet)
	sub.HandleFunc("/{id}", h.Put).Methods(http.MethodPut)
	sub.HandleFunc("/{id}", h.Patch).Methods(http.MethodPatch)
	sub.HandleFunc("/{id}", h.Delete).Methods(http.MethodDelete)
}

func mountConfigurations(r *mux.Router, h *handlers.Configurations, refresh func(http.Handler) http.Handler, tenancyAware bool) {
	sub := r.PathPrefix("/configurations").Subrouter()
	sub.Use(refresh)
	sub.HandleFunc("", h.List).Methods(http.MethodGet)
	sub.HandleFunc("/{id}", h.Get).Methods(http.MethodGet)
	sub.HandleFunc("/{id}", h.Put(tenancyAware)).Methods(http.MethodPut)
	sub.HandleFunc("/{id}", h.Patch(tenancyAware)).Methods(http.MethodPatch)
	sub.HandleFunc("/{id}", h.Delete(tenancyAware)).Methods(http.MethodDelete)
}

func mountSources(r *mux.Router, h *handlers.Sources, refresh func(http.Handler) http.Handler) {
	sub := r.PathPrefix("/sources").Subrouter()
	sub.Use(refresh)
	sub.HandleFunc("", h.List).Methods(http.MethodGet)
	sub.HandleFunc("", h.Create).Methods(http.MethodPost)
	sub.HandleFunc("/{id}", h.Get).Methods(http.MethodGet)
	sub.HandleFunc("/{id}", h.Patch).Methods(http.MethodPatch)
	sub.HandleFunc("/{id}", h.Delete).Methods(http.MethodDelete)
}

func mountSessions(r *mux.Router, h *handlers.Sessions, refresh func(http.Handler) http.Handler) {
	sub := r.PathPrefix("/sessions").Subrouter()
	sub.Use(refresh)
	sub.HandleFunc("", h.List).Methods(http.MethodGet)
	sub.HandleFunc("", h.Create).Methods(http.MethodPost)
	sub.HandleFunc("", h.DeleteAll).Methods(http.MethodDelete)
	sub.HandleFunc("/{id}", h.Get).Methods(http.MethodGet)
	sub.HandleFunc("/{id}", h.Patch).Methods(http.MethodPatch)
	sub.HandleFunc("/{id}", h.Delete).Methods(http.MethodDelete)
}

func mountOptions(r *mux.Router, h *handlers.Options, refresh func(http.Handler) http.Handler) {
	sub := r.PathPrefix("/options").Subrouter()
	sub.Use(refresh)
	sub.HandleFunc("", h.Get).Methods(http.MethodGet)
	sub.HandleFunc("", h.Patch).Methods(http.MethodPatch)
}
