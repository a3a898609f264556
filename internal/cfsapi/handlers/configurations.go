package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apierrors "github.com/hpcfleet/cfs/internal/cfsapi/errors"
	"github.com/hpcfleet/cfs/internal/cfsapi/middleware"
	"github.com/hpcfleet/cfs/internal/configregistry"
	"github.com/hpcfleet/cfs/internal/optionscache"
	"github.com/hpcfleet/cfs/internal/tenancy"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

// Configurations wires the Configuration CRUD surface, per spec.md §6.
// Tenancy gating is applied for v3 only, per spec.md §6; the v2 surface
// always runs in admin context.
type Configurations struct {
	registry *configregistry.Registry
	options  *optionscache.Cache
}

// NewConfigurations builds the Configurations handler group.
func NewConfigurations(registry *configregistry.Registry, options *optionscache.Cache) *Configurations {
	return &Configurations{registry: registry, options: options}
}

// Get serves GET /v{2,3}/configurations/{id}.
func (h *Configurations) Get(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	cfg, ok := h.registry.Get(name)
	if !ok {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), apierrors.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// List serves GET /v{2,3}/configurations.
func (h *Configurations) List(w http.ResponseWriter, r *http.Request) {
	limit := h.options.PageSizeOrDefault(queryInt(r, "limit"))
	afterID := r.URL.Query().Get("after_id")
	out, next, err := h.registry.List(r.Context(), limit, afterID, queryBool(r, "in_use"))
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	writePage(w, out, next)
}

// Put serves PUT /v{2,3}/configurations/{id}. v3 is tenancy-gated; v2
// always writes in admin context.
func (h *Configurations) Put(tenancyAware bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["id"]
		var cfg cfsmodel.Configuration
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			apierrors.Write(w, middleware.GetRequestID(r.Context()), apierrors.ErrValidation)
			return
		}
		cfg.Name = name

		dropBranches := false
		if b := queryBool(r, "drop_branches"); b != nil {
			dropBranches = *b
		}

		tc := requestTenancy(r, tenancyAware)
		requestedTenant := cfg.TenantName
		out, err := h.registry.Put(r.Context(), &cfg, tc, requestedTenant, dropBranches)
		if err != nil {
			apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// Patch serves PATCH /v{2,3}/configurations/{id}.
func (h *Configurations) Patch(tenancyAware bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["id"]
		tc := requestTenancy(r, tenancyAware)
		out, err := h.registry.Patch(r.Context(), name, tc)
		if err != nil {
			apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// Delete serves DELETE /v{2,3}/configurations/{id}.
func (h *Configurations) Delete(tenancyAware bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["id"]
		tc := requestTenancy(r, tenancyAware)
		if err := h.registry.Delete(r.Context(), name, tc); err != nil {
			apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// requestTenancy returns the request's resolved tenancy context, or an
// always-admin context for the v2 surface (spec.md §4.9's tenancy gate
// applies to v3 only).
func requestTenancy(r *http.Request, tenancyAware bool) tenancy.Context {
	if !tenancyAware {
		return tenancy.Context{}
	}
	return middleware.TenancyFromContext(r.Context())
}
