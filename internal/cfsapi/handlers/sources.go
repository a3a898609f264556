package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apierrors "github.com/hpcfleet/cfs/internal/cfsapi/errors"
	"github.com/hpcfleet/cfs/internal/cfsapi/middleware"
	"github.com/hpcfleet/cfs/internal/optionscache"
	"github.com/hpcfleet/cfs/internal/sourceregistry"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

// Sources wires the Source CRUD surface, v3-only per spec.md §6.
type Sources struct {
	registry *sourceregistry.Registry
	options  *optionscache.Cache
}

// NewSources builds the Sources handler group.
func NewSources(registry *sourceregistry.Registry, options *optionscache.Cache) *Sources {
	return &Sources{registry: registry, options: options}
}

// Get serves GET /v3/sources/{id}.
func (h *Sources) Get(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	src, ok, err := h.registry.Get(r.Context(), name)
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	if !ok {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), apierrors.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// List serves GET /v3/sources.
func (h *Sources) List(w http.ResponseWriter, r *http.Request) {
	limit := h.options.PageSizeOrDefault(queryInt(r, "limit"))
	afterID := r.URL.Query().Get("after_id")
	out, next, err := h.registry.List(r.Context(), limit, afterID)
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	writePage(w, out, next)
}

// Create serves POST /v3/sources.
func (h *Sources) Create(w http.ResponseWriter, r *http.Request) {
	var src cfsmodel.Source
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), apierrors.ErrValidation)
		return
	}
	out, err := h.registry.Create(r.Context(), &src)
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// Patch serves PATCH /v3/sources/{id}.
func (h *Sources) Patch(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	var patch map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), apierrors.ErrValidation)
		return
	}
	out, err := h.registry.Patch(r.Context(), name, patch)
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Delete serves DELETE /v3/sources/{id}.
func (h *Sources) Delete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	if err := h.registry.Delete(r.Context(), name); err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
