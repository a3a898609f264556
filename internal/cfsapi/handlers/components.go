package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apierrors "github.com/hpcfleet/cfs/internal/cfsapi/errors"
	"github.com/hpcfleet/cfs/internal/cfsapi/middleware"
	"github.com/hpcfleet/cfs/internal/componentregistry"
	"github.com/hpcfleet/cfs/internal/kvstore"
	"github.com/hpcfleet/cfs/internal/optionscache"
	"github.com/hpcfleet/cfs/internal/reconciler"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

// Components wires the Component CRUD surface, per spec.md §6.
type Components struct {
	registry *componentregistry.Registry
	options  *optionscache.Cache
}

// NewComponents builds the Components handler group.
func NewComponents(registry *componentregistry.Registry, options *optionscache.Cache) *Components {
	return &Components{registry: registry, options: options}
}

func (h *Components) reconcilerOpts() reconciler.Options {
	snap := h.options.Snapshot()
	return reconciler.Options{
		DefaultPlaybook:           snap.DefaultPlaybook,
		DefaultBatcherRetryPolicy: snap.DefaultBatcherRetryPolicy,
		IncludeAraLinks:           snap.IncludeAraLinks,
	}
}

func (h *Components) readOpts(r *http.Request) componentregistry.ReadOptions {
	configDetails := false
	if b := queryBool(r, "config_details"); b != nil {
		configDetails = *b
	}
	return componentregistry.ReadOptions{
		ConfigDetails:  configDetails,
		ReconcilerOpts: h.reconcilerOpts(),
	}
}

// Get serves GET /v{2,3}/components/{id}.
func (h *Components) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := h.registry.Get(r.Context(), id, h.readOpts(r))
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// List serves GET /v{2,3}/components.
func (h *Components) List(w http.ResponseWriter, r *http.Request) {
	limit := h.options.PageSizeOrDefault(queryInt(r, "limit"))
	afterID := r.URL.Query().Get("after_id")

	filter := componentregistry.ListFilter{
		IDs:        queryCSV(r, "ids"),
		Status:     r.URL.Query().Get("status"),
		Enabled:    queryBool(r, "enabled"),
		ConfigName: r.URL.Query().Get("config_name"),
		Tags:       queryTags(r, "tags"),
	}

	out, next, err := h.registry.List(r.Context(), limit, afterID, filter, h.readOpts(r))
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	writePage(w, out, next)
}

// Put serves PUT /v{2,3}/components/{id}.
func (h *Components) Put(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var c cfsmodel.Component
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), apierrors.ErrValidation)
		return
	}
	c.ID = id
	out, err := h.registry.Put(r.Context(), &c)
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	h.registry.RenderStatus(out, h.readOpts(r))
	writeJSON(w, http.StatusOK, out)
}

// bulkPatchRequest is the {filters, patch} shape accepted alongside a plain
// patch-list body, per spec.md §6.
type bulkPatchRequest struct {
	Filters struct {
		IDs        []string          `json:"ids"`
		Status     string            `json:"status"`
		Enabled    *bool             `json:"enabled"`
		ConfigName string            `json:"config_name"`
		Tags       map[string]string `json:"tags"`
	} `json:"filters"`
	Patch map[string]interface{} `json:"patch"`
}

// Patch serves PATCH /v{2,3}/components[/{id}]: a single patch against
// {id}, a list of per-component patches, or a {filters, patch} bulk patch.
func (h *Components) Patch(w http.ResponseWriter, r *http.Request) {
	if id, ok := mux.Vars(r)["id"]; ok && id != "" {
		var patch map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			apierrors.Write(w, middleware.GetRequestID(r.Context()), apierrors.ErrValidation)
			return
		}
		c, err := h.registry.Patch(r.Context(), id, patch)
		if err != nil {
			apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
			return
		}
		h.registry.RenderStatus(c, h.readOpts(r))
		writeJSON(w, http.StatusOK, c)
		return
	}

	raw := json.RawMessage{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), apierrors.ErrValidation)
		return
	}

	var list []struct {
		ID    string                 `json:"id"`
		Patch map[string]interface{} `json:"patch"`
	}
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		tuples := make([]kvstore.PatchTuple, len(list))
		for i, item := range list {
			tuples[i] = kvstore.PatchTuple{Key: item.ID, Patch: item.Patch}
		}
		out, err := h.registry.PatchList(r.Context(), tuples)
		if err != nil {
			apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
			return
		}
		for _, c := range out {
			h.registry.RenderStatus(c, h.readOpts(r))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	var bulk bulkPatchRequest
	if err := json.Unmarshal(raw, &bulk); err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), apierrors.ErrValidation)
		return
	}
	filter := componentregistry.ListFilter{
		IDs:        bulk.Filters.IDs,
		Status:     bulk.Filters.Status,
		Enabled:    bulk.Filters.Enabled,
		ConfigName: bulk.Filters.ConfigName,
		Tags:       bulk.Filters.Tags,
	}
	out, err := h.registry.PatchAll(r.Context(), filter, bulk.Patch, h.reconcilerOpts())
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	for _, c := range out {
		h.registry.RenderStatus(c, h.readOpts(r))
	}
	writeJSON(w, http.StatusOK, out)
}

// Delete serves DELETE /v{2,3}/components/{id}.
func (h *Components) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.registry.Delete(r.Context(), id); err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
