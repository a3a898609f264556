package handlers

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/hpcfleet/cfs/internal/cfsapi/errors"
	"github.com/hpcfleet/cfs/internal/cfsapi/middleware"
	"github.com/hpcfleet/cfs/internal/kvstore"
)

// Options wires GET/PATCH /v{2,3}/options against the options keyspace's
// Store directly; OptionsCache (read by every other handler) is refreshed
// independently and does not need to serve this endpoint itself.
type Options struct {
	store kvstore.Store
}

// NewOptions builds the Options handler group.
func NewOptions(store kvstore.Store) *Options {
	return &Options{store: store}
}

// Get serves GET /v{2,3}/options.
func (h *Options) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Get(r.Context(), "options")
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Patch serves PATCH /v{2,3}/options.
func (h *Options) Patch(w http.ResponseWriter, r *http.Request) {
	var patch map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), apierrors.ErrValidation)
		return
	}
	doc, err := h.store.Patch(r.Context(), "options", patch, kvstore.PatchOptions{})
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
