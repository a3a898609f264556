package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apierrors "github.com/hpcfleet/cfs/internal/cfsapi/errors"
	"github.com/hpcfleet/cfs/internal/cfsapi/middleware"
	"github.com/hpcfleet/cfs/internal/optionscache"
	"github.com/hpcfleet/cfs/internal/sessionfsm"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

// Sessions wires the Session CRUD + bulk-delete surface, per spec.md §6.
type Sessions struct {
	fsm     *sessionfsm.FSM
	options *optionscache.Cache
}

// NewSessions builds the Sessions handler group.
func NewSessions(fsm *sessionfsm.FSM, options *optionscache.Cache) *Sessions {
	return &Sessions{fsm: fsm, options: options}
}

// Get serves GET /v{2,3}/sessions/{id}.
func (h *Sessions) Get(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	s, err := h.fsm.Get(r.Context(), name)
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// List serves GET /v{2,3}/sessions.
func (h *Sessions) List(w http.ResponseWriter, r *http.Request) {
	limit := h.options.PageSizeOrDefault(queryInt(r, "limit"))
	afterID := r.URL.Query().Get("after_id")
	filter := sessionfsm.ListFilter{
		MinAge:       r.URL.Query().Get("min_age"),
		MaxAge:       r.URL.Query().Get("max_age"),
		Status:       r.URL.Query().Get("status"),
		Succeeded:    r.URL.Query().Get("succeeded"),
		NameContains: r.URL.Query().Get("name_contains"),
		Tags:         queryTags(r, "tags"),
	}
	out, next, err := h.fsm.List(r.Context(), limit, afterID, filter)
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	writePage(w, out, next)
}

// Create serves POST /v{2,3}/sessions.
func (h *Sessions) Create(w http.ResponseWriter, r *http.Request) {
	var s cfsmodel.Session
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), apierrors.ErrValidation)
		return
	}
	out, err := h.fsm.Create(r.Context(), &s, h.options.AnsibleConfigOrDefault(s.Ansible.Config))
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

type sessionPatchRequest struct {
	Status    map[string]interface{}     `json:"status"`
	Artifacts []map[string]interface{}   `json:"artifacts"`
}

// Patch serves PATCH /v{2,3}/sessions/{id}.
func (h *Sessions) Patch(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	var patch sessionPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), apierrors.ErrValidation)
		return
	}
	out, err := h.fsm.Patch(r.Context(), name, patch.Status, patch.Artifacts)
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Delete serves DELETE /v{2,3}/sessions/{id}.
func (h *Sessions) Delete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	if err := h.fsm.Delete(r.Context(), name); err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAll serves DELETE /v{2,3}/sessions (bulk delete by filter).
func (h *Sessions) DeleteAll(w http.ResponseWriter, r *http.Request) {
	filter := sessionfsm.ListFilter{
		MinAge:       r.URL.Query().Get("min_age"),
		MaxAge:       r.URL.Query().Get("max_age"),
		Status:       r.URL.Query().Get("status"),
		Succeeded:    r.URL.Query().Get("succeeded"),
		NameContains: r.URL.Query().Get("name_contains"),
		Tags:         queryTags(r, "tags"),
	}
	deleted, err := h.fsm.DeleteAll(r.Context(), filter)
	if err != nil {
		apierrors.Write(w, middleware.GetRequestID(r.Context()), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}
