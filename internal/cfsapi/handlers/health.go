// Package handlers implements the CFS HTTP surface of spec.md §6: thin
// adapters that decode requests, call one collaborator, and translate the
// result through internal/cfsapi/errors, grounded on the teacher's
// cmd/server/handlers package layout.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/hpcfleet/cfs/internal/health"
)

// Health serves GET /healthz. It bypasses the options-refresh decorator
// deliberately, per spec.md §4.11, so a store outage is reported rather
// than masked by a refresh failure.
func Health(probe *health.Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, status := probe.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(doc)
	}
}
