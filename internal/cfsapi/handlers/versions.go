package handlers

import (
	"encoding/json"
	"net/http"
)

type versionDoc struct {
	Major         string   `json:"major"`
	Minor         []string `json:"minor"`
}

// Versions serves GET /versions, GET /v2, GET /v3: the semver document
// describing the packaged API surface (spec.md §6).
func Versions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]versionDoc{
			"v2": {Major: "v2", Minor: []string{"v2.0"}},
			"v3": {Major: "v3", Minor: []string{"v3.0"}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}
}
