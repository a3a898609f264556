// Package health implements HealthProbe: aggregation of backing-store and
// event-bus reachability into a 200/503 decision, per spec.md §4.11.
package health

import (
	"context"
	"net/http"
)

// Pinger is satisfied by both kvstore.Store and eventbus.Bus.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is one component's reported health.
type Status struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Document is the full health response body.
type Document struct {
	Status     string            `json:"status"`
	Components map[string]Status `json:"components"`
}

// Probe is the HealthProbe collaborator.
type Probe struct {
	store     Pinger
	eventBus  Pinger
}

// New builds a Probe over the store and event bus.
func New(store, eventBus Pinger) *Probe {
	return &Probe{store: store, eventBus: eventBus}
}

// Check aggregates component health. Unlike other handlers, this explicitly
// handles connection failures itself rather than relying on the
// options-refresh decorator, so a store outage is never masked
// (spec.md §4.11).
func (p *Probe) Check(ctx context.Context) (Document, int) {
	doc := Document{Status: "ok", Components: map[string]Status{}}
	httpStatus := http.StatusOK

	if err := p.store.Ping(ctx); err != nil {
		doc.Components["kvstore"] = Status{Status: "error", Detail: err.Error()}
		doc.Status = "error"
		httpStatus = http.StatusServiceUnavailable
	} else {
		doc.Components["kvstore"] = Status{Status: "ok"}
	}

	if err := p.eventBus.Ping(ctx); err != nil {
		doc.Components["eventbus"] = Status{Status: "error", Detail: err.Error()}
		doc.Status = "error"
		httpStatus = http.StatusServiceUnavailable
	} else {
		doc.Components["eventbus"] = Status{Status: "ok"}
	}

	return doc, httpStatus
}
