// Package sessionfsm implements the Session lifecycle: creation validation,
// monotonic status/artifact merge on patch, filter-driven list/delete, and
// event emission, per spec.md §4.6.
package sessionfsm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/hpcfleet/cfs/internal/cfsapi/errors"
	"github.com/hpcfleet/cfs/internal/kvstore"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

// allowedPassthroughFlags is the fixed set of ansible_passthrough flags
// CFS forwards verbatim to the runner, per spec.md §4.6.
var allowedPassthroughFlags = map[string]bool{
	"extra-vars":    true,
	"forks":         true,
	"skip-tags":     true,
	"start-at-task": true,
	"tags":          true,
}

// ConfigurationExists checks Configuration existence for session creation.
type ConfigurationExists func(ctx context.Context, name string) bool

// EventPublisher emits session lifecycle events (internal/eventbus).
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, session *cfsmodel.Session)
}

// FSM is the SessionFSM collaborator.
type FSM struct {
	store     kvstore.Store
	configs   ConfigurationExists
	events    EventPublisher
	isV3      bool
}

// New builds an FSM. isV3 controls the debug_ name-prefix exemption from
// configuration-existence validation (spec.md §4.6).
func New(store kvstore.Store, configs ConfigurationExists, events EventPublisher, isV3 bool) *FSM {
	return &FSM{store: store, configs: configs, events: events, isV3: isV3}
}

func decode(doc map[string]interface{}) (*cfsmodel.Session, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var s cfsmodel.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func encodeDoc(s *cfsmodel.Session) (map[string]interface{}, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// validateTarget enforces spec.md §3's Session.target shape rules.
func validateTarget(t cfsmodel.SessionTarget) error {
	switch t.Definition {
	case "repo", "dynamic":
		return nil
	case "spec", "image":
		if len(t.Groups) == 0 {
			return fmt.Errorf("target %q requires at least one group: %w", t.Definition, apierrors.ErrValidation)
		}
		for _, g := range t.Groups {
			if len(g.Members) == 0 {
				return fmt.Errorf("group %q must have at least one member: %w", g.Name, apierrors.ErrValidation)
			}
			for _, m := range g.Members {
				if strings.TrimSpace(m) == "" {
					return fmt.Errorf("group %q has a blank member: %w", g.Name, apierrors.ErrValidation)
				}
				if t.Definition == "image" {
					if u, err := uuid.Parse(m); err != nil || u.Version() != 4 {
						return fmt.Errorf("image group %q member %q is not a UUIDv4: %w", g.Name, m, apierrors.ErrValidation)
					}
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("unrecognised target definition %q: %w", t.Definition, apierrors.ErrValidation)
	}
}

func validatePassthrough(p map[string]interface{}) error {
	for k := range p {
		if !allowedPassthroughFlags[k] {
			return fmt.Errorf("ansible_passthrough flag %q is not permitted: %w", k, apierrors.ErrValidation)
		}
	}
	return nil
}

// Create validates and persists a new Session, emitting a CREATE event
// after the store write succeeds (spec.md §4.6).
func (f *FSM) Create(ctx context.Context, s *cfsmodel.Session, defaultAnsibleConfig string) (*cfsmodel.Session, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("session name is required: %w", apierrors.ErrValidation)
	}
	if _, err := f.store.Get(ctx, s.Name); err == nil {
		return nil, fmt.Errorf("session %q already exists: %w", s.Name, apierrors.ErrConflict)
	}

	exemptDebug := f.isV3 && strings.HasPrefix(s.Name, "debug_")
	if !exemptDebug && s.Configuration.Name != "" && !f.configs(ctx, s.Configuration.Name) {
		return nil, fmt.Errorf("configuration %q does not exist: %w", s.Configuration.Name, apierrors.ErrValidation)
	}

	if err := validateTarget(s.Target); err != nil {
		return nil, err
	}
	if err := validatePassthrough(s.Ansible.Passthrough); err != nil {
		return nil, err
	}

	if s.Ansible.Config == "" {
		s.Ansible.Config = defaultAnsibleConfig
	}
	s.Status = cfsmodel.SessionStatus{
		Session: cfsmodel.SessionStatusInfo{
			Status:    "pending",
			Succeeded: "none",
			StartTime: time.Now().UTC(),
		},
		Artifacts: []map[string]interface{}{},
	}

	doc, err := encodeDoc(s)
	if err != nil {
		return nil, err
	}
	if err := f.store.Put(ctx, s.Name, doc); err != nil {
		return nil, err
	}
	if f.events != nil {
		f.events.Publish(ctx, "CREATE", s)
	}
	return s, nil
}

// Patch applies a status-only update with monotonic progression, per
// spec.md §4.6.
func (f *FSM) Patch(ctx context.Context, name string, statusPatch map[string]interface{}, artifactPatch []map[string]interface{}) (*cfsmodel.Session, error) {
	doc, err := f.store.Patch(ctx, name, map[string]interface{}{}, kvstore.PatchOptions{
		PatchHandler: func(base, _ map[string]interface{}) map[string]interface{} {
			out := make(map[string]interface{}, len(base))
			for k, v := range base {
				out[k] = v
			}
			status := map[string]interface{}{}
			if cur, ok := out["status"].(map[string]interface{}); ok {
				for k, v := range cur {
					status[k] = v
				}
			}
			sessionInfo, _ := status["session"].(map[string]interface{})
			if sessionInfo == nil {
				sessionInfo = map[string]interface{}{}
			}
			status["session"] = MergeSessionStatus(sessionInfo, statusPatch)

			var artifacts []map[string]interface{}
			if raw, ok := status["artifacts"].([]interface{}); ok {
				for _, a := range raw {
					if m, ok := a.(map[string]interface{}); ok {
						artifacts = append(artifacts, m)
					}
				}
			}
			status["artifacts"] = MergeArtifacts(artifacts, artifactPatch)
			out["status"] = status
			return out
		},
	})
	if err != nil {
		return nil, err
	}
	return decode(doc)
}

// Get fetches one session by name.
func (f *FSM) Get(ctx context.Context, name string) (*cfsmodel.Session, error) {
	doc, err := f.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return decode(doc)
}

// Delete atomically removes a session and emits a DELETE event.
func (f *FSM) Delete(ctx context.Context, name string) error {
	doc, err := f.store.GetDelete(ctx, name)
	if err != nil {
		return err
	}
	if f.events != nil {
		s, err := decode(doc)
		if err == nil {
			f.events.Publish(ctx, "DELETE", s)
		}
	}
	return nil
}

// ListFilter narrows session List/bulk-delete results, per spec.md §4.6.
type ListFilter struct {
	MinAge       string
	MaxAge       string
	Status       string
	Succeeded    string
	NameContains string
	Tags         map[string]string
}

func (lf ListFilter) toKvFilter(now time.Time) (kvstore.Filter, error) {
	var minDur, maxDur time.Duration
	var err error
	if lf.MinAge != "" {
		if minDur, err = ParseAge(lf.MinAge); err != nil {
			return nil, err
		}
	}
	if lf.MaxAge != "" {
		if maxDur, err = ParseAge(lf.MaxAge); err != nil {
			return nil, err
		}
	}
	return func(v map[string]interface{}) bool {
		status, _ := v["status"].(map[string]interface{})
		sessionInfo, _ := status["session"].(map[string]interface{})

		if lf.Status != "" {
			s, _ := sessionInfo["status"].(string)
			if s != lf.Status {
				return false
			}
		}
		if lf.Succeeded != "" {
			s, _ := sessionInfo["succeeded"].(string)
			if s != lf.Succeeded {
				return false
			}
		}
		if lf.NameContains != "" {
			name, _ := v["name"].(string)
			if !strings.Contains(name, lf.NameContains) {
				return false
			}
		}
		if len(lf.Tags) > 0 {
			tags, _ := v["tags"].(map[string]interface{})
			for k, want := range lf.Tags {
				got, _ := tags[k].(string)
				if got != want {
					return false
				}
			}
		}
		if lf.MinAge != "" || lf.MaxAge != "" {
			startRaw, _ := sessionInfo["start_time"].(string)
			start, err := time.Parse(time.RFC3339, startRaw)
			if err != nil {
				return false
			}
			age := now.Sub(start)
			if lf.MinAge != "" && age < minDur {
				return false
			}
			if lf.MaxAge != "" && age > maxDur {
				return false
			}
		}
		return true
	}, nil
}

// List returns a filtered, paged list of sessions.
func (f *FSM) List(ctx context.Context, limit int, afterID string, filter ListFilter) ([]*cfsmodel.Session, bool, error) {
	kvFilter, err := filter.toKvFilter(time.Now().UTC())
	if err != nil {
		return nil, false, err
	}
	entries, next, err := f.store.GetAll(ctx, limit, afterID, []kvstore.Filter{kvFilter})
	if err != nil {
		return nil, false, err
	}
	out := make([]*cfsmodel.Session, 0, len(entries))
	for _, e := range entries {
		s, err := decode(e.Value)
		if err != nil {
			return nil, false, err
		}
		out = append(out, s)
	}
	return out, next, nil
}

// DeleteAll bulk-deletes every session matching filter.
func (f *FSM) DeleteAll(ctx context.Context, filter ListFilter) ([]string, error) {
	kvFilter, err := filter.toKvFilter(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return f.store.DeleteAll(ctx, kvFilter)
}
