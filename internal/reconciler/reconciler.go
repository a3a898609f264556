// Package reconciler implements ComponentReconciler: the pure function
// mapping a component record, its referenced configuration, and options to
// a derived configuration status, per spec.md §4.5. Nothing in this package
// touches the store directly; callers supply a Configurations accessor.
package reconciler

import (
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

// Configurations looks up a Configuration by name, caching results. The
// production implementation (internal/configregistry) backs this with a
// golang-lru cache, per SPEC_FULL.md §3.
type Configurations interface {
	Get(name string) (*cfsmodel.Configuration, bool)
}

// Options is the minimal options surface the reconciler needs.
type Options struct {
	DefaultPlaybook           string
	DefaultBatcherRetryPolicy int
	BaseLogsURL               string
	IncludeAraLinks           bool
}

// Result is the outcome of reconciling one component.
type Result struct {
	Status       cfsmodel.ConfigurationStatus
	DesiredState []cfsmodel.LayerState // only populated when configDetails is requested
	Logs         string
}

// layerVerdict is the per-layer verdict before combination; it reuses the
// ConfigurationStatus enum's Unconfigured/Failed/Pending/Configured subset.
type layerVerdict = cfsmodel.ConfigurationStatus

// Reconcile implements the nine-step algorithm of spec.md §4.5.
func Reconcile(component cfsmodel.Component, configs Configurations, opts Options, configDetails bool) Result {
	retries := opts.DefaultBatcherRetryPolicy
	if component.RetryPolicy != nil {
		retries = *component.RetryPolicy
	}
	maxRetries := retries != -1 && component.ErrorCount >= retries

	current := normalizeState(component.State)

	if component.DesiredConfig == "" {
		return finish(cfsmodel.ConfigDeprecated, nil, component, opts)
	}

	desired, ok := configs.Get(component.DesiredConfig)
	if !ok || desired == nil || len(desired.Layers) == 0 {
		if len(current) == 0 {
			return finish(cfsmodel.Unconfigured, nil, component, opts)
		}
		return finish(cfsmodel.Configured, nil, component, opts)
	}

	verdicts := make([]layerVerdict, 0, len(desired.Layers))
	var details []cfsmodel.LayerState
	for _, layer := range desired.Layers {
		playbook := layer.Playbook
		if playbook == "" {
			playbook = opts.DefaultPlaybook
		}
		if layer.Commit == "" || layer.CloneURL == "" || playbook == "" {
			verdicts = append(verdicts, cfsmodel.Unconfigured)
			if configDetails {
				details = append(details, cfsmodel.LayerState{CloneURL: layer.CloneURL, Playbook: playbook, Commit: layer.Commit, Status: cfsmodel.StatusPending})
			}
			continue
		}

		var v layerVerdict
		var layerStatus cfsmodel.LayerStatus
		match, found := findMatch(current, layer.CloneURL, playbook, layer.Commit)
		switch {
		case found && match.Status == cfsmodel.StatusFailed:
			if maxRetries {
				v = cfsmodel.Failed
			} else {
				v = cfsmodel.Pending
			}
			layerStatus = match.Status
		case found && match.Status == cfsmodel.StatusIncomplete:
			v = cfsmodel.Pending
			layerStatus = match.Status
		case found:
			v = cfsmodel.Configured
			layerStatus = match.Status
		default:
			v = cfsmodel.Pending
			layerStatus = cfsmodel.StatusPending
		}
		verdicts = append(verdicts, v)
		if configDetails {
			details = append(details, cfsmodel.LayerState{CloneURL: layer.CloneURL, Playbook: playbook, Commit: layer.Commit, Status: layerStatus})
		}
	}

	combined := combine(verdicts)
	if combined == cfsmodel.Pending && maxRetries {
		combined = cfsmodel.Failed
	}

	return finish(combined, details, component, opts)
}

func finish(status cfsmodel.ConfigurationStatus, details []cfsmodel.LayerState, component cfsmodel.Component, opts Options) Result {
	r := Result{Status: status, DesiredState: details}
	if opts.IncludeAraLinks && opts.BaseLogsURL != "" {
		r.Logs = composeLogsURL(opts.BaseLogsURL, component.ID)
	}
	return r
}

// composeLogsURL builds the Ansible-run reporting URL for a component,
// per SPEC_FULL.md §5.14 (the original's ara_url-style composition).
func composeLogsURL(base, componentID string) string {
	return base + "?component_id=" + componentID
}

func normalizeState(state []cfsmodel.LayerState) []cfsmodel.LayerState {
	return state
}

func findMatch(current []cfsmodel.LayerState, cloneURL, playbook, commit string) (cfsmodel.LayerState, bool) {
	for _, s := range current {
		if s.CloneURL == cloneURL && s.Playbook == playbook && s.Commit == commit {
			return s, true
		}
	}
	return cfsmodel.LayerState{}, false
}

// combine reduces per-layer verdicts by taking the minimum in the fixed
// ordering unconfigured < failed < pending < configured.
func combine(verdicts []layerVerdict) cfsmodel.ConfigurationStatus {
	if len(verdicts) == 0 {
		return cfsmodel.Configured
	}
	best := verdicts[0]
	bestRank, _ := best.Rank()
	for _, v := range verdicts[1:] {
		r, _ := v.Rank()
		if r < bestRank {
			best = v
			bestRank = r
		}
	}
	return best
}
