package schemaxlate

import (
	"strings"

	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

// ComponentToV2 applies the generic walk plus the per-kind rule from
// spec.md §4.2: every state[i] whose status is not "applied" has its commit
// rewritten to "<commit>_<status>" and its status field dropped, since the
// v2 wire form has no explicit layer status. The rewrite runs against the
// raw v3 input, before the generic walk: Status carries cfs_v2:"-", so
// ToV2's field loop drops it (and never writes it to its output) before
// flattenStateToV2 would ever get a chance to read it back out.
func ComponentToV2(v3doc map[string]interface{}) map[string]interface{} {
	flattenStateToV2(v3doc, "state")
	flattenStateToV2(v3doc, "desired_state")
	return ToV2(cfsmodel.Component{}, v3doc)
}

// flattenStateToV2 folds each layer's status into its commit in place, on a
// v3-shaped document (json field names, not cfs_v2 ones).
func flattenStateToV2(doc map[string]interface{}, key string) {
	raw, ok := doc[key]
	if !ok {
		return
	}
	list, ok := raw.([]interface{})
	if !ok {
		return
	}
	for _, item := range list {
		layer, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		status, _ := layer["status"].(string)
		commit, _ := layer["commit"].(string)
		if status != "" && status != string(cfsmodel.StatusApplied) {
			layer["commit"] = commit + "_" + status
		}
	}
}

// ComponentToV3 is the inverse: split "<commit>_<suffix>" back into commit
// and status, defaulting to "applied" when there is no suffix. The commit
// suffix is stripped from the v2 input before the generic walk runs (so it
// copies a clean commit), and the decoded status is written into the v3
// output afterward, since ToV3 drops the Status field (cfs_v2:"-") before
// ever reading anything back out of the document it's building.
func ComponentToV3(v2doc map[string]interface{}) map[string]interface{} {
	stateStatus := splitCommitSuffix(v2doc, "state")
	desiredStateStatus := splitCommitSuffix(v2doc, "desiredState")

	out := ToV3(cfsmodel.Component{}, v2doc)

	applyLayerStatus(out, "state", stateStatus)
	applyLayerStatus(out, "desired_state", desiredStateStatus)
	return out
}

// splitCommitSuffix strips a trailing "_<status>" from each layer's commit
// in place and returns the decoded status per layer, positionally.
func splitCommitSuffix(doc map[string]interface{}, key string) []string {
	raw, ok := doc[key]
	if !ok {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	statuses := make([]string, len(list))
	for i, item := range list {
		layer, ok := item.(map[string]interface{})
		if !ok {
			statuses[i] = string(cfsmodel.StatusApplied)
			continue
		}
		commit, _ := layer["commit"].(string)
		status := string(cfsmodel.StatusApplied)
		if idx := strings.LastIndex(commit, "_"); idx >= 0 {
			suffix := commit[idx+1:]
			switch suffix {
			case string(cfsmodel.StatusFailed), string(cfsmodel.StatusIncomplete), string(cfsmodel.StatusPending):
				status = suffix
				commit = commit[:idx]
			}
		}
		layer["commit"] = commit
		statuses[i] = status
	}
	return statuses
}

// applyLayerStatus writes the decoded status back onto a v3-shaped output's
// layers, matched positionally to splitCommitSuffix's return order.
func applyLayerStatus(doc map[string]interface{}, key string, statuses []string) {
	if len(statuses) == 0 {
		return
	}
	raw, ok := doc[key]
	if !ok {
		return
	}
	list, ok := raw.([]interface{})
	if !ok {
		return
	}
	for i, item := range list {
		if i >= len(statuses) {
			break
		}
		layer, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		layer["status"] = statuses[i]
	}
}
