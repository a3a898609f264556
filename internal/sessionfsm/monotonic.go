package sessionfsm

// statusOrder and succeededOrder are the fixed progression orderings of
// spec.md §3's status monotonicity invariant. The ordering of "succeeded"
// places "unknown" between "none" and "false"; spec.md §9 flags this as an
// open question the source does not resolve further, so it is kept as
// observed rather than guessed at.
var statusOrder = map[string]int{
	"pending":  0,
	"running":  1,
	"complete": 2,
}

var succeededOrder = map[string]int{
	"none":    0,
	"unknown": 1,
	"false":   2,
	"true":    3,
}

// advances reports whether moving from cur to next is allowed under order;
// an unrecognised value never advances.
func advances(order map[string]int, cur, next string) bool {
	c, cOk := order[cur]
	n, nOk := order[next]
	if !nOk {
		return false
	}
	if !cOk {
		return true
	}
	return n >= c
}

// MergeSessionStatus applies spec.md §3's monotonic merge: status.session
// scalar fields other than status/succeeded are replaced by any non-empty
// patch value; status and succeeded only ever advance, and a regression is
// silently discarded.
func MergeSessionStatus(current, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(current))
	for k, v := range current {
		out[k] = v
	}
	for k, pv := range patch {
		switch k {
		case "status":
			curStr, _ := current["status"].(string)
			pvStr, _ := pv.(string)
			if advances(statusOrder, curStr, pvStr) {
				out["status"] = pvStr
			}
		case "succeeded":
			curStr, _ := current["succeeded"].(string)
			pvStr, _ := pv.(string)
			if advances(succeededOrder, curStr, pvStr) {
				out["succeeded"] = pvStr
			}
		default:
			if pv != nil && pv != "" {
				out[k] = pv
			}
		}
	}
	return out
}

// MergeArtifacts appends patch artifacts not already present, deduping by
// exact match of every key in the artifact object, per spec.md §3.
func MergeArtifacts(current, patch []map[string]interface{}) []map[string]interface{} {
	out := append([]map[string]interface{}{}, current...)
	for _, a := range patch {
		if !containsArtifact(out, a) {
			out = append(out, a)
		}
	}
	return out
}

func containsArtifact(list []map[string]interface{}, a map[string]interface{}) bool {
	for _, existing := range list {
		if artifactEqual(existing, a) {
			return true
		}
	}
	return false
}

func artifactEqual(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || bv != v {
			return false
		}
	}
	return true
}
