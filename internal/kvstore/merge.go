package kvstore

// DeepMerge is the default PatchHandler: a pure, copy-on-write recursive
// dict merge. Lists and scalars replace; nested maps merge key-by-key.
// A nil value at a patch key deletes that key from the result, matching the
// spec's "patch handler" semantics for removing a transient field such as
// state_append after it has been folded into state.
func DeepMerge(base, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, pv := range patch {
		if pv == nil {
			delete(out, k)
			continue
		}
		bv, exists := out[k]
		pm, pOk := pv.(map[string]interface{})
		bm, bOk := bv.(map[string]interface{})
		if exists && pOk && bOk {
			out[k] = DeepMerge(bm, pm)
			continue
		}
		out[k] = pv
	}
	return out
}

// Equal does a deep structural comparison of two decoded JSON documents,
// used by Patch to decide whether a write is actually needed.
func Equal(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !valueEqual(av, bv) {
			return false
		}
	}
	return true
}

func valueEqual(a, b interface{}) bool {
	switch at := a.(type) {
	case map[string]interface{}:
		bt, ok := b.(map[string]interface{})
		if !ok {
			return false
		}
		return Equal(at, bt)
	case []interface{}:
		bt, ok := b.([]interface{})
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !valueEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
