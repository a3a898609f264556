package schemaxlate

import "github.com/hpcfleet/cfs/pkg/cfsmodel"

// OptionsToV2 and OptionsToV3 apply the generic walk to the Options record;
// v2 exposes a superset of legacy camelCase keys, v3 uses snake_case, both
// driven by the same cfs_v2 tags declared on cfsmodel.Options.
func OptionsToV2(v3doc map[string]interface{}) map[string]interface{} {
	return ToV2(cfsmodel.Options{}, v3doc)
}

func OptionsToV3(v2doc map[string]interface{}) map[string]interface{} {
	return ToV3(cfsmodel.Options{}, v2doc)
}
