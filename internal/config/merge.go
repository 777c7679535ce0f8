package config

// deepMerge layers override on top of base. Maps merge key by key,
// recursing when both sides hold a map at the same key; any other type
// (including slices) is replaced wholesale by override's value rather than
// concatenated, so a phase's override block fully owns a list it mentions.
func deepMerge(base, override interface{}) interface{} {
	baseMap, baseIsMap := base.(map[string]interface{})
	overrideMap, overrideIsMap := override.(map[string]interface{})

	if !baseIsMap || !overrideIsMap {
		if override == nil {
			return base
		}
		return override
	}

	merged := make(map[string]interface{}, len(baseMap)+len(overrideMap))
	for k, v := range baseMap {
		merged[k] = v
	}
	for k, v := range overrideMap {
		if existing, ok := merged[k]; ok {
			merged[k] = deepMerge(existing, v)
		} else {
			merged[k] = v
		}
	}
	return merged
}
