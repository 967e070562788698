package loader

// mergeDefinitions merges a child's raw YAML document on top of its parent
// with override-wins semantics: scalars and non-map fields take the child's
// value, nested maps merge recursively, and step lists ("steps", "phases",
// and pipeline steps keyed by "id") merge by key with child entries
// overriding field-wise and new entries appended.
func mergeDefinitions(parent, child map[string]any) map[string]any {
	result := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		result[k] = v
	}
	for k, v := range child {
		if k == "extends" {
			continue
		}
		base, exists := result[k]
		if !exists {
			result[k] = v
			continue
		}
		switch k {
		case "steps", "phases":
			baseList, baseOK := base.([]any)
			childList, childOK := v.([]any)
			if baseOK && childOK {
				result[k] = mergeStepLists(baseList, childList)
				continue
			}
		}
		baseMap, baseIsMap := base.(map[string]any)
		childMap, childIsMap := v.(map[string]any)
		if baseIsMap && childIsMap {
			result[k] = mergeMaps(baseMap, childMap)
			continue
		}
		result[k] = v
	}
	return result
}

func mergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if baseVal, ok := result[k]; ok {
			baseMap, baseIsMap := baseVal.(map[string]any)
			overMap, overIsMap := v.(map[string]any)
			if baseIsMap && overIsMap {
				result[k] = mergeMaps(baseMap, overMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// mergeStepLists merges step lists by key: "id" when present (pipelines),
// otherwise "name". Child steps override matching parent steps field-wise;
// unmatched child steps append in order.
func mergeStepLists(base, override []any) []any {
	result := make([]any, len(base))
	copy(result, base)

	index := make(map[string]int, len(base))
	for i, item := range result {
		if key := stepKey(item); key != "" {
			index[key] = i
		}
	}

	for _, item := range override {
		key := stepKey(item)
		if idx, ok := index[key]; ok && key != "" {
			baseStep, baseOK := result[idx].(map[string]any)
			overStep, overOK := item.(map[string]any)
			if baseOK && overOK {
				result[idx] = mergeMaps(baseStep, overStep)
				continue
			}
		}
		result = append(result, item)
	}
	return result
}

func stepKey(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	if id, ok := m["id"].(string); ok && id != "" {
		return id
	}
	if name, ok := m["name"].(string); ok {
		return name
	}
	return ""
}
