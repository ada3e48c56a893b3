package gql

// ValueAt returns the value stored at path inside a response tree built from
// map[string]any, Object and []any nodes.
func ValueAt(root any, path Path) (any, bool) {
	cur := root
	for _, elem := range path {
		switch e := elem.(type) {
		case string:
			var next any
			var exists bool
			switch obj := cur.(type) {
			case map[string]any:
				next, exists = obj[e]
			case Object:
				next, exists = obj.Get(e)
			}
			if !exists {
				return nil, false
			}
			cur = next
		case int:
			list, ok := cur.([]any)
			if !ok || e < 0 || e >= len(list) {
				return nil, false
			}
			cur = list[e]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetAt replaces the value at path. The parent container must already exist;
// SetAt reports whether the write happened.
func SetAt(root any, path Path, value any) bool {
	if len(path) == 0 {
		return false
	}
	parent, ok := ValueAt(root, path[:len(path)-1])
	if !ok {
		return false
	}
	switch e := path[len(path)-1].(type) {
	case string:
		m, ok := parent.(map[string]any)
		if !ok {
			return false
		}
		m[e] = value
		return true
	case int:
		list, ok := parent.([]any)
		if !ok || e < 0 || e >= len(list) {
			return false
		}
		list[e] = value
		return true
	}
	return false
}

// DeepMerge merges src into dst. Objects are merged key by key, lists element
// by element; any other src value replaces the dst value.
func DeepMerge(dst map[string]any, src map[string]any) {
	for k, sv := range src {
		dv, exists := dst[k]
		if !exists {
			dst[k] = sv
			continue
		}
		dst[k] = mergeValue(dv, sv)
	}
}

func mergeValue(dst, src any) any {
	switch s := src.(type) {
	case map[string]any:
		if d, ok := dst.(map[string]any); ok {
			DeepMerge(d, s)
			return d
		}
	case []any:
		if d, ok := dst.([]any); ok && len(d) == len(s) {
			for i := range s {
				d[i] = mergeValue(d[i], s[i])
			}
			return d
		}
	}
	return src
}
