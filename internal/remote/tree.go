package remote

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

var null = json.RawMessage("null")

func cleanPath(path string) string {
	return strings.Trim(path, "/")
}

// within reports whether path equals prefix or lies below it.
func within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// related reports whether a change at one path can alter the value at the other.
func related(a, b string) bool {
	return within(a, b) || within(b, a)
}

func ancestors(path string) []string {
	var out []string
	for i := strings.LastIndex(path, "/"); i > 0; i = strings.LastIndex(path[:i], "/") {
		out = append(out, path[:i])
	}
	return out
}

// encode turns a written value into the stored JSON, or nil for a delete.
func encode(value any, now int64) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}

	var raw json.RawMessage
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	if len(raw) == 0 || bytes.Equal(raw, null) {
		return nil, nil
	}

	return resolveServerValues(raw, now)
}

// resolveServerValues replaces every ServerTimestamp placeholder in raw.
func resolveServerValues(raw json.RawMessage, now int64) (json.RawMessage, error) {
	if !bytes.Contains(raw, []byte(`".sv"`)) {
		return raw, nil
	}

	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}

	return json.Marshal(resolve(tree, now))
}

func resolve(node any, now int64) any {
	switch v := node.(type) {
	case map[string]any:
		if len(v) == 1 && v[".sv"] == "timestamp" {
			return now
		}
		for k, child := range v {
			v[k] = resolve(child, now)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = resolve(child, now)
		}
		return v
	default:
		return v
	}
}

// assemble builds the value at path from a flat set of leaves. A leaf at
// path wins; otherwise the leaves below path are nested into objects.
func assemble(path string, leaves map[string]json.RawMessage) json.RawMessage {
	if v, ok := leaves[path]; ok {
		return v
	}

	keys := make([]string, 0)
	for k := range leaves {
		if strings.HasPrefix(k, path+"/") {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	root := map[string]any{}
	for _, k := range keys {
		parts := strings.Split(strings.TrimPrefix(k, path+"/"), "/")
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = leaves[k]
	}

	data, err := json.Marshal(root)
	if err != nil {
		return nil
	}

	return data
}

// applyWrite updates a flat leaf set for a write at path. A write replaces
// the whole subtree at path and any leaf stored at an ancestor of it.
func applyWrite(leaves map[string]json.RawMessage, path string, raw json.RawMessage) {
	for k := range leaves {
		if within(k, path) {
			delete(leaves, k)
		}
	}
	for _, a := range ancestors(path) {
		delete(leaves, a)
	}
	if raw != nil {
		leaves[path] = raw
	}
}
