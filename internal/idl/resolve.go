package idl

// typeRegistry is the two-pass cyclic-graph resolver for `defined<T>`
// references (§9 design notes): build a name → raw-type-node map first,
// then expand references against it. Since every wire-to-SQL mapping
// collapses defined/vec/array to JSONB (§3), resolution here only needs
// to confirm a referenced name exists — an unresolved reference still
// collapses to JSONB rather than failing the parse.
type typeRegistry struct {
	nodes map[string]any
}

func buildTypeRegistry(rawTypes []any) *typeRegistry {
	reg := &typeRegistry{nodes: make(map[string]any)}
	for _, rt := range rawTypes {
		m, ok := rt.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		reg.nodes[name] = m["type"]
	}
	return reg
}

// fieldsOf returns the raw "fields" array declared on a struct-kind type
// node registered under name, or nil if the type is missing or not a
// struct (e.g. an enum — out of scope for field flattening).
func (r *typeRegistry) fieldsOf(name string) []any {
	node, ok := r.nodes[name]
	if !ok {
		return nil
	}
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	kind, _ := m["kind"].(string)
	if kind != "" && kind != "struct" {
		return nil
	}
	fields, _ := m["fields"].([]any)
	return fields
}

func (r *typeRegistry) has(name string) bool {
	_, ok := r.nodes[name]
	return ok
}
