package idl

// parseFieldList converts a raw IDL "fields" array (or instruction
// "args" array — same shape) into normalized FieldDescriptors: names
// snake_cased, types resolved per §3's wire-to-SQL table.
func parseFieldList(raw []any, reg *typeRegistry) ([]FieldDescriptor, error) {
	out := make([]FieldDescriptor, 0, len(raw))
	for _, rf := range raw {
		m, ok := rf.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		typeNode, ok := m["type"]
		if !ok {
			return nil, newInvalidIDL("field %q missing type", name)
		}
		fd, err := resolveField(name, typeNode, reg)
		if err != nil {
			return nil, err
		}
		out = append(out, fd)
	}
	return out, nil
}

func resolveField(name string, typeNode any, reg *typeRegistry) (FieldDescriptor, error) {
	wt, inner, defn, alen, defFields := parseWireType(typeNode, reg, 0)
	sqlType, nullable := sqlTypeFor(wt, inner)
	return FieldDescriptor{
		Name:          SnakeCase(name),
		WireType:      wt,
		Inner:         inner,
		ArrayLen:      alen,
		Defined:       defn,
		DefinedFields: defFields,
		SQLType:       sqlType,
		Nullable:      nullable,
	}, nil
}
