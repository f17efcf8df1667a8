package idl

// parseShank normalizes a Shank IDL document. Shank instructions declare
// a "discriminant" object ({"type":"u8"|"u16"|"u32","value":N}) encoded
// little-endian at its declared byte width; Shank IDLs carry no Anchor
// self-CPI events, so Events is always empty.
func parseShank(doc map[string]any) (*ProgramDescriptor, error) {
	programID, _ := doc["address"].(string)
	name := programNameFrom(doc)
	if name == "" {
		return nil, newInvalidIDL("shank IDL missing metadata.name/name")
	}

	reg := buildTypeRegistry(asSlice(doc["types"]))

	instrs, err := parseShankInstructions(asSlice(doc["instructions"]), reg)
	if err != nil {
		return nil, err
	}

	accounts := parseAccountTypes(asSlice(doc["accounts"]), reg)

	return &ProgramDescriptor{
		ProgramID:    programID,
		ProgramName:  SnakeCase(name),
		Dialect:      DialectShank,
		Events:       nil,
		Instructions: instrs,
		Accounts:     accounts,
	}, nil
}

func parseShankInstructions(raw []any, reg *typeRegistry) ([]InstructionDescriptor, error) {
	out := make([]InstructionDescriptor, 0, len(raw))
	for _, ri := range raw {
		m, ok := ri.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			return nil, newInvalidIDL("instruction missing name")
		}

		args, err := parseFieldList(asSlice(m["args"]), reg)
		if err != nil {
			return nil, err
		}

		accounts := flattenFlatAccounts(asSlice(m["accounts"]))

		disc, width, err := parseDiscriminant(m["discriminant"])
		if err != nil {
			return nil, newInvalidIDL("instruction %q: %v", name, err)
		}

		out = append(out, InstructionDescriptor{
			Name:               SnakeCase(name),
			Discriminator:      disc,
			DiscriminatorWidth: width,
			Accounts:           accounts,
			Args:               args,
		})
	}
	return out, nil
}

// parseDiscriminant decodes a Shank/Codama discriminant object into its
// little-endian byte encoding at the declared width. Only widths 1, 2,
// and 4 are accepted; anything else is rejected per §4.1.
func parseDiscriminant(node any) ([]byte, int, error) {
	m, ok := node.(map[string]any)
	if !ok {
		return nil, 0, newInvalidIDL("missing discriminant")
	}
	typ, _ := m["type"].(string)
	value, _ := m["value"].(float64)

	var width int
	switch typ {
	case "u8":
		width = 1
	case "u16":
		width = 2
	case "u32":
		width = 4
	default:
		return nil, 0, newInvalidIDL("unsupported discriminant width %q", typ)
	}

	n := uint32(value)
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		out[i] = byte(n >> (8 * i))
	}
	return out, width, nil
}

func flattenFlatAccounts(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, ra := range raw {
		m, ok := ra.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := m["name"].(string); ok {
			out = append(out, SnakeCase(name))
		}
	}
	return out
}
