package idl

// parseAnchor normalizes an Anchor IDL document into a ProgramDescriptor.
// Anchor instructions declare their accounts either as a flat list or as
// nested groups ({name, accounts:[...]}); nested groups are flattened
// depth-first into a positional list per §4.1.
func parseAnchor(doc map[string]any) (*ProgramDescriptor, error) {
	programID, _ := doc["address"].(string)
	name := programNameFrom(doc)
	if name == "" {
		return nil, newInvalidIDL("anchor IDL missing metadata.name/name")
	}

	reg := buildTypeRegistry(asSlice(doc["types"]))

	events, err := parseAnchorEvents(asSlice(doc["events"]), reg)
	if err != nil {
		return nil, err
	}

	instrs, err := parseAnchorInstructions(asSlice(doc["instructions"]), reg)
	if err != nil {
		return nil, err
	}

	accounts := parseAccountTypes(asSlice(doc["accounts"]), reg)

	return &ProgramDescriptor{
		ProgramID:    programID,
		ProgramName:  SnakeCase(name),
		Dialect:      DialectAnchor,
		Events:       events,
		Instructions: instrs,
		Accounts:     accounts,
	}, nil
}

func programNameFrom(doc map[string]any) string {
	if meta, ok := doc["metadata"].(map[string]any); ok {
		if n, ok := meta["name"].(string); ok && n != "" {
			return n
		}
	}
	if n, ok := doc["name"].(string); ok {
		return n
	}
	return ""
}

func parseAnchorEvents(raw []any, reg *typeRegistry) ([]EventDescriptor, error) {
	out := make([]EventDescriptor, 0, len(raw))
	for _, re := range raw {
		m, ok := re.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			return nil, newInvalidIDL("event missing name")
		}

		// Fields may be declared inline, or linked via the top-level
		// types[] map keyed by the event's own name (post-0.30 Anchor).
		rawFields, _ := m["fields"].([]any)
		if len(rawFields) == 0 {
			rawFields = reg.fieldsOf(name)
		}
		fields, err := parseFieldList(rawFields, reg)
		if err != nil {
			return nil, err
		}

		disc := eventDiscriminatorFor(m, name)

		out = append(out, EventDescriptor{
			Name:          name,
			Discriminator: disc,
			Fields:        fields,
		})
	}
	return out, nil
}

func eventDiscriminatorFor(m map[string]any, name string) [8]byte {
	if raw, ok := m["discriminator"].([]any); ok && len(raw) == 8 {
		var out [8]byte
		for i, v := range raw {
			if f, ok := v.(float64); ok {
				out[i] = byte(f)
			}
		}
		return out
	}
	return EventDiscriminator(name)
}

func parseAnchorInstructions(raw []any, reg *typeRegistry) ([]InstructionDescriptor, error) {
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

		accounts := flattenAnchorAccounts(asSlice(m["accounts"]))

		disc, width := instructionDiscriminatorFor(m, name)

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

func instructionDiscriminatorFor(m map[string]any, name string) ([]byte, int) {
	if raw, ok := m["discriminator"].([]any); ok && len(raw) > 0 {
		out := make([]byte, len(raw))
		for i, v := range raw {
			if f, ok := v.(float64); ok {
				out[i] = byte(f)
			}
		}
		return out, len(out)
	}
	disc := InstructionDiscriminator(name)
	return disc[:], 8
}

// flattenAnchorAccounts depth-first flattens Anchor's nested account
// groups ({name, accounts:[...]}) into a positional list of names.
func flattenAnchorAccounts(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, ra := range raw {
		m, ok := ra.(map[string]any)
		if !ok {
			continue
		}
		if nested, ok := m["accounts"].([]any); ok {
			out = append(out, flattenAnchorAccounts(nested)...)
			continue
		}
		if name, ok := m["name"].(string); ok {
			out = append(out, SnakeCase(name))
		}
	}
	return out
}

func parseAccountTypes(raw []any, reg *typeRegistry) []AccountDescriptor {
	out := make([]AccountDescriptor, 0, len(raw))
	for _, ra := range raw {
		m, ok := ra.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		rawFields, _ := m["fields"].([]any)
		if len(rawFields) == 0 {
			rawFields = reg.fieldsOf(name)
		}
		fields, err := parseFieldList(rawFields, reg)
		if err != nil {
			continue
		}
		out = append(out, AccountDescriptor{Name: SnakeCase(name), Fields: fields})
	}
	return out
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
