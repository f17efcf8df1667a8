package idl

// parseCodama normalizes a Codama (formerly Kinobi) IDL document.
// Codama documents may nest the instruction/account/type lists under a
// top-level "program" object; discriminants follow the same
// {"type","value"} shape as Shank and are encoded LE at their declared
// width (1/2/4 bytes). Like Shank, Codama IDLs carry no Anchor self-CPI
// events.
func parseCodama(doc map[string]any) (*ProgramDescriptor, error) {
	root := doc
	if prog, ok := doc["program"].(map[string]any); ok {
		root = prog
	}

	programID, _ := root["address"].(string)
	if programID == "" {
		programID, _ = doc["address"].(string)
	}
	name := programNameFrom(root)
	if name == "" {
		name = programNameFrom(doc)
	}
	if name == "" {
		return nil, newInvalidIDL("codama IDL missing metadata.name/name")
	}

	reg := buildTypeRegistry(asSlice(root["types"]))

	instrs, err := parseShankInstructions(asSlice(root["instructions"]), reg)
	if err != nil {
		return nil, err
	}

	accounts := parseAccountTypes(asSlice(root["accounts"]), reg)

	return &ProgramDescriptor{
		ProgramID:    programID,
		ProgramName:  SnakeCase(name),
		Dialect:      DialectCodama,
		Events:       nil,
		Instructions: instrs,
		Accounts:     accounts,
	}, nil
}
