package idl

import "encoding/json"

// Parse detects the dialect of a raw IDL document and normalizes it into
// a canonical ProgramDescriptor. Returns an error tagged INVALID_IDL
// when required fields are absent or malformed.
func Parse(raw []byte) (*ProgramDescriptor, error) {
	dialect, err := Detect(raw)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, newInvalidIDL("malformed JSON: %v", err)
	}

	var desc *ProgramDescriptor
	switch dialect {
	case DialectCodama:
		desc, err = parseCodama(doc)
	case DialectShank:
		desc, err = parseShank(doc)
	default:
		desc, err = parseAnchor(doc)
	}
	if err != nil {
		return nil, err
	}

	if !ValidProgramName(desc.ProgramName) {
		return nil, newInvalidIDL("program name %q violates naming invariant", desc.ProgramName)
	}
	if desc.ProgramID == "" {
		return nil, newInvalidIDL("program id is required")
	}

	return desc, nil
}
