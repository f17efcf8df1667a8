package idl

import "encoding/json"

// Detect inspects a raw IDL document and classifies it as anchor, shank,
// or codama, per the detection rules:
//  1. metadata.origin ∈ {codama, kinobi} → codama.
//  2. metadata.origin = "shank", or no top-level "address" and the first
//     instruction carries a "discriminant" object → shank.
//  3. otherwise → anchor.
func Detect(raw []byte) (Dialect, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", newInvalidIDL("malformed JSON: %v", err)
	}

	origin := ""
	if meta, ok := doc["metadata"].(map[string]any); ok {
		if o, ok := meta["origin"].(string); ok {
			origin = o
		}
	}

	switch origin {
	case "codama", "kinobi":
		return DialectCodama, nil
	case "shank":
		return DialectShank, nil
	}

	_, hasAddress := doc["address"]
	if !hasAddress {
		if firstHasDiscriminant(doc) {
			return DialectShank, nil
		}
	}

	return DialectAnchor, nil
}

func firstHasDiscriminant(doc map[string]any) bool {
	instrs, ok := doc["instructions"].([]any)
	if !ok || len(instrs) == 0 {
		return false
	}
	first, ok := instrs[0].(map[string]any)
	if !ok {
		return false
	}
	_, hasDiscriminant := first["discriminant"].(map[string]any)
	return hasDiscriminant
}
