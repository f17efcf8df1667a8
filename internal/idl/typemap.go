package idl

// sqlTypeFor maps a wire type to its canonical SQL type and nullability,
// per the §3 wire-to-SQL table. option<T> defers to the inner type's
// SQL type and forces nullable=true; vec/array/defined/unknown always
// land on JSONB.
func sqlTypeFor(wt WireType, inner *FieldDescriptor) (SQLType, bool) {
	switch wt {
	case WireU8, WireU16, WireU32, WireI8, WireI16, WireI32:
		return SQLInteger, false
	case WireU64, WireI64:
		return SQLBigInt, false
	case WireU128, WireI128:
		return SQLNumeric39, false
	case WireF32, WireF64:
		return SQLDoublePrecision, false
	case WireBool:
		return SQLBoolean, false
	case WireString, WirePubkey:
		return SQLText, false
	case WireBytes:
		return SQLBytea, false
	case WireOption:
		if inner != nil {
			return inner.SQLType, true
		}
		return SQLJSONB, true
	case WireVec, WireArray, WireDefined:
		return SQLJSONB, false
	default:
		return SQLJSONB, false
	}
}

// parseWireType resolves a raw IDL type node (a bare string like "u64",
// or an object like {"option":"u64"}, {"vec":"u8"}, {"array":["u8",32]},
// {"defined":"MyStruct"}) into a FieldDescriptor's type fields. A
// "defined" reference is resolved against reg when possible so the
// decoder layer still knows how many bytes the nested struct consumes;
// an unresolved reference collapses to JSONB per §9 design notes and the
// decoder then treats the remainder of the payload as opaque.
func parseWireType(node any, reg *typeRegistry, depth int) (WireType, *FieldDescriptor, string, int, []FieldDescriptor) {
	const maxDepth = 16
	if depth > maxDepth {
		return WireUnknown, nil, "", 0, nil
	}
	switch v := node.(type) {
	case string:
		return primitiveWireType(v), nil, "", 0, nil
	case map[string]any:
		if optT, ok := v["option"]; ok {
			wt, in, defn, alen, defFields := parseWireType(optT, reg, depth+1)
			sub := &FieldDescriptor{WireType: wt, Inner: in, Defined: defn, ArrayLen: alen, DefinedFields: defFields}
			sub.SQLType, _ = sqlTypeFor(wt, in)
			return WireOption, sub, "", 0, nil
		}
		if vecT, ok := v["vec"]; ok {
			wt, in, defn, alen, defFields := parseWireType(vecT, reg, depth+1)
			sub := &FieldDescriptor{WireType: wt, Inner: in, Defined: defn, ArrayLen: alen, DefinedFields: defFields}
			return WireVec, sub, "", 0, nil
		}
		if arrT, ok := v["array"].([]any); ok && len(arrT) == 2 {
			wt, in, defn, _, defFields := parseWireType(arrT[0], reg, depth+1)
			n := 0
			if f, ok := arrT[1].(float64); ok {
				n = int(f)
			}
			sub := &FieldDescriptor{WireType: wt, Inner: in, Defined: defn, DefinedFields: defFields}
			return WireArray, sub, "", n, nil
		}
		if defT, ok := v["defined"]; ok {
			name := ""
			switch d := defT.(type) {
			case string:
				name = d
			case map[string]any:
				if n, ok := d["name"].(string); ok {
					name = n
				}
			}
			var defFields []FieldDescriptor
			if reg != nil && name != "" {
				if raw := reg.fieldsOf(name); raw != nil {
					// Hide name while expanding it, so a self-reference
					// resolves as unresolved instead of recursing forever.
					node := reg.nodes[name]
					delete(reg.nodes, name)
					if fields, err := parseFieldList(raw, reg); err == nil {
						defFields = fields
					}
					reg.nodes[name] = node
				}
			}
			return WireDefined, nil, name, 0, defFields
		}
	}
	return WireUnknown, nil, "", 0, nil
}

func primitiveWireType(s string) WireType {
	switch s {
	case "u8":
		return WireU8
	case "u16":
		return WireU16
	case "u32":
		return WireU32
	case "u64":
		return WireU64
	case "i8":
		return WireI8
	case "i16":
		return WireI16
	case "i32":
		return WireI32
	case "i64":
		return WireI64
	case "u128":
		return WireU128
	case "i128":
		return WireI128
	case "f32":
		return WireF32
	case "f64":
		return WireF64
	case "bool":
		return WireBool
	case "string":
		return WireString
	case "pubkey", "publicKey":
		return WirePubkey
	case "bytes":
		return WireBytes
	default:
		return WireUnknown
	}
}
