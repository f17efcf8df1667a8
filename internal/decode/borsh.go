package decode

import (
	"encoding/binary"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/mr-tron/base58"

	"github.com/uho-indexer/uho/internal/idl"
)

// decodeFieldList Borsh-decodes a sequence of fields in declaration
// order, returning a name→value map keyed by the already-snake_cased
// field names from the descriptor.
func decodeFieldList(dec *bin.Decoder, fields []idl.FieldDescriptor) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, err := decodeField(dec, f)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

// decodeField Borsh-decodes one value per its FieldDescriptor's wire
// type. Vec/array elements and option payloads recurse; a "defined"
// reference whose DefinedFields resolved decodes as a nested map,
// otherwise it is left undecoded (subsequent fields will be misaligned,
// same failure mode as any other IDL-drift case §4.3.2).
func decodeField(dec *bin.Decoder, f idl.FieldDescriptor) (any, error) {
	switch f.WireType {
	case idl.WireU8:
		return dec.ReadUint8()
	case idl.WireI8:
		return dec.ReadInt8()
	case idl.WireU16:
		return dec.ReadUint16(binary.LittleEndian)
	case idl.WireI16:
		return dec.ReadInt16(binary.LittleEndian)
	case idl.WireU32:
		return dec.ReadUint32(binary.LittleEndian)
	case idl.WireI32:
		return dec.ReadInt32(binary.LittleEndian)
	case idl.WireU64:
		v, err := dec.ReadUint64(binary.LittleEndian)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("%d", v), nil
	case idl.WireI64:
		v, err := dec.ReadInt64(binary.LittleEndian)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("%d", v), nil
	case idl.WireU128, idl.WireI128:
		raw, err := dec.ReadNBytes(16)
		if err != nil {
			return nil, err
		}
		return decodeLE128(raw, f.WireType == idl.WireI128), nil
	case idl.WireF32:
		return dec.ReadFloat32(binary.LittleEndian)
	case idl.WireF64:
		return dec.ReadFloat64(binary.LittleEndian)
	case idl.WireBool:
		return dec.ReadBool()
	case idl.WireString:
		return dec.ReadRustString()
	case idl.WirePubkey:
		raw, err := dec.ReadNBytes(32)
		if err != nil {
			return nil, err
		}
		return base58.Encode(raw), nil
	case idl.WireBytes:
		n, err := dec.ReadUint32(binary.LittleEndian)
		if err != nil {
			return nil, err
		}
		return dec.ReadNBytes(int(n))
	case idl.WireOption:
		present, err := dec.ReadBool()
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, nil
		}
		if f.Inner == nil {
			return nil, nil
		}
		return decodeField(dec, *f.Inner)
	case idl.WireVec:
		n, err := dec.ReadUint32(binary.LittleEndian)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, n)
		if f.Inner != nil {
			for i := uint32(0); i < n; i++ {
				v, err := decodeField(dec, *f.Inner)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
		}
		return out, nil
	case idl.WireArray:
		out := make([]any, 0, f.ArrayLen)
		if f.Inner != nil {
			for i := 0; i < f.ArrayLen; i++ {
				v, err := decodeField(dec, *f.Inner)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
		}
		return out, nil
	case idl.WireDefined:
		if f.DefinedFields != nil {
			return decodeFieldList(dec, f.DefinedFields)
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// decodeLE128 renders a 16-byte little-endian integer as a decimal
// string, honoring two's-complement sign for i128.
func decodeLE128(raw []byte, signed bool) string {
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = raw[15-i]
	}
	n := new(big.Int).SetBytes(be)
	if signed && be[0]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	return n.String()
}
