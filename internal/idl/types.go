// Package idl normalizes Anchor, Shank, and Codama IDL dialects into a
// single canonical ProgramDescriptor that the rest of the pipeline
// (schema compiler, decoders) depends on exclusively. Nothing downstream
// ever inspects a raw IDL document again.
package idl

import (
	"bytes"
	"regexp"
)

// Dialect identifies which of the three competing IDL formats a raw
// document was authored in.
type Dialect string

const (
	DialectAnchor Dialect = "anchor"
	DialectShank  Dialect = "shank"
	DialectCodama Dialect = "codama"
)

// WireType is a type tag as it appears in an IDL's type layout, before
// SQL mapping.
type WireType string

const (
	WireU8     WireType = "u8"
	WireU16    WireType = "u16"
	WireU32    WireType = "u32"
	WireU64    WireType = "u64"
	WireI8     WireType = "i8"
	WireI16    WireType = "i16"
	WireI32    WireType = "i32"
	WireI64    WireType = "i64"
	WireU128   WireType = "u128"
	WireI128   WireType = "i128"
	WireF32    WireType = "f32"
	WireF64    WireType = "f64"
	WireBool   WireType = "bool"
	WireString WireType = "string"
	WirePubkey WireType = "pubkey"
	WireBytes  WireType = "bytes"
	WireOption WireType = "option"
	WireVec    WireType = "vec"
	WireArray  WireType = "array"
	WireDefined WireType = "defined"
	WireUnknown WireType = "unknown"
)

// SQLType is the relational column type a FieldDescriptor maps onto, per
// the canonical wire-to-SQL table.
type SQLType string

const (
	SQLInteger          SQLType = "INTEGER"
	SQLBigInt           SQLType = "BIGINT"
	SQLNumeric39        SQLType = "NUMERIC(39,0)"
	SQLDoublePrecision  SQLType = "DOUBLE PRECISION"
	SQLBoolean          SQLType = "BOOLEAN"
	SQLText             SQLType = "TEXT"
	SQLBytea            SQLType = "BYTEA"
	SQLJSONB            SQLType = "JSONB"
)

var programNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidProgramName reports whether name satisfies the ProgramDescriptor
// invariant `/^[a-z][a-z0-9_]{0,62}$/`.
func ValidProgramName(name string) bool {
	return programNamePattern.MatchString(name)
}

// FieldDescriptor describes one struct field of an event, instruction
// argument list, or account type.
type FieldDescriptor struct {
	Name     string
	WireType WireType
	// Inner is the element/wrapped type for option<T>, vec<T>, array<T,N>.
	Inner    *FieldDescriptor
	ArrayLen int
	// Defined names a reference into the IDL's types[] map; resolved by
	// the two-pass cyclic-graph resolution in internal/idl/resolve.go.
	Defined string
	// DefinedFields holds the resolved struct layout of a Defined
	// reference, when it exists in the registry — Borsh decoding still
	// needs the concrete field list to consume the right number of
	// bytes even though the SQL column always collapses to JSONB. An
	// unresolved reference leaves this nil; the decoder then treats the
	// remaining payload as opaque and stops consuming bytes for it.
	DefinedFields []FieldDescriptor
	SQLType       SQLType
	Nullable      bool
}

// EventDescriptor describes one Anchor event variant.
type EventDescriptor struct {
	Name          string
	Discriminator [8]byte
	Fields        []FieldDescriptor
}

// InstructionDescriptor describes one instruction variant, in any
// dialect. DiscriminatorWidth is 1, 2, 4, or 8 bytes; Discriminator
// holds exactly that many leading bytes, little-endian for Shank/Codama.
type InstructionDescriptor struct {
	Name               string
	Discriminator      []byte
	DiscriminatorWidth int
	Accounts           []string
	Args               []FieldDescriptor
}

// AccountDescriptor describes one on-chain account type the program
// defines (not wired into DDL by default, retained for completeness and
// future schema extension).
type AccountDescriptor struct {
	Name   string
	Fields []FieldDescriptor
}

// ProgramDescriptor is the canonical, dialect-independent program
// description every downstream component consumes.
type ProgramDescriptor struct {
	ProgramID    string
	ProgramName  string
	Dialect      Dialect
	Events       []EventDescriptor
	Instructions []InstructionDescriptor
	Accounts     []AccountDescriptor
}

// EventByName returns the event descriptor with the given name, or nil.
func (p *ProgramDescriptor) EventByName(name string) *EventDescriptor {
	for i := range p.Events {
		if p.Events[i].Name == name {
			return &p.Events[i]
		}
	}
	return nil
}

// InstructionByName returns the instruction descriptor with the given
// name, or nil.
func (p *ProgramDescriptor) InstructionByName(name string) *InstructionDescriptor {
	for i := range p.Instructions {
		if p.Instructions[i].Name == name {
			return &p.Instructions[i]
		}
	}
	return nil
}

// EventByDiscriminator finds the event whose discriminator matches the
// leading 8 bytes of data. Returns nil if none match.
func (p *ProgramDescriptor) EventByDiscriminator(data []byte) *EventDescriptor {
	if len(data) < 8 {
		return nil
	}
	for i := range p.Events {
		if bytes.Equal(p.Events[i].Discriminator[:], data[:8]) {
			return &p.Events[i]
		}
	}
	return nil
}

// InstructionByDiscriminator finds the instruction whose discriminator
// matches the leading bytes of data at its declared width. Returns nil
// if none match or data is too short.
func (p *ProgramDescriptor) InstructionByDiscriminator(data []byte) *InstructionDescriptor {
	for i := range p.Instructions {
		w := p.Instructions[i].DiscriminatorWidth
		if len(data) < w {
			continue
		}
		if bytes.Equal(p.Instructions[i].Discriminator, data[:w]) {
			return &p.Instructions[i]
		}
	}
	return nil
}
