package schema

import "github.com/uho-indexer/uho/internal/idl"

// FilterDescriptor narrows descriptor to only the events and
// instructions enablement marks enabled, mirroring the table set DDL
// actually created. The decoders and Writer must operate on this
// filtered view rather than the raw parsed descriptor — decoding a
// disabled event would produce a row with nowhere to land, since DDL
// never created its table.
func FilterDescriptor(descriptor *idl.ProgramDescriptor, enablement []Enablement) *idl.ProgramDescriptor {
	enabledEvents := enabledNames(enablement, EnablementEvent)
	enabledInstrs := enabledNames(enablement, EnablementInstruction)

	out := &idl.ProgramDescriptor{
		ProgramID:   descriptor.ProgramID,
		ProgramName: descriptor.ProgramName,
		Dialect:     descriptor.Dialect,
		Accounts:    descriptor.Accounts,
	}
	for _, ev := range descriptor.Events {
		if enabledEvents[ev.Name] {
			out.Events = append(out.Events, ev)
		}
	}
	for _, ix := range descriptor.Instructions {
		if enabledInstrs[ix.Name] {
			out.Instructions = append(out.Instructions, ix)
		}
	}
	return out
}
