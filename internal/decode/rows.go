// Package decode implements the three cooperating decoders that turn a
// parsed Solana transaction plus a ProgramDescriptor into rows: the
// Anchor event decoder, the instruction decoder, and the cross-cutting
// token-movement decoder. All three are pure functions of
// (descriptor, transaction) and are safe to parallelize per transaction.
package decode

import "time"

// RowKind tags which variant a Row holds — the tagged-variant shape
// called for in the design notes (polymorphism without inheritance).
type RowKind string

const (
	RowEvent         RowKind = "event"
	RowInstruction   RowKind = "instruction"
	RowTokenTransfer RowKind = "token_transfer"
	RowBalanceDelta  RowKind = "balance_delta"
)

// Row is a tagged union of the four decoded row shapes; exactly one of
// the pointer fields is non-nil, selected by Kind.
type Row struct {
	Kind          RowKind
	Event         *DecodedEvent
	Instruction   *DecodedInstruction
	TokenTransfer *DecodedTokenTransfer
	BalanceDelta  *DecodedBalanceDelta
}

// DecodedEvent is one Anchor event extracted from a "Program data:" log
// line.
type DecodedEvent struct {
	EventName    string
	ProgramID    string
	Slot         uint64
	BlockTime    *time.Time
	TxSignature  string
	IxIndex      int
	InnerIxIndex *int
	Data         map[string]any
}

// DecodedInstruction is one instruction invocation matched against the
// descriptor's instruction set.
type DecodedInstruction struct {
	InstructionName string
	ProgramID       string
	Slot            uint64
	BlockTime       *time.Time
	TxSignature     string
	IxIndex         int
	InnerIxIndex    *int
	Accounts        map[string]string
	Args            map[string]any
}

// DecodedTokenTransfer is one normalized SPL-Token/Token-2022 movement.
type DecodedTokenTransfer struct {
	InstructionType string
	Source          string
	Destination     string
	Authority       string
	Mint            *string
	Amount          string // decimal string, arbitrary precision
	Decimals        *int
	Slot            uint64
	BlockTime       *time.Time
	TxSignature     string
	IxIndex         int
	InnerIxIndex    *int
}

// DecodedBalanceDelta is one (accountIndex, mint) pair whose pre/post
// token balance differs.
type DecodedBalanceDelta struct {
	AccountIndex int
	Account      string
	Mint         *string
	Owner        *string
	PreAmount    string
	PostAmount   string
	Delta        string // signed decimal string
	Slot         uint64
	BlockTime    *time.Time
	TxSignature  string
}

// SkipCounters accumulates non-fatal decode skips for observability;
// every decoder takes one by pointer and increments it rather than
// returning an error for a benign mismatch.
type SkipCounters struct {
	DiscriminatorMismatch int
	IDLDrift              int
	UnknownColumn         int
	InsufficientAccounts  int
}
