// Package solrpc wraps gagliardetto/solana-go's JSON-RPC client with the
// timeout/retry/pagination contract the ingestion pipeline depends on:
// getCurrentSlot, paginated getSignaturesForAddress, and
// getParsedTransaction.
package solrpc

// TokenBalance mirrors one entry of a transaction's preTokenBalances or
// postTokenBalances array.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       string // raw integer as a decimal string
	Decimals     *int
}

// CompiledInstruction is one instruction as it appears on a parsed
// transaction: either in "parsed" form ({parsed:{type,info}}) or raw
// form (program id + account pubkeys + base58/base64 data).
type CompiledInstruction struct {
	ProgramID string
	Accounts  []string // account pubkeys, positional
	Data      []byte   // decoded instruction data, raw form only

	// Parsed form, populated when the RPC node returns a "parsed"
	// instruction instead of raw bytes (common for SPL-Token ops).
	ParsedType string
	ParsedInfo map[string]any
}

// InnerInstructionSet groups the inner (CPI) instructions emitted by one
// top-level instruction index.
type InnerInstructionSet struct {
	Index        int
	Instructions []CompiledInstruction
}

// ParsedTransaction is the normalized shape of one getParsedTransaction
// response the decoders and RPC client agree on.
type ParsedTransaction struct {
	Slot      uint64
	BlockTime *int64 // unix seconds, nil if unavailable
	Signature string

	Err               any // non-nil meta.err marks a failed transaction
	LogMessages       []string
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance

	AccountKeys       []string
	Instructions      []CompiledInstruction
	InnerInstructions []InnerInstructionSet
}

// SignatureInfo is one entry of a getSignaturesForAddress response.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	Err       any
	BlockTime *int64
}
