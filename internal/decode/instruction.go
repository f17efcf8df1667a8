package decode

import (
	"time"

	bin "github.com/gagliardetto/binary"

	"github.com/uho-indexer/uho/internal/idl"
	"github.com/uho-indexer/uho/internal/solrpc"
)

// DecodeInstructions matches every top-level and inner instruction in
// tx against the descriptor's instruction set, per §4.3.2. A payload
// shorter than the declared argument layout (IDL drift) is skipped with
// a counter, never errored.
func DecodeInstructions(descriptor *idl.ProgramDescriptor, tx *solrpc.ParsedTransaction, skips *SkipCounters) []Row {
	if tx == nil {
		return nil
	}
	blockTime := blockTimeOf(tx)

	var rows []Row
	for i, ix := range tx.Instructions {
		if row := decodeOneInstruction(descriptor, tx, ix, i, nil, blockTime, skips); row != nil {
			rows = append(rows, *row)
		}
	}
	for _, set := range tx.InnerInstructions {
		for j, ix := range set.Instructions {
			innerIdx := j
			if row := decodeOneInstruction(descriptor, tx, ix, set.Index, &innerIdx, blockTime, skips); row != nil {
				rows = append(rows, *row)
			}
		}
	}
	return rows
}

func decodeOneInstruction(
	descriptor *idl.ProgramDescriptor,
	tx *solrpc.ParsedTransaction,
	ix solrpc.CompiledInstruction,
	outerIx int,
	innerIx *int,
	blockTime *time.Time,
	skips *SkipCounters,
) *Row {
	if ix.ProgramID != descriptor.ProgramID {
		return nil
	}
	// This decoder operates on raw instruction bytes + a declared
	// argument layout; an RPC node that "parsed" this instruction
	// (common for well-known SPL programs) gives us no raw payload to
	// match a discriminator against.
	if ix.ParsedType != "" || len(ix.Data) == 0 {
		return nil
	}

	instr := descriptor.InstructionByDiscriminator(ix.Data)
	if instr == nil {
		skips.DiscriminatorMismatch++
		return nil
	}

	rest := ix.Data[instr.DiscriminatorWidth:]
	dec := bin.NewBorshDecoder(rest)
	args, err := decodeFieldList(dec, instr.Args)
	if err != nil {
		skips.IDLDrift++
		return nil
	}

	accounts := make(map[string]string, len(instr.Accounts))
	for idx, name := range instr.Accounts {
		if idx < len(ix.Accounts) {
			accounts[name] = ix.Accounts[idx]
		}
	}
	if len(ix.Accounts) < len(instr.Accounts) {
		skips.InsufficientAccounts++
	}

	return &Row{
		Kind: RowInstruction,
		Instruction: &DecodedInstruction{
			InstructionName: instr.Name,
			ProgramID:       descriptor.ProgramID,
			Slot:            tx.Slot,
			BlockTime:       blockTime,
			TxSignature:     tx.Signature,
			IxIndex:         outerIx,
			InnerIxIndex:    innerIx,
			Accounts:        accounts,
			Args:            args,
		},
	}
}
