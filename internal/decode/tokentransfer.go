package decode

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/uho-indexer/uho/internal/solrpc"
)

// SPL-Token / Token-2022 program ids. Both are matched identically —
// the instruction layouts this decoder cares about are byte-compatible
// between the two.
const (
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

var tokenProgramIDs = map[string]bool{
	TokenProgramID:     true,
	Token2022ProgramID: true,
}

// Raw SPL-Token instruction discriminants this decoder recognizes,
// normalized per §4.3.3: mintToChecked/burnChecked collapse to
// mintTo/burn.
const (
	discTransfer        = 3
	discMintTo          = 7
	discBurn            = 8
	discTransferChecked = 12
	discMintToChecked   = 14
	discBurnChecked     = 15
)

// DecodeTokenTransfers extracts normalized CPI token movements from both
// top-level and inner instructions matching the Token/Token-2022
// program ids, accepting either parsed ({parsed:{type,info}}) or raw
// form.
func DecodeTokenTransfers(tx *solrpc.ParsedTransaction, skips *SkipCounters) []Row {
	if tx == nil {
		return nil
	}
	blockTime := blockTimeOf(tx)

	var rows []Row
	for i, ix := range tx.Instructions {
		if r := decodeOneTokenTransfer(tx, ix, i, nil, blockTime, skips); r != nil {
			rows = append(rows, *r)
		}
	}
	for _, set := range tx.InnerInstructions {
		for j, ix := range set.Instructions {
			innerIdx := j
			if r := decodeOneTokenTransfer(tx, ix, set.Index, &innerIdx, blockTime, skips); r != nil {
				rows = append(rows, *r)
			}
		}
	}
	return rows
}

func decodeOneTokenTransfer(
	tx *solrpc.ParsedTransaction,
	ix solrpc.CompiledInstruction,
	outerIx int,
	innerIx *int,
	blockTime *time.Time,
	skips *SkipCounters,
) *Row {
	if !tokenProgramIDs[ix.ProgramID] {
		return nil
	}

	dt := DecodedTokenTransfer{
		Slot:         tx.Slot,
		BlockTime:    blockTime,
		TxSignature:  tx.Signature,
		IxIndex:      outerIx,
		InnerIxIndex: innerIx,
	}

	var ok bool
	if ix.ParsedType != "" {
		ok = decodeParsedTokenIx(ix, &dt)
	} else {
		ok = decodeRawTokenIx(ix, &dt, skips)
	}
	if !ok {
		return nil
	}
	return &Row{Kind: RowTokenTransfer, TokenTransfer: &dt}
}

// decodeParsedTokenIx handles the {parsed:{type,info}} form an RPC node
// commonly returns for well-known SPL-Token instructions.
func decodeParsedTokenIx(ix solrpc.CompiledInstruction, dt *DecodedTokenTransfer) bool {
	switch ix.ParsedType {
	case "transfer", "transferChecked":
		dt.InstructionType = "transfer"
	case "mintTo", "mintToChecked":
		dt.InstructionType = "mintTo"
	case "burn", "burnChecked":
		dt.InstructionType = "burn"
	default:
		return false
	}

	info := ix.ParsedInfo
	dt.Source = stringField(info, "source")
	dt.Destination = stringField(info, "destination")
	if dt.Destination == "" {
		dt.Destination = stringField(info, "mint") // mintTo has no "destination" key on some nodes
	}
	dt.Authority = stringField(info, "authority")
	if mint := stringField(info, "mint"); mint != "" {
		dt.Mint = &mint
	}

	if amt, ok := info["tokenAmount"].(map[string]any); ok {
		dt.Amount = stringField(amt, "amount")
		if dec, ok := amt["decimals"].(float64); ok {
			d := int(dec)
			dt.Decimals = &d
		}
	} else {
		dt.Amount = stringField(info, "amount")
	}

	return dt.Source != "" || dt.Destination != ""
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// decodeRawTokenIx handles the raw-bytes form: a 1-byte discriminant
// followed by a fixed-layout payload, and positional accounts.
func decodeRawTokenIx(ix solrpc.CompiledInstruction, dt *DecodedTokenTransfer, skips *SkipCounters) bool {
	if len(ix.Data) == 0 {
		return false
	}
	disc := ix.Data[0]
	body := ix.Data[1:]

	switch disc {
	case discTransfer:
		dt.InstructionType = "transfer"
		if len(ix.Accounts) < 3 {
			skips.InsufficientAccounts++
			return false
		}
		dt.Source, dt.Destination, dt.Authority = ix.Accounts[0], ix.Accounts[1], ix.Accounts[2]
		dt.Amount = amountFromLE(body, 0)
	case discTransferChecked:
		dt.InstructionType = "transfer"
		if len(ix.Accounts) < 4 {
			skips.InsufficientAccounts++
			return false
		}
		dt.Source, dt.Destination, dt.Authority = ix.Accounts[0], ix.Accounts[2], ix.Accounts[3]
		mint := ix.Accounts[1]
		dt.Mint = &mint
		dt.Amount = amountFromLE(body, 0)
		if len(body) >= 9 {
			d := int(body[8])
			dt.Decimals = &d
		}
	case discMintTo, discMintToChecked:
		dt.InstructionType = "mintTo"
		if len(ix.Accounts) < 3 {
			skips.InsufficientAccounts++
			return false
		}
		mint := ix.Accounts[0]
		dt.Mint = &mint
		dt.Destination = ix.Accounts[1]
		dt.Authority = ix.Accounts[2]
		dt.Amount = amountFromLE(body, 0)
		if disc == discMintToChecked && len(body) >= 9 {
			d := int(body[8])
			dt.Decimals = &d
		}
	case discBurn, discBurnChecked:
		dt.InstructionType = "burn"
		if len(ix.Accounts) < 3 {
			skips.InsufficientAccounts++
			return false
		}
		dt.Source = ix.Accounts[0]
		mint := ix.Accounts[1]
		dt.Mint = &mint
		dt.Authority = ix.Accounts[2]
		dt.Amount = amountFromLE(body, 0)
		if disc == discBurnChecked && len(body) >= 9 {
			d := int(body[8])
			dt.Decimals = &d
		}
	default:
		return false
	}
	return true
}

func amountFromLE(body []byte, offset int) string {
	if len(body) < offset+8 {
		return "0"
	}
	v := binary.LittleEndian.Uint64(body[offset : offset+8])
	return strconv.FormatUint(v, 10)
}
