package decode

import (
	"encoding/base64"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"

	"github.com/uho-indexer/uho/internal/idl"
	"github.com/uho-indexer/uho/internal/solrpc"
)

const programDataPrefix = "Program data: "

// DecodeEvents extracts Anchor self-CPI events from tx's log messages,
// per §4.3.1: base64-decode each "Program data:" line, match the
// leading 8 bytes against an enabled event discriminator, then
// Borsh-decode the remainder using that event's field layout. Events
// are returned in the order their log lines appear.
func DecodeEvents(descriptor *idl.ProgramDescriptor, tx *solrpc.ParsedTransaction, skips *SkipCounters) []Row {
	if tx == nil || len(tx.LogMessages) == 0 {
		return nil
	}

	entries := scanLogs(tx.LogMessages)
	blockTime := blockTimeOf(tx)

	var rows []Row
	for _, entry := range entries {
		if !strings.HasPrefix(entry.line, programDataPrefix) {
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(entry.line, programDataPrefix))
		if err != nil {
			skips.IDLDrift++
			continue
		}

		ev := descriptor.EventByDiscriminator(payload)
		if ev == nil {
			skips.DiscriminatorMismatch++
			continue
		}

		dec := bin.NewBorshDecoder(payload[8:])
		data, err := decodeFieldList(dec, ev.Fields)
		if err != nil {
			skips.IDLDrift++
			continue
		}

		rows = append(rows, Row{
			Kind: RowEvent,
			Event: &DecodedEvent{
				EventName:    ev.Name,
				ProgramID:    descriptor.ProgramID,
				Slot:         tx.Slot,
				BlockTime:    blockTime,
				TxSignature:  tx.Signature,
				IxIndex:      entry.outerIx,
				InnerIxIndex: entry.innerIx,
				Data:         data,
			},
		})
	}
	return rows
}

func blockTimeOf(tx *solrpc.ParsedTransaction) *time.Time {
	if tx.BlockTime == nil {
		return nil
	}
	t := time.Unix(*tx.BlockTime, 0).UTC()
	return &t
}
