package decode

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uho-indexer/uho/internal/idl"
	"github.com/uho-indexer/uho/internal/solrpc"
)

func TestDecodeBalanceDeltas(t *testing.T) {
	tx := &solrpc.ParsedTransaction{
		Slot:        200,
		Signature:   "tx_S",
		AccountKeys: []string{"a", "b", "c", "acct3", "d", "e", "f", "acct7"},
		PreTokenBalances: []solrpc.TokenBalance{
			{AccountIndex: 3, Mint: "M", Amount: "5000000"},
		},
		PostTokenBalances: []solrpc.TokenBalance{
			{AccountIndex: 3, Mint: "M", Amount: "0"},
			{AccountIndex: 7, Mint: "M", Amount: "5000000"},
		},
	}

	rows := DecodeBalanceDeltas(tx)
	require.Len(t, rows, 2)

	byIdx := map[int]*DecodedBalanceDelta{}
	for _, r := range rows {
		byIdx[r.BalanceDelta.AccountIndex] = r.BalanceDelta
	}
	assert.Equal(t, "-5000000", byIdx[3].Delta)
	assert.Equal(t, "5000000", byIdx[7].Delta)
}

func TestDecodeBalanceDeltasSkipsUnchanged(t *testing.T) {
	tx := &solrpc.ParsedTransaction{
		Slot:      1,
		Signature: "tx_unchanged",
		PreTokenBalances: []solrpc.TokenBalance{
			{AccountIndex: 0, Mint: "M", Amount: "100"},
		},
		PostTokenBalances: []solrpc.TokenBalance{
			{AccountIndex: 0, Mint: "M", Amount: "100"},
		},
	}
	rows := DecodeBalanceDeltas(tx)
	assert.Empty(t, rows)
}

func TestDecodeRawTokenTransfer(t *testing.T) {
	body := make([]byte, 9)
	body[0] = discTransfer
	binary.LittleEndian.PutUint64(body[1:], 1500)

	tx := &solrpc.ParsedTransaction{
		Slot:      10,
		Signature: "tx_raw",
		Instructions: []solrpc.CompiledInstruction{
			{
				ProgramID: TokenProgramID,
				Accounts:  []string{"src", "dst", "authority"},
				Data:      body,
			},
		},
	}

	skips := &SkipCounters{}
	rows := DecodeTokenTransfers(tx, skips)
	require.Len(t, rows, 1)
	tr := rows[0].TokenTransfer
	assert.Equal(t, "transfer", tr.InstructionType)
	assert.Equal(t, "src", tr.Source)
	assert.Equal(t, "dst", tr.Destination)
	assert.Equal(t, "1500", tr.Amount)
}

func TestDecodeEventsDiscriminatorMismatchSkips(t *testing.T) {
	descriptor := &idl.ProgramDescriptor{
		ProgramID:   "P",
		ProgramName: "swap_program",
		Events: []idl.EventDescriptor{
			{Name: "SwapEvent", Discriminator: idl.EventDiscriminator("SwapEvent"), Fields: []idl.FieldDescriptor{
				{Name: "amount", WireType: idl.WireU64},
			}},
		},
	}

	payload := make([]byte, 16)
	copy(payload[:8], []byte{1, 2, 3, 4, 5, 6, 7, 8}) // wrong discriminator
	encoded := base64.StdEncoding.EncodeToString(payload)

	tx := &solrpc.ParsedTransaction{
		Slot:        1,
		Signature:   "tx_X",
		LogMessages: []string{"Program P invoke [1]", "Program data: " + encoded, "Program P success"},
	}

	skips := &SkipCounters{}
	rows := DecodeEvents(descriptor, tx, skips)
	assert.Empty(t, rows)
	assert.Equal(t, 1, skips.DiscriminatorMismatch)
}

func TestScanLogsAssignsOuterIx(t *testing.T) {
	logs := []string{
		"Program A invoke [1]",
		"Program data: AAAA",
		"Program A success",
		"Program B invoke [1]",
		"Program C invoke [2]",
		"Program data: BBBB",
		"Program C success",
		"Program B success",
	}
	entries := scanLogs(logs)
	require.Len(t, entries, 8)
	assert.Equal(t, 0, entries[1].outerIx)
	assert.Nil(t, entries[1].innerIx)
	assert.Equal(t, 1, entries[5].outerIx)
	require.NotNil(t, entries[5].innerIx)
	assert.Equal(t, 0, *entries[5].innerIx)
}
