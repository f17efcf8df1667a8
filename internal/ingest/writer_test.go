package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/uho-indexer/uho/internal/decode"
	"github.com/uho-indexer/uho/internal/idl"
	"github.com/uho-indexer/uho/internal/solrpc"
)

func TestBindFieldValueJSONBMarshalsVecs(t *testing.T) {
	f := idl.FieldDescriptor{Name: "amounts", WireType: idl.WireVec, SQLType: idl.SQLJSONB}
	v, err := bindFieldValue(f, []any{"1", "2"})
	assert.NoError(t, err)
	assert.Equal(t, []byte(`["1","2"]`), v)
}

func TestBindFieldValuePassesThroughScalars(t *testing.T) {
	f := idl.FieldDescriptor{Name: "amount", WireType: idl.WireU64, SQLType: idl.SQLBigInt}
	v, err := bindFieldValue(f, "12345")
	assert.NoError(t, err)
	assert.Equal(t, "12345", v)
}

func TestBindFieldValueNilStaysNil(t *testing.T) {
	f := idl.FieldDescriptor{Name: "memo", WireType: idl.WireOption, SQLType: idl.SQLText, Nullable: true}
	v, err := bindFieldValue(f, nil)
	assert.NoError(t, err)
	assert.Nil(t, v)
}

func TestQuoteColsAndPlaceholders(t *testing.T) {
	assert.Equal(t, `"slot", "tx_signature"`, quoteCols([]string{"slot", "tx_signature"}))
	assert.Equal(t, "$1, $2, $3", placeholders(3))
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "abc", nullIfEmpty("abc"))
}

func TestTokenTransferData(t *testing.T) {
	mint := "Mint111"
	decimals := 6
	d := tokenTransferData(&decode.DecodedTokenTransfer{
		InstructionType: "transfer",
		Source:          "src",
		Destination:     "dst",
		Authority:       "auth",
		Amount:          "100",
		Mint:            &mint,
		Decimals:        &decimals,
	})
	assert.Equal(t, "transfer", d["instructionType"])
	assert.Equal(t, "Mint111", d["mint"])
	assert.Equal(t, 6, d["decimals"])
}

func TestBalanceDeltaData(t *testing.T) {
	owner := "Owner111"
	d := balanceDeltaData(&decode.DecodedBalanceDelta{
		Account:    "acct",
		PreAmount:  "10",
		PostAmount: "5",
		Delta:      "-5",
		Owner:      &owner,
	})
	assert.Equal(t, "-5", d["delta"])
	assert.Equal(t, "Owner111", d["owner"])
}

func TestBuildEventRowBindsDeclaredFieldsOnly(t *testing.T) {
	desc := &idl.EventDescriptor{Fields: []idl.FieldDescriptor{
		{Name: "amount", WireType: idl.WireU64, SQLType: idl.SQLBigInt},
	}}
	ev := &decode.DecodedEvent{
		TxSignature: "sigA", IxIndex: 1, Data: map[string]any{"amount": "500", "extra": "dropped"},
	}
	cols, vals, err := buildEventRow(desc, ev)
	assert.NoError(t, err)
	assert.Equal(t, []string{"slot", "block_time", "tx_signature", "ix_index", "inner_ix_index", "amount"}, cols)
	assert.Equal(t, "500", vals[len(vals)-1])
}

func TestBuildInstructionRowBindsArgsAndAccounts(t *testing.T) {
	desc := &idl.InstructionDescriptor{
		Args:     []idl.FieldDescriptor{{Name: "amount", WireType: idl.WireU64, SQLType: idl.SQLBigInt}},
		Accounts: []string{"signer"},
	}
	ix := &decode.DecodedInstruction{
		TxSignature: "sigA", IxIndex: 0,
		Args:     map[string]any{"amount": "10"},
		Accounts: map[string]string{"signer": "Acct111"},
	}
	cols, vals, err := buildInstructionRow(desc, ix)
	assert.NoError(t, err)
	assert.Equal(t, []string{"slot", "block_time", "tx_signature", "ix_index", "amount", "account_signer"}, cols)
	assert.Equal(t, "10", vals[4])
	assert.Equal(t, "Acct111", vals[5])
}

func TestInsertableKeyValuesExtractsKeyColsInOrder(t *testing.T) {
	it := insertable{
		cols:    []string{"slot", "tx_signature", "ix_index", "inner_ix_index"},
		vals:    []any{uint64(5), "sigA", 2, nil},
		keyCols: []string{"tx_signature", "ix_index", "inner_ix_index"},
	}
	assert.Equal(t, []any{"sigA", 2, nil}, it.keyValues())
}

func TestRowKeyDistinguishesNilFromZeroValue(t *testing.T) {
	withNil := rowKey([]any{"sigA", 1, nil})
	withZero := rowKey([]any{"sigA", 1, 0})
	assert.NotEqual(t, withNil, withZero)
	assert.Equal(t, withNil, rowKey([]any{"sigA", 1, nil}))
}

func TestReverseSignatures(t *testing.T) {
	sigs := []solrpc.SignatureInfo{{Signature: "a"}, {Signature: "b"}, {Signature: "c"}}
	reverseSignatures(sigs)
	assert.Equal(t, []string{"c", "b", "a"}, []string{sigs[0].Signature, sigs[1].Signature, sigs[2].Signature})
}
