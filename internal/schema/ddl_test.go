package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uho-indexer/uho/internal/idl"
)

func sampleDescriptor() *idl.ProgramDescriptor {
	return &idl.ProgramDescriptor{
		ProgramID:   "11111111111111111111111111111111",
		ProgramName: "swap_program",
		Dialect:     idl.DialectAnchor,
		Events: []idl.EventDescriptor{
			{
				Name:          "SwapEvent",
				Discriminator: idl.EventDiscriminator("SwapEvent"),
				Fields: []idl.FieldDescriptor{
					{Name: "amount", WireType: idl.WireU64, SQLType: idl.SQLBigInt},
					{Name: "trader", WireType: idl.WirePubkey, SQLType: idl.SQLText},
				},
			},
		},
		Instructions: []idl.InstructionDescriptor{
			{
				Name:               "swap",
				DiscriminatorWidth: 8,
				Accounts:           []string{"authority", "pool"},
				Args: []idl.FieldDescriptor{
					{Name: "amount_in", WireType: idl.WireU64, SQLType: idl.SQLBigInt},
				},
			},
		},
	}
}

func TestDDLEmitsEnabledTablesOnly(t *testing.T) {
	desc := sampleDescriptor()
	enablement := []Enablement{
		{Name: "SwapEvent", Type: EnablementEvent, Enabled: true},
	}
	stmts, err := DDL(desc, enablement, FeatureFlags{})
	require.NoError(t, err)

	joined := strings.Join(stmts, "\n")
	assert.Contains(t, joined, `"swap_program_swap_event"`)
	assert.Contains(t, joined, `"_uho_state"`)
	assert.Contains(t, joined, `"_tx_logs"`)
	assert.NotContains(t, joined, `"swap_program_swap_ix"`)
	assert.NotContains(t, joined, "_cpi_transfers")
}

func TestDDLFeatureFlags(t *testing.T) {
	desc := sampleDescriptor()
	stmts, err := DDL(desc, nil, FeatureFlags{CPITransfers: true, BalanceDeltas: true})
	require.NoError(t, err)
	joined := strings.Join(stmts, "\n")
	assert.Contains(t, joined, `"_cpi_transfers"`)
	assert.Contains(t, joined, `"_token_balance_changes"`)
}

func TestCompileViewRejectsUnknownField(t *testing.T) {
	desc := sampleDescriptor()
	_, err := CompileView(desc, View{
		Name:   "swap_volume",
		Source: "SwapEvent",
		Select: []SelectExpr{{Aggregate: AggSum, Field: "nonexistent"}},
	})
	require.Error(t, err)
}

func TestCompileViewEmitsAggregates(t *testing.T) {
	desc := sampleDescriptor()
	stmt, err := CompileView(desc, View{
		Name:    "swap_volume_by_trader",
		Source:  "SwapEvent",
		GroupBy: []string{"trader"},
		Select: []SelectExpr{
			{Field: "trader"},
			{Aggregate: AggSum, Field: "amount", Alias: "total_amount"},
			{Aggregate: AggCount, Field: "amount", Alias: "n"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, stmt, "CREATE MATERIALIZED VIEW IF NOT EXISTS")
	assert.Contains(t, stmt, "SUM(")
	assert.Contains(t, stmt, "COUNT(")
	assert.Contains(t, stmt, "GROUP BY")
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("swap_program_swap_event"))
	assert.False(t, ValidIdentifier("swap; DROP TABLE users;"))
	assert.False(t, ValidIdentifier(""))
}
