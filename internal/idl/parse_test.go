package idl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const anchorIDL = `{
	"address": "11111111111111111111111111111111",
	"metadata": {"name": "swap_program", "origin": "anchor"},
	"instructions": [
		{
			"name": "swap",
			"accounts": [
				{"name": "authority"},
				{"name": "pool"}
			],
			"args": [
				{"name": "amountIn", "type": "u64"},
				{"name": "minOut", "type": "u64"}
			]
		}
	],
	"events": [
		{
			"name": "SwapEvent",
			"fields": [
				{"name": "amount", "type": "u64"},
				{"name": "trader", "type": "pubkey"}
			]
		}
	],
	"types": []
}`

const shankIDL = `{
	"address": "11111111111111111111111111111111",
	"metadata": {"name": "vault_program", "origin": "shank"},
	"instructions": [
		{
			"name": "initialize",
			"discriminant": {"type": "u8", "value": 0},
			"accounts": [{"name": "vault"}],
			"args": [{"name": "bump", "type": "u8"}]
		}
	]
}`

func TestDetect(t *testing.T) {
	d, err := Detect([]byte(anchorIDL))
	require.NoError(t, err)
	assert.Equal(t, DialectAnchor, d)

	d, err = Detect([]byte(shankIDL))
	require.NoError(t, err)
	assert.Equal(t, DialectShank, d)
}

func TestParseAnchor(t *testing.T) {
	desc, err := Parse([]byte(anchorIDL))
	require.NoError(t, err)
	assert.Equal(t, "swap_program", desc.ProgramName)
	require.Len(t, desc.Events, 1)
	assert.Equal(t, "SwapEvent", desc.Events[0].Name)
	assert.Equal(t, EventDiscriminator("SwapEvent"), desc.Events[0].Discriminator)
	require.Len(t, desc.Events[0].Fields, 2)
	assert.Equal(t, "trader", desc.Events[0].Fields[1].Name)
	assert.Equal(t, SQLText, desc.Events[0].Fields[1].SQLType)

	require.Len(t, desc.Instructions, 1)
	ix := desc.Instructions[0]
	assert.Equal(t, "swap", ix.Name)
	assert.Equal(t, 8, ix.DiscriminatorWidth)
	wantDisc := InstructionDiscriminator("swap")
	assert.Equal(t, wantDisc[:], ix.Discriminator)
	assert.Equal(t, []string{"authority", "pool"}, ix.Accounts)
}

func TestParseShankDiscriminantWidth(t *testing.T) {
	desc, err := Parse([]byte(shankIDL))
	require.NoError(t, err)
	require.Len(t, desc.Instructions, 1)
	ix := desc.Instructions[0]
	assert.Equal(t, 1, ix.DiscriminatorWidth)
	assert.Equal(t, []byte{0}, ix.Discriminator)
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"amountIn":     "amount_in",
		"SwapEvent":    "swap_event",
		"already_snake": "already_snake",
		"HTTPStatus":   "http_status",
	}
	for in, want := range cases {
		assert.Equal(t, want, SnakeCase(in), "input %q", in)
	}
}

func TestProgramNameValidation(t *testing.T) {
	assert.True(t, ValidProgramName("swap_program"))
	assert.False(t, ValidProgramName("SwapProgram"))
	assert.False(t, ValidProgramName("1swap"))
}
