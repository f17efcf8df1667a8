package backfill

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0.0, clampProgress(-0.5))
	assert.Equal(t, 1.0, clampProgress(1.5))
	assert.Equal(t, 0.42, clampProgress(0.42))
}

func u64(v uint64) *uint64 { return &v }

func TestResolveRange(t *testing.T) {
	cases := []struct {
		name          string
		requested     Range
		chainSlot     uint64
		wantStartSlot uint64
		wantEndSlot   uint64
	}{
		{
			// spec.md §8 scenario 4: requested startSlot=0 is clamped up
			// to the demo floor, not rejected.
			name:          "demo clamp from zero",
			requested:     Range{StartSlot: u64(0)},
			chainSlot:     1_000_000,
			wantStartSlot: 990_000,
			wantEndSlot:   1_000_000,
		},
		{
			// spec.md §8's boundary bullet names this exact floor-1
			// input as a DemoLimit failure; Uho resolves the
			// contradiction with scenario 4 by clamping here too (see
			// DESIGN.md's Open Question).
			name:          "one slot below floor still clamps",
			requested:     Range{StartSlot: u64(989_999)},
			chainSlot:     1_000_000,
			wantStartSlot: 990_000,
			wantEndSlot:   1_000_000,
		},
		{
			name:          "requested start above floor is honored",
			requested:     Range{StartSlot: u64(995_000)},
			chainSlot:     1_000_000,
			wantStartSlot: 995_000,
			wantEndSlot:   1_000_000,
		},
		{
			name:          "requested end before chain tip is honored",
			requested:     Range{StartSlot: u64(995_000), EndSlot: u64(997_000)},
			chainSlot:     1_000_000,
			wantStartSlot: 995_000,
			wantEndSlot:   997_000,
		},
		{
			name:          "requested end past chain tip is capped at chainSlot",
			requested:     Range{EndSlot: u64(2_000_000)},
			chainSlot:     1_000_000,
			wantStartSlot: 990_000,
			wantEndSlot:   1_000_000,
		},
		{
			name:          "chain below demo max leaves floor at zero",
			requested:     Range{},
			chainSlot:     500,
			wantStartSlot: 0,
			wantEndSlot:   500,
		},
		{
			name:          "inverted range collapses to endSlot",
			requested:     Range{StartSlot: u64(999_999), EndSlot: u64(995_000)},
			chainSlot:     1_000_000,
			wantStartSlot: 995_000,
			wantEndSlot:   995_000,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			startSlot, endSlot := resolveRange(tc.requested, tc.chainSlot)
			assert.Equal(t, tc.wantStartSlot, startSlot)
			assert.Equal(t, tc.wantEndSlot, endSlot)
		})
	}
}
