package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildEventWhereEmpty(t *testing.T) {
	where, args := buildEventWhere(EventFilter{})
	assert.Equal(t, "", where)
	assert.Empty(t, args)
}

func TestBuildEventWhereSlotRangeAndEquals(t *testing.T) {
	slotFrom := uint64(100)
	slotTo := uint64(200)
	where, args := buildEventWhere(EventFilter{
		SlotFrom: &slotFrom,
		SlotTo:   &slotTo,
		Equals:   map[string]any{"mint": "So111..."},
	})
	assert.Contains(t, where, "slot >= $1")
	assert.Contains(t, where, "slot <= $2")
	assert.Contains(t, where, `"mint" = $3`)
	assert.Equal(t, []any{slotFrom, slotTo, "So111..."}, args)
}

func TestBuildEventWhereRejectsInvalidColumn(t *testing.T) {
	where, args := buildEventWhere(EventFilter{
		Equals: map[string]any{"bad;column": "x"},
	})
	assert.Equal(t, "", where)
	assert.Empty(t, args)
}

func TestBuildEventWhereTimeRange(t *testing.T) {
	from := time.Unix(1000, 0)
	where, args := buildEventWhere(EventFilter{From: &from})
	assert.Contains(t, where, "block_time >= $1")
	assert.Equal(t, []any{from}, args)
}
