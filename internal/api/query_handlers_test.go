package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventFilterDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/events?mint=So111&slotFrom=100&limit=50", nil)
	filter, err := parseEventFilter(r)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), *filter.SlotFrom)
	assert.Equal(t, 50, filter.Limit)
	assert.Equal(t, "So111", filter.Equals["mint"])
}

func TestParseEventFilterRejectsBadLimit(t *testing.T) {
	r := httptest.NewRequest("GET", "/events?limit=5000", nil)
	_, err := parseEventFilter(r)
	assert.Error(t, err)
}

func TestParseEventFilterRejectsBadSlot(t *testing.T) {
	r := httptest.NewRequest("GET", "/events?slotFrom=not-a-number", nil)
	_, err := parseEventFilter(r)
	assert.Error(t, err)
}

func TestParseEventFilterExcludesReservedParamsFromEquals(t *testing.T) {
	r := httptest.NewRequest("GET", "/events?orderBy=slot&direction=desc&offset=10", nil)
	filter, err := parseEventFilter(r)
	require.NoError(t, err)
	assert.Empty(t, filter.Equals)
	assert.Equal(t, "slot", filter.OrderBy)
	assert.Equal(t, 10, filter.Offset)
}
