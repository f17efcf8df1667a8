package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uho-indexer/uho/internal/fanout"
)

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitCSV("a, b ,c"))
	assert.Nil(t, splitCSV(""))
	assert.Nil(t, splitCSV("   "))
}

func TestForwardMessagesFiltersByEventSet(t *testing.T) {
	ch := make(chan fanout.Message, 4)
	ch <- fanout.Message{EventName: "swap", ProgramID: "P", Slot: 1}
	ch <- fanout.Message{EventName: "mint", ProgramID: "P", Slot: 2}
	close(ch)

	client := &Client{send: make(chan []byte, 4)}
	forwardMessages(ch, client, map[string]bool{"swap": true})
	close(client.send)

	var got []streamEvent
	for raw := range client.send {
		var ev streamEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "swap", got[0].Event)
	assert.Equal(t, uint64(1), got[0].Slot)
}

func TestForwardMessagesPassesEverythingWithEmptyEventSet(t *testing.T) {
	ch := make(chan fanout.Message, 2)
	ch <- fanout.Message{EventName: "swap", ProgramID: "P", Slot: 1}
	close(ch)

	client := &Client{send: make(chan []byte, 2)}
	forwardMessages(ch, client, nil)
	close(client.send)

	count := 0
	for range client.send {
		count++
	}
	assert.Equal(t, 1, count)
}
