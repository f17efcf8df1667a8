package fanout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusSubscribeAndPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch, unsubscribe := bus.Subscribe("progA", 10)
	defer unsubscribe()

	bus.Publish(Message{ProgramID: "progA", EventName: "Swap", Slot: 100})

	select {
	case msg := <-ch:
		assert.Equal(t, "Swap", msg.EventName)
		assert.Equal(t, uint64(100), msg.Slot)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestBusTopicIsolation(t *testing.T) {
	bus := New()
	defer bus.Close()

	chA, unsubA := bus.Subscribe("progA", 10)
	defer unsubA()
	chB, unsubB := bus.Subscribe("progB", 10)
	defer unsubB()

	bus.Publish(Message{ProgramID: "progA", EventName: "X"})

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("progA subscriber did not receive message")
	}

	select {
	case <-chB:
		t.Fatal("progB subscriber should not receive progA message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusDropsOnFullBacklog(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch, unsubscribe := bus.Subscribe("progA", 1)
	defer unsubscribe()

	bus.Publish(Message{ProgramID: "progA", Slot: 1})
	bus.Publish(Message{ProgramID: "progA", Slot: 2}) // dropped, backlog full

	msg := <-ch
	assert.Equal(t, uint64(1), msg.Slot)

	select {
	case <-ch:
		t.Fatal("expected no second message; backlog should have dropped it")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusUnsubscribeRemovesFromTopic(t *testing.T) {
	bus := New()
	defer bus.Close()

	_, unsubscribe := bus.Subscribe("progA", 10)
	require.Equal(t, 1, bus.SubscriberCount("progA"))
	unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount("progA"))
}

func TestBusPublishAfterCloseIsNoop(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe("progA", 10)
	defer unsubscribe()
	bus.Close()

	bus.Publish(Message{ProgramID: "progA"})

	select {
	case <-ch:
		t.Fatal("expected no delivery after Close")
	case <-time.After(50 * time.Millisecond):
	}
}
