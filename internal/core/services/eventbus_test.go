package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_PubSub(t *testing.T) {
	bus := testBus(t)
	key := "conv-123"

	ch, unsub := bus.Subscribe(key)
	defer unsub()

	event := Event{
		Key:       key,
		Type:      EventTypeStatus,
		Data:      `{"status":"done"}`,
		Timestamp: time.Now().UnixMilli(),
	}
	bus.Publish(event)

	select {
	case received := <-ch:
		assert.Equal(t, event.Key, received.Key)
		assert.Equal(t, event.Type, received.Type)
		assert.Equal(t, event.Data, received.Data)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_KeysAreIsolated(t *testing.T) {
	bus := testBus(t)

	chA, unsubA := bus.Subscribe("conv-a")
	defer unsubA()
	chB, unsubB := bus.Subscribe("conv-b")
	defer unsubB()

	bus.Publish(Event{Key: "conv-a", Type: EventTypeChunk, Data: "for a"})

	select {
	case evt := <-chA:
		assert.Equal(t, "for a", evt.Data)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case evt := <-chB:
		t.Fatalf("subscriber of conv-b received foreign event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := testBus(t)

	ch, unsub := bus.Subscribe("conv-456")
	unsub()

	bus.Publish(Event{Key: "conv-456", Type: EventTypeStatus, Data: "should not receive"})

	// Unsubscribe closes the channel.
	_, ok := <-ch
	assert.False(t, ok, "channel must be closed after unsubscribe")
}

func TestEventBus_PublishWithoutSubscribers(t *testing.T) {
	bus := testBus(t)
	// Must not panic or block.
	bus.Publish(Event{Key: "nobody-home", Type: EventTypeStatus, Data: "x"})
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := testBus(t)
	key := "conv-multi"

	ch1, unsub1 := bus.Subscribe(key)
	defer unsub1()
	ch2, unsub2 := bus.Subscribe(key)
	defer unsub2()

	bus.Publish(Event{Key: key, Type: EventTypeChunk, Data: "broadcast"})

	timeout := time.After(1 * time.Second)
	got1, got2 := false, false
	for i := 0; i < 2; i++ {
		select {
		case <-ch1:
			got1 = true
		case <-ch2:
			got2 = true
		case <-timeout:
			t.Fatal("timeout")
		}
	}
	assert.True(t, got1)
	assert.True(t, got2)
}

func TestEventBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := testBus(t)
	key := "conv-slow"

	_, unsub := bus.Subscribe(key)
	defer unsub()

	done := make(chan struct{})
	go func() {
		// Exceed the channel buffer without anyone draining it.
		for i := 0; i < 200; i++ {
			bus.Publish(Event{Key: key, Type: EventTypeChunk, Data: fmt.Sprintf("chunk-%d", i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}
