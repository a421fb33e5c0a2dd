package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("server.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindServerBatch, Timestamp: time.Now(), Payload: "batch"})

	select {
	case evt := <-ch:
		if evt.Kind != KindServerBatch {
			t.Errorf("got kind %q, want %s", evt.Kind, KindServerBatch)
		}
		if evt.Payload != "batch" {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSyncConnected})
	b.Publish(Event{Kind: KindMessageSendAck})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageSendAck {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMessageSendAck)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The sync event must not have been delivered to a message subscriber.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyNamespaceReceivesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish(Event{Kind: KindServerMessage})
	b.Publish(Event{Kind: KindMessageQueued})

	for _, want := range []string{KindServerMessage, KindMessageQueued} {
		select {
		case evt := <-ch:
			if evt.Kind != want {
				t.Errorf("got kind %q, want %s", evt.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Publish(Event{Kind: KindSessionStatusChanged})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("server.", 1)
	defer unsub()

	b.Publish(Event{Kind: KindServerMessage})
	// Buffer is full, so this one is dropped instead of blocking.
	b.Publish(Event{Kind: KindServerBatch})

	evt := <-ch
	if evt.Kind != KindServerMessage {
		t.Errorf("got %q, want %s", evt.Kind, KindServerMessage)
	}

	select {
	case evt := <-ch:
		t.Errorf("dropped event was delivered: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
