package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: TypeSessionUpdated, Data: "s1"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeSessionUpdated || e.Data != "s1" {
				t.Fatalf("subscriber %d got %+v", i, e)
			}
			if e.Time.IsZero() {
				t.Fatalf("subscriber %d: Time not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received", i)
		}
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		// Nobody drains; extra events must be dropped, not queued.
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypeCampaignProgress, Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	unsub()
	unsub() // idempotent

	// Closed channel: a racing publish must not panic.
	b.Publish(Event{Type: TypeMessageReceived})

	if _, open := <-ch; open {
		t.Fatalf("channel still open after unsubscribe")
	}
}
