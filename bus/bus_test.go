// bus_test.go
package bus

import (
	"testing"
	"time"
)

func expectOne(t *testing.T, sub *Subscription, want any) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		if got.Payload != want {
			t.Errorf("expected payload %v, got %v", want, got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for %v", want)
	}
}

func expectNone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Errorf("unexpected message %v on %v", got.Payload, sub.Topic())
	default:
	}
}

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T("presence", "update"))
	conn.Publish(conn.NewMessage(T("presence", "update"), "Busy", false))

	expectOne(t, sub, "Busy")
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T("battery", "status"), 87, true))

	sub := conn.Subscribe(T("battery", "status"))
	expectOne(t, sub, 87)

	// nil payload clears the retained slot
	conn.Publish(conn.NewMessage(T("battery", "status"), nil, true))
	// drain the live delivery of the clear message
	<-sub.Channel()
	late := conn.Subscribe(T("battery", "status"))
	expectNone(t, late)
}

func TestWildcardSingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	s1 := c.Subscribe(T("screen", "+", "request"))
	sNo := c.Subscribe(T("screen", "+", "done"))

	c.Publish(c.NewMessage(T("screen", "status", "request"), "m1", false))
	expectOne(t, s1, "m1")
	expectNone(t, sNo)

	// wrong depth does not match
	c.Publish(c.NewMessage(T("screen", "request"), "m2", false))
	expectNone(t, s1)
}

func TestWildcardMultiLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	sHash := c.Subscribe(T("#"))
	sAppHash := c.Subscribe(T("app", "#"))
	sExact := c.Subscribe(T("app"))

	c.Publish(c.NewMessage(T("app"), "p1", false))
	expectOne(t, sHash, "p1")
	expectOne(t, sAppHash, "p1")
	expectOne(t, sExact, "p1")

	c.Publish(c.NewMessage(T("app", "state"), "p2", false))
	expectOne(t, sHash, "p2")
	expectOne(t, sAppHash, "p2")
	expectNone(t, sExact)
}

func TestRetainedReplayThroughWildcard(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	c.Publish(c.NewMessage(T("button", "primary", "value"), "up", true))
	c.Publish(c.NewMessage(T("button", "secondary", "value"), "down", true))

	sub := c.Subscribe(T("button", "+", "value"))
	got := map[any]bool{}
	for i := 0; i < 2; i++ {
		select {
		case m := <-sub.Channel():
			got[m.Payload] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for retained replay")
		}
	}
	if !got["up"] || !got["down"] {
		t.Errorf("missing retained replay, got %v", got)
	}
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")

	sub := c.Subscribe(T("x"))
	for i := 0; i < 5; i++ {
		c.Publish(c.NewMessage(T("x"), i, false))
	}
	// queue of 2: expect the two newest survive
	expectOne(t, sub, 3)
	expectOne(t, sub, 4)
	expectNone(t, sub)
}

func TestConnectionClose(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("svc")

	sub := c.Subscribe(T("y"))
	c.Close()

	c2 := b.NewConnection("other")
	c2.Publish(c2.NewMessage(T("y"), "gone", false))
	expectNone(t, sub)
}
