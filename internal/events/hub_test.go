// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(8, EventCompileProgress)

	hub.Publish(Event{Type: EventCompileProgress, Source: "compiler"})

	select {
	case e := <-ch:
		if e.Type != EventCompileProgress {
			t.Errorf("unexpected type %s", e.Type)
		}
		if e.Timestamp.IsZero() {
			t.Error("timestamp not stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestTypeFiltering(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(8, EventRepairNotice)

	hub.Publish(Event{Type: EventCompileProgress})

	select {
	case <-ch:
		t.Fatal("subscriber received event of another type")
	default:
	}
}

func TestGlobalSubscription(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(8)

	hub.Publish(Event{Type: EventCompileProgress})
	hub.Publish(Event{Type: EventRepairNotice})

	if len(ch) != 2 {
		t.Errorf("global subscriber expected 2 events, got %d", len(ch))
	}
}

func TestNonBlockingDrop(t *testing.T) {
	hub := NewHub()
	hub.Subscribe(1, EventCompileProgress)

	// Second publish overflows the buffer; must not block.
	hub.Publish(Event{Type: EventCompileProgress})
	hub.Publish(Event{Type: EventCompileProgress})

	_, dropped := hub.Stats()
	if dropped != 1 {
		t.Errorf("expected 1 dropped event, got %d", dropped)
	}
}

func TestUnsubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(8, EventCompileProgress)
	hub.Unsubscribe(ch)

	hub.Publish(Event{Type: EventCompileProgress})
	if len(ch) != 0 {
		t.Error("unsubscribed channel still receives events")
	}
}

func TestNilChannelSink(t *testing.T) {
	var c *Channel
	// Must not panic.
	c.Progress(1, "rule", false)
	c.Notice("notice")
}

func TestCompileChannelPayload(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(8, EventCompileProgress)

	NewCompileChannel(hub, "job-1").Progress(42, "Rule 1 (ID: 42)", true)

	e := <-ch
	p, ok := e.Data.(ProgressPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", e.Data)
	}
	if p.ID != 42 || !p.Disabled {
		t.Errorf("unexpected payload: %+v", p)
	}
	if e.JobID != "job-1" {
		t.Errorf("job id not carried: %s", e.JobID)
	}
}
