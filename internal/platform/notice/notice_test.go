package notice

import (
	"bytes"
	"strings"
	"testing"

	"github.com/medibridge/clinic/internal/platform/events"
)

func TestCollector_CollectsBusNotices(t *testing.T) {
	bus := events.NewBus()
	c := NewCollector(bus)
	defer c.Close()

	bus.Publish(events.Notice{Level: events.LevelError, Message: "Network error. Please check your connection."})
	c.Success("Patient created successfully")

	got := c.List()
	if len(got) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(got))
	}
	if got[0].Level != events.LevelError || got[1].Level != events.LevelSuccess {
		t.Errorf("unexpected order %#v", got)
	}
}

func TestCollector_CollapsesRepeats(t *testing.T) {
	c := NewCollector(nil)
	c.Error("Your session has expired. Please log in again.")
	c.Error("Your session has expired. Please log in again.")
	c.Info("")

	if n := len(c.List()); n != 1 {
		t.Errorf("expected 1 notice, got %d", n)
	}
}

func TestCollector_Drain(t *testing.T) {
	c := NewCollector(nil)
	c.Info("hello")

	if got := c.Drain(); len(got) != 1 {
		t.Fatalf("expected 1 drained notice, got %d", len(got))
	}
	if got := c.Drain(); len(got) != 0 {
		t.Errorf("expected empty collector after drain, got %d", len(got))
	}
}

func TestFlash_RoundTrip(t *testing.T) {
	in := []Notice{
		{Level: events.LevelSuccess, Message: "Patient updated successfully"},
		{Level: events.LevelError, Message: "Email already exists"},
	}
	value, err := EncodeFlash(in)
	if err != nil {
		t.Fatalf("EncodeFlash: %v", err)
	}
	if strings.ContainsAny(value, " ;,\"") {
		t.Errorf("flash value is not cookie safe: %q", value)
	}
	out := DecodeFlash(value)
	if len(out) != 2 || out[1].Message != "Email already exists" {
		t.Errorf("unexpected decode %#v", out)
	}
}

func TestFlash_KeepsLastNotices(t *testing.T) {
	var in []Notice
	for i := 0; i < maxFlash+3; i++ {
		in = append(in, Notice{Level: events.LevelInfo, Message: string(rune('a' + i))})
	}
	value, _ := EncodeFlash(in)
	out := DecodeFlash(value)
	if len(out) != maxFlash || out[len(out)-1].Message != in[len(in)-1].Message {
		t.Errorf("expected the last %d notices, got %#v", maxFlash, out)
	}
}

func TestFlash_Garbage(t *testing.T) {
	if DecodeFlash("%%%") != nil || DecodeFlash("") != nil {
		t.Error("expected garbage to decode to nothing")
	}
	if v, _ := EncodeFlash(nil); v != "" {
		t.Errorf("expected empty value for no notices, got %q", v)
	}
}

func TestWriteTo(t *testing.T) {
	bus := events.NewBus()
	var buf bytes.Buffer
	unsub := WriteTo(bus, &buf)

	bus.Publish(events.Notice{Level: events.LevelError, Message: "You do not have permission to access this resource"})
	unsub()
	bus.Publish(events.Notice{Level: events.LevelError, Message: "ignored"})

	if got := buf.String(); got != "error: You do not have permission to access this resource\n" {
		t.Errorf("unexpected output %q", got)
	}
}
