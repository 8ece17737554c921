package rudpmap

import (
	"strings"
	"testing"

	"github.com/packetflow/rudp/config"
	"github.com/packetflow/rudp/event"
)

func clock() int64 { return 0 }

func TestGetOrCreateIsLazyAndStable(t *testing.T) {
	m := New(config.Default(), clock, event.Noop)
	c1, err := m.GetOrCreate("10.0.0.1", 9000, 2)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	c2, err := m.GetOrCreate("10.0.0.1", 9000, 2)
	if err != nil {
		t.Fatalf("GetOrCreate second call: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected the same channel instance for the same key")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 channel, got %d", m.Len())
	}
}

func TestDistinctChannelsPerChannelNumber(t *testing.T) {
	m := New(config.Default(), clock, event.Noop)
	m.GetOrCreate("10.0.0.1", 9000, 0)
	m.GetOrCreate("10.0.0.1", 9000, 1)
	if m.Len() != 2 {
		t.Fatalf("expected 2 channels for 2 channel numbers, got %d", m.Len())
	}
}

func TestRemoveDropsEntry(t *testing.T) {
	m := New(config.Default(), clock, event.Noop)
	m.GetOrCreate("10.0.0.1", 9000, 0)
	m.Remove("10.0.0.1", 9000, 0)
	if _, ok := m.Get("10.0.0.1", 9000, 0); ok {
		t.Fatalf("expected entry removed")
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty map, got %d", m.Len())
	}
}

func TestKeyRejectsOverlongAddress(t *testing.T) {
	longAddr := strings.Repeat("a", MaxKeyLength)
	if _, err := Key(longAddr, 1, 0); err == nil {
		t.Fatalf("expected an error for an overlong key")
	}
}

func TestCleanupExpiredRemovesOnlyIdleChannels(t *testing.T) {
	cfg := config.Default()
	cfg.DisconnectTimeoutUS = 1000
	now := int64(0)
	m := New(cfg, func() int64 { return now }, event.Noop)

	m.GetOrCreate("10.0.0.1", 1, 0)
	m.GetOrCreate("10.0.0.2", 1, 0)

	if got := m.CleanupExpired(500); got != 0 {
		t.Fatalf("expected nothing expired yet, got %d", got)
	}
	if got := m.CleanupExpired(2000); got != 2 {
		t.Fatalf("expected both channels expired, got %d", got)
	}
	if m.Len() != 0 {
		t.Fatalf("expected map empty after cleanup, got %d", m.Len())
	}
}

// TestCleanupExpiredEmitsDisconnected covers spec §4.5.8/§7: timing a
// channel out must report a Disconnected event carrying its silence
// age, not just silently drop it from the map.
func TestCleanupExpiredEmitsDisconnected(t *testing.T) {
	cfg := config.Default()
	cfg.DisconnectTimeoutUS = 1000
	now := int64(0)
	var got []event.Event
	sink := func(e event.Event) { got = append(got, e) }
	m := New(cfg, func() int64 { return now }, sink)

	m.GetOrCreate("10.0.0.1", 1, 0)

	if n := m.CleanupExpired(2000); n != 1 {
		t.Fatalf("expected 1 channel expired, got %d", n)
	}

	found := false
	for _, e := range got {
		if e.Kind == event.Disconnected {
			found = true
			if !e.HasAge || e.AgeUS != 2000 {
				t.Fatalf("expected Disconnected with AgeUS=2000, got HasAge=%v AgeUS=%d", e.HasAge, e.AgeUS)
			}
			if e.Channel.Addr != "10.0.0.1" {
				t.Fatalf("expected Disconnected scoped to the expired channel, got %+v", e.Channel)
			}
		}
	}
	if !found {
		t.Fatalf("expected a Disconnected event, got %+v", got)
	}
}
