package channel

import (
	"testing"

	"github.com/packetflow/rudp/config"
	"github.com/packetflow/rudp/event"
	"github.com/packetflow/rudp/wire"
)

func fixedClock(t int64) Clock {
	return func() int64 { return t }
}

func testKey() event.Key {
	return event.Key{Addr: "127.0.0.1", Port: 9000, Channel: 1}
}

func TestSendDataProducesRetransmittableEntry(t *testing.T) {
	cfg := config.Default()
	now := int64(1_000_000)
	c := New(testKey(), cfg, fixedClock(now), event.Noop)

	buf, err := c.SendData([]byte("hello"))
	if err != nil {
		t.Fatalf("SendData: %v", err)
	}
	p, err := wire.View(buf)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if p.Type() != wire.Data || p.ID() != 0 {
		t.Fatalf("unexpected packet: type=%s id=%d", p.Type(), p.ID())
	}
	if c.SendQueueLen() != 1 {
		t.Fatalf("expected 1 outstanding entry, got %d", c.SendQueueLen())
	}
}

func TestHandleDataInOrderEmitsAndAcks(t *testing.T) {
	cfg := config.Default()
	now := int64(500_000)
	var got []event.Event
	sink := func(e event.Event) { got = append(got, e) }
	c := New(testKey(), cfg, fixedClock(now), sink)

	buf, _ := wire.BuildData(wire.Data, 0, 1, uint32(now), []byte("payload"))
	p, _ := wire.View(buf)

	ack, err := c.Receive(p)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	ackView, err := wire.View(ack)
	if err != nil || ackView.Type() != wire.Ack {
		t.Fatalf("expected ACK reply, got err=%v view=%+v", err, ackView)
	}

	foundData := false
	for _, e := range got {
		if e.Kind == event.GotData && string(e.Payload) == "payload" {
			foundData = true
		}
	}
	if !foundData {
		t.Fatalf("expected a GotData event, got %+v", got)
	}
}

func TestHandleDataOutOfOrderBuffersThenDrains(t *testing.T) {
	cfg := config.Default()
	now := int64(0)
	var delivered []string
	sink := func(e event.Event) {
		if e.Kind == event.GotData {
			delivered = append(delivered, string(e.Payload))
		}
	}
	c := New(testKey(), cfg, fixedClock(now), sink)

	buf1, _ := wire.BuildData(wire.Data, 1, 1, 0, []byte("second"))
	p1, _ := wire.View(buf1)
	if _, err := c.Receive(p1); err != nil {
		t.Fatalf("Receive id1: %v", err)
	}
	if len(delivered) != 0 {
		t.Fatalf("out-of-order packet must not deliver yet, got %v", delivered)
	}

	buf0, _ := wire.BuildData(wire.Data, 0, 1, 0, []byte("first"))
	p0, _ := wire.View(buf0)
	if _, err := c.Receive(p0); err != nil {
		t.Fatalf("Receive id0: %v", err)
	}

	if len(delivered) != 2 || delivered[0] != "first" || delivered[1] != "second" {
		t.Fatalf("expected in-order delivery [first second], got %v", delivered)
	}
}

func TestHandleDataDuplicateIsDropped(t *testing.T) {
	cfg := config.Default()
	c := New(testKey(), cfg, fixedClock(0), event.Noop)

	// Id 0 behind the expected id is a peer reset, not a duplicate, so the
	// duplicate is sent on id 1.
	buf0, _ := wire.BuildData(wire.Data, 0, 1, 0, []byte("w"))
	p0, _ := wire.View(buf0)
	if _, err := c.Receive(p0); err != nil {
		t.Fatalf("receive id 0: %v", err)
	}

	buf, _ := wire.BuildData(wire.Data, 1, 1, 0, []byte("x"))
	p, _ := wire.View(buf)
	if _, err := c.Receive(p); err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if _, err := c.Receive(p); err != nil {
		t.Fatalf("duplicate receive: %v", err)
	}
	if c.DuplicateDrops != 1 {
		t.Fatalf("expected 1 duplicate drop, got %d", c.DuplicateDrops)
	}
}

// TestHandleDataIdZeroResetsChannelMidConversation covers spec §4.5.2
// step 4: a DATA packet carrying id 0 after the channel has already
// advanced past id 0 means the peer restarted its id space, and must
// fold the channel back to a fresh state rather than being dropped as
// a duplicate.
func TestHandleDataIdZeroResetsChannelMidConversation(t *testing.T) {
	cfg := config.Default()
	var got []event.Event
	sink := func(e event.Event) { got = append(got, e) }
	c := New(testKey(), cfg, fixedClock(0), sink)

	for id := uint32(0); id < 3; id++ {
		buf, _ := wire.BuildData(wire.Data, id, 1, 0, []byte("x"))
		p, _ := wire.View(buf)
		if _, err := c.Receive(p); err != nil {
			t.Fatalf("receive id %d: %v", id, err)
		}
	}
	if c.nextExpectedReceiveID != 3 {
		t.Fatalf("setup: expected nextExpectedReceiveID 3, got %d", c.nextExpectedReceiveID)
	}

	buf, _ := wire.BuildData(wire.Data, 0, 1, 0, []byte("restarted"))
	p, _ := wire.View(buf)
	ack, err := c.Receive(p)
	if err != nil {
		t.Fatalf("receive id 0 after restart: %v", err)
	}
	if ack == nil {
		t.Fatalf("expected an ACK reply even for the reset-triggering packet")
	}
	if c.nextExpectedReceiveID != 0 {
		t.Fatalf("expected nextExpectedReceiveID reset to 0, got %d", c.nextExpectedReceiveID)
	}
	if c.DuplicateDrops != 0 {
		t.Fatalf("id-0 restart must not be counted as a duplicate drop, got %d", c.DuplicateDrops)
	}

	foundReset := false
	for _, e := range got {
		if e.Kind == event.GotReset {
			foundReset = true
		}
	}
	if !foundReset {
		t.Fatalf("expected a GotReset event, got %+v", got)
	}
}

// TestHandleDataOutrunCountsDistinctArrivalsNotGap covers spec §3/§4.5.2
// step 3: outrunning_cnt counts consecutive out-of-order arrivals, not
// the size of the id gap, and a repeat arrival of the same out-of-order
// id must not bump the counter again.
func TestHandleDataOutrunCountsDistinctArrivalsNotGap(t *testing.T) {
	cfg := config.Default()
	c := New(testKey(), cfg, fixedClock(0), event.Noop)

	buf, _ := wire.BuildData(wire.Data, 600, 1, 0, []byte("far-ahead"))
	p, _ := wire.View(buf)
	if _, err := c.Receive(p); err != nil {
		t.Fatalf("receive far-ahead packet: %v", err)
	}
	if c.outrunningCnt != 1 {
		t.Fatalf("expected outrunningCnt to increment by 1 regardless of gap size, got %d", c.outrunningCnt)
	}

	if _, err := c.Receive(p); err != nil {
		t.Fatalf("receive duplicate out-of-order packet: %v", err)
	}
	if c.outrunningCnt != 1 {
		t.Fatalf("expected a repeat out-of-order arrival not to bump outrunningCnt again, got %d", c.outrunningCnt)
	}
}

func TestHandleAckRemovesFromSendQueueAndUpdatesRTT(t *testing.T) {
	cfg := config.Default()
	now := int64(0)
	clk := fixedClock(now)
	var got []event.Event
	sink := func(e event.Event) { got = append(got, e) }
	c := New(testKey(), cfg, clk, sink)

	buf, _ := c.SendData([]byte("ping-like"))
	sent, _ := wire.View(buf)

	ack, err := wire.BuildAck(wire.Ack, sent)
	if err != nil {
		t.Fatalf("BuildAck: %v", err)
	}
	ackView, _ := wire.View(ack)

	c.clock = fixedClock(50_000)
	if _, err := c.Receive(ackView); err != nil {
		t.Fatalf("Receive ack: %v", err)
	}
	if c.SendQueueLen() != 0 {
		t.Fatalf("expected send queue drained, got %d", c.SendQueueLen())
	}
	if c.TriptimeMiddle() == initialTriptimeMiddle {
		t.Fatalf("expected triptimeMiddle to move off the sentinel after a sample")
	}

	foundAck := false
	for _, e := range got {
		if e.Kind == event.GotAck {
			foundAck = true
			if !e.HasRTT || e.RTTSampleUS != 50_000 {
				t.Fatalf("expected GotAck to carry a 50000us RTT sample, got HasRTT=%v RTTSampleUS=%d", e.HasRTT, e.RTTSampleUS)
			}
		}
	}
	if !foundAck {
		t.Fatalf("expected a GotAck event, got %+v", got)
	}
}

func TestResetClearsQueuesAndRenumbers(t *testing.T) {
	cfg := config.Default()
	c := New(testKey(), cfg, fixedClock(0), event.Noop)
	c.SendData([]byte("a"))
	c.SendData([]byte("b"))
	if c.SendQueueLen() != 2 {
		t.Fatalf("setup: expected 2 outstanding, got %d", c.SendQueueLen())
	}

	resetBuf, err := wire.BuildReset(99, 1, 0)
	if err != nil {
		t.Fatalf("BuildReset: %v", err)
	}
	p, _ := wire.View(resetBuf)

	ackReset, err := c.Receive(p)
	if err != nil {
		t.Fatalf("Receive reset: %v", err)
	}
	if v, err := wire.View(ackReset); err != nil || v.Type() != wire.AckReset {
		t.Fatalf("expected ACK_RESET reply, got err=%v", err)
	}
	if c.SendQueueLen() != 0 {
		t.Fatalf("expected send queue cleared by reset, got %d", c.SendQueueLen())
	}

	buf, _ := c.SendData([]byte("after-reset"))
	p2, _ := wire.View(buf)
	if p2.ID() != 0 {
		t.Fatalf("expected send id to restart at 0 after reset, got %d", p2.ID())
	}
}

func TestNeedsKeepaliveRespectsFirstAndSubsequentIntervals(t *testing.T) {
	cfg := config.Default()
	c := New(testKey(), cfg, fixedClock(0), event.Noop)
	c.state = Connected
	c.lastReceived = 0

	if c.NeedsKeepalive(cfg.KeepaliveFirstPingUS-1, 0) {
		t.Fatalf("keepalive fired before first interval elapsed")
	}
	if !c.NeedsKeepalive(cfg.KeepaliveFirstPingUS, 0) {
		t.Fatalf("keepalive did not fire at first interval")
	}
	if !c.NeedsKeepalive(cfg.KeepaliveFirstPingUS+cfg.KeepaliveNextPingUS, 1) {
		t.Fatalf("keepalive did not fire at second interval")
	}
}

func TestTickRetransmitsDueEntries(t *testing.T) {
	cfg := config.Default()
	now := int64(0)
	c := New(testKey(), cfg, fixedClock(now), event.Noop)
	c.SendData([]byte("pkt"))

	if out := c.Tick(0); len(out) != 0 {
		t.Fatalf("expected nothing due yet, got %d", len(out))
	}

	due := cfg.MaxRTTConstUS*2 + initialTriptimeMiddle
	out := c.Tick(due)
	if len(out) != 1 {
		t.Fatalf("expected 1 retransmit, got %d", len(out))
	}
}
