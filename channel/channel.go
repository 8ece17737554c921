// Package channel implements the per-peer-per-channel control block and
// state machine described in spec §3 and §4.5: send/receive/write
// queues, RTT smoothing, retransmit scheduling, keep-alive and the reset
// handshake.
package channel

import (
	"fmt"

	"github.com/packetflow/rudp/config"
	"github.com/packetflow/rudp/event"
	"github.com/packetflow/rudp/pqueue"
	"github.com/packetflow/rudp/wire"
)

// State is one of the three lifecycle states a channel passes through.
type State int

const (
	Fresh State = iota
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// initialTriptimeMiddle is both the starting value and the sentinel
// meaning "no RTT sample has been smoothed in yet" (spec §3, §4.5.5). It
// derives from the original implementation's START_MIDDLE_TIME,
// (MAX_ACK_WAIT/5)*1e6 with MAX_ACK_WAIT=0.5s, i.e. 100ms.
const initialTriptimeMiddle int64 = 100_000

// Clock returns the current wall-clock time as microseconds. Injectable
// for deterministic tests.
type Clock func() int64

// Outgoing is a packet a Channel wants transmitted. It carries only the
// bytes; the destination is the producing channel's own Key.
type Outgoing struct {
	Bytes []byte
}

// Channel is the per-peer-per-channel control block. It owns no socket;
// callers push received bytes in via Receive and drain bytes to send via
// the Outgoing return values and Tick.
type Channel struct {
	Key event.Key

	cfg   config.Config
	clock Clock
	sink  event.Sink

	sendQueue    *pqueue.SendQueue
	receiveQueue *pqueue.ReceiveQueue
	writeQueue   *pqueue.WriteQueue

	nextSendID            uint32
	nextExpectedReceiveID uint32
	tailExpectedTime      int64

	triptime       int64
	triptimeMiddle int64
	outrunningCnt  int

	lastReceived int64
	state        State

	resetPending bool

	DuplicateDrops int
	OutrunDrops    int
}

// New creates a Fresh channel for key, using cfg's tunables, clock for
// timestamps and sink to emit observable events.
func New(key event.Key, cfg config.Config, clock Clock, sink event.Sink) *Channel {
	if sink == nil {
		sink = event.Noop
	}
	c := &Channel{
		Key:          key,
		cfg:          cfg,
		clock:        clock,
		sink:         sink,
		sendQueue:    pqueue.NewSendQueue(),
		receiveQueue: pqueue.NewReceiveQueue(),
		writeQueue:   pqueue.NewWriteQueue(),
		state:        Fresh,
	}
	c.resetCounters()
	return c
}

func (c *Channel) resetCounters() {
	c.sendQueue.Clear()
	c.receiveQueue.Clear()
	c.nextSendID = 0
	c.nextExpectedReceiveID = 0
	c.tailExpectedTime = 0
	c.triptime = 0
	c.triptimeMiddle = initialTriptimeMiddle
	c.outrunningCnt = 0
	c.resetPending = false
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() State { return c.state }

// SendQueueLen reports how many packets are outstanding, used by the
// engine's backpressure check in SendDataToAll (§4.6).
func (c *Channel) SendQueueLen() int { return c.sendQueue.Len() }

// WriteQueueLen reports how many egress buffers are waiting on a socket.
func (c *Channel) WriteQueueLen() int { return c.writeQueue.Len() }

// LastReceived returns the wall-clock microseconds of the most recently
// received datagram on this channel.
func (c *Channel) LastReceived() int64 { return c.lastReceived }

// TriptimeMiddle exposes the current smoothed RTT estimate, in
// microseconds, for metrics and tests.
func (c *Channel) TriptimeMiddle() int64 { return c.triptimeMiddle }

func (c *Channel) markConnected() {
	if c.state == Fresh {
		c.state = Connected
		c.emit(event.Connected, nil)
	}
}

func (c *Channel) emit(kind event.Kind, payload []byte) {
	c.sink(event.Event{Kind: kind, Channel: c.Key, Payload: payload})
}

// circularDiff returns b-a interpreted as a signed 32-bit quantity,
// correctly handling wraparound of the 32-bit microsecond clock and
// 32-bit send ids alike (spec §9: RTT and id comparisons must be
// wraparound-safe). A genuinely negative result (clock skew, or an id
// already passed) comes back negative rather than as a huge unsigned
// value.
func circularDiff(a, b uint32) int32 {
	return int32(b - a)
}

// enqueueWire appends buf to the send queue with a monotone
// expected-retransmit time and returns it for immediate transmission.
func (c *Channel) enqueueWire(id uint32, buf []byte, now int64) []byte {
	expected := now + c.triptimeMiddle + 2*c.cfg.MaxRTTConstUS
	if c.tailExpectedTime > expected {
		expected = c.tailExpectedTime
	}
	c.tailExpectedTime = expected
	c.sendQueue.Add(id, buf, expected)
	return buf
}

// SendData assigns the next send id, builds a DATA packet and enqueues
// it onto the send queue with a monotone expected-retransmit time
// (spec §4.5.1). It returns the on-wire bytes for the caller (the
// engine) to transmit.
func (c *Channel) SendData(payload []byte) ([]byte, error) {
	return c.sendWithType(wire.Data, payload)
}

// SendPing builds and enqueues a keep-alive PING the same way as DATA;
// PING/ACK_PING round trips retransmit and feed RTT smoothing exactly
// like DATA/ACK.
func (c *Channel) SendPing(payload []byte) ([]byte, error) {
	return c.sendWithType(wire.Ping, payload)
}

func (c *Channel) sendWithType(mt wire.MessageType, payload []byte) ([]byte, error) {
	id := c.nextSendID
	now := c.clock()
	buf, err := wire.BuildData(mt, id, c.Key.Channel, uint32(now), payload)
	if err != nil {
		return nil, fmt.Errorf("channel: build %s: %w", mt, err)
	}
	c.nextSendID++
	return c.enqueueWire(id, buf, now), nil
}

// SendReset clears local send/receive state immediately and enqueues a
// RESET announcement to be retransmitted until the peer's ACK_RESET
// arrives (spec §4.5.6). Local counters are zeroed before the packet is
// even built, since nothing queued under the old numbering is valid once
// a reset is underway.
func (c *Channel) SendReset() ([]byte, error) {
	now := c.clock()
	c.resetCounters()
	c.resetPending = true
	buf, err := wire.BuildReset(0, c.Key.Channel, uint32(now))
	if err != nil {
		return nil, fmt.Errorf("channel: build reset: %w", err)
	}
	c.emit(event.SendReset, nil)
	return c.enqueueWire(0, buf, now), nil
}

// Receive processes one inbound datagram already validated by wire.View
// and returns the reply bytes to transmit immediately, if any.
func (c *Channel) Receive(p wire.Packet) ([]byte, error) {
	now := c.clock()
	c.lastReceived = now

	switch p.Type() {
	case wire.Data:
		return c.handleData(p)
	case wire.Ack:
		c.handleAck(p, uint32(now))
		return nil, nil
	case wire.Ping:
		return c.handlePing(p)
	case wire.AckPing:
		c.handleAck(p, uint32(now))
		c.emit(event.GotAckPing, p.Payload())
		return nil, nil
	case wire.Reset:
		return c.handleReset(p)
	case wire.AckReset:
		c.handleAckReset(p)
		return nil, nil
	default:
		return nil, fmt.Errorf("channel: unhandled message type %s", p.Type())
	}
}

func (c *Channel) handleData(p wire.Packet) ([]byte, error) {
	c.markConnected()
	id := p.ID()

	diff := circularDiff(c.nextExpectedReceiveID, id)
	switch {
	case diff == 0:
		c.emit(event.GotData, p.Payload())
		c.nextExpectedReceiveID++
		for {
			next, ok := c.receiveQueue.FindByID(c.nextExpectedReceiveID)
			if !ok {
				break
			}
			c.receiveQueue.Delete(c.nextExpectedReceiveID)
			c.emit(event.GotData, next)
			c.nextExpectedReceiveID++
		}
		c.outrunningCnt = 0
	case id == 0:
		// Peer restarted its id space mid-conversation without a RESET
		// handshake (spec §4.5.2 step 4); fold in silently the same way
		// the peer's own reset already did, rather than treating id 0 as
		// just another duplicate.
		c.resetCounters()
		c.emit(event.GotReset, nil)
	case diff < 0:
		c.DuplicateDrops++
	default:
		if _, found := c.receiveQueue.FindByID(id); !found {
			c.receiveQueue.Add(id, append([]byte(nil), p.Payload()...))
			c.outrunningCnt++
			if c.cfg.EnableOutrunReset && c.outrunningCnt > c.cfg.MaxOutrunning {
				c.OutrunDrops++
				return c.SendReset()
			}
		}
	}

	ack, err := wire.BuildAck(wire.Ack, p)
	if err != nil {
		return nil, fmt.Errorf("channel: build ack: %w", err)
	}
	return ack, nil
}

func (c *Channel) handleAck(p wire.Packet, now uint32) {
	c.markConnected()
	entry := c.sendQueue.FindByID(p.ID())
	if entry == nil {
		return
	}
	c.sendQueue.Delete(entry)

	sampleUS := circularDiff(p.Timestamp(), now)
	if sampleUS < 0 {
		sampleUS = 0
	}
	c.updateRTT(int64(sampleUS))
	c.sink(event.Event{Kind: event.GotAck, Channel: c.Key, Payload: p.Bytes(), RTTSampleUS: int64(sampleUS), HasRTT: true})

	if c.cfg.EnableSendIDReset && c.sendQueue.Len() == 0 && c.nextSendID >= c.cfg.ResetAfterID {
		c.SendReset()
	}
}

func (c *Channel) handlePing(p wire.Packet) ([]byte, error) {
	c.markConnected()
	c.emit(event.GotPing, p.Payload())
	return wire.BuildAck(wire.AckPing, p)
}

func (c *Channel) handleReset(p wire.Packet) ([]byte, error) {
	c.resetCounters()
	c.state = Connected
	c.emit(event.GotReset, nil)
	return wire.BuildAck(wire.AckReset, p)
}

func (c *Channel) handleAckReset(p wire.Packet) {
	entry := c.sendQueue.FindByID(p.ID())
	if entry != nil {
		c.sendQueue.Delete(entry)
	}
	c.resetPending = false
	c.emit(event.GotAckReset, nil)
}

// updateRTT folds one RTT sample into the smoothed estimate, following
// the original implementation's algorithm (spec §4.5.5): an EWMA with
// alpha 1/20 once past the initial sentinel, a direct t*factor estimate
// the first time or whenever a sample exceeds the current middle, then
// clamped into [t*factor, min(t*10, MaxTriptimeMiddleUS)].
func (c *Channel) updateRTT(sampleUS int64) {
	c.triptime = sampleUS
	t := c.triptime
	f := c.cfg.TriptimeFactor

	m := c.triptimeMiddle
	if m == initialTriptimeMiddle || t > m {
		m = int64(float64(t) * f)
	} else {
		m = (19*m + t) / 20
	}

	if lower := int64(float64(t) * f); m < lower {
		m = lower
	}
	if upper := t * 10; m > upper {
		m = upper
	}
	if m > c.cfg.MaxTriptimeMiddleUS {
		m = c.cfg.MaxTriptimeMiddleUS
	}
	c.triptimeMiddle = m
}

// Tick drives time-based work: retransmitting send-queue entries whose
// expected time has passed (§4.5.7), and is called once per engine
// cycle for every channel. It returns the packets that must be
// (re)transmitted now.
func (c *Channel) Tick(now int64) []Outgoing {
	var out []Outgoing
	for {
		head := c.sendQueue.First()
		if head == nil || head.ExpectedTime > now {
			break
		}
		if head.RetriesStart == 0 {
			head.RetriesStart = now
		}
		head.Retrieves++

		if c.cfg.EnableLongRetransmitDisconnect &&
			now-head.RetriesStart > c.cfg.MaxTriptimeMiddleUS {
			c.state = Disconnecting
			c.sink(event.Event{Kind: event.Disconnected, Channel: c.Key, AgeUS: now - c.lastReceived, HasAge: true})
			c.sendQueue.Delete(head)
			continue
		}

		newExpected := now + c.triptimeMiddle + 2*c.cfg.MaxRTTConstUS
		c.sendQueue.MoveToTail(head, newExpected)
		if newExpected > c.tailExpectedTime {
			c.tailExpectedTime = newExpected
		}
		out = append(out, Outgoing{Bytes: head.Bytes})
	}
	return out
}

// NextTimeout reports how long until the next retransmit is due, for
// callers scheduling their own wakeups (e.g. select timeouts).
func (c *Channel) NextTimeout(now int64) (int64, bool) {
	return c.sendQueue.GetTimeout(now)
}

// NeedsKeepalive reports whether enough idle time has passed on an
// already-connected channel to warrant sending a PING (spec §4.5.8).
func (c *Channel) NeedsKeepalive(now int64, pingsSent int) bool {
	if c.state != Connected {
		return false
	}
	idle := now - c.lastReceived
	if pingsSent == 0 {
		return idle >= c.cfg.KeepaliveFirstPingUS
	}
	return idle >= c.cfg.KeepaliveFirstPingUS+int64(pingsSent)*c.cfg.KeepaliveNextPingUS
}

// Expired reports whether this channel has been silent long enough to
// be torn down (spec §4.5.8, disconnect_timeout_us).
func (c *Channel) Expired(now int64) bool {
	return now-c.lastReceived >= c.cfg.DisconnectTimeoutUS
}

// QueueWrite buffers bytes a socket could not send immediately. Drained
// via DrainWrite.
func (c *Channel) QueueWrite(bytes []byte) {
	c.writeQueue.Add(bytes)
}

// DrainWrite returns and removes the oldest queued write, if any.
func (c *Channel) DrainWrite() ([]byte, bool) {
	b, ok := c.writeQueue.First()
	if ok {
		c.writeQueue.DeleteFirst()
	}
	return b, ok
}
