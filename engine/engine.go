// Package engine orchestrates the channel map, dispatching inbound
// datagrams, driving per-tick retransmission and keep-alive, and
// fanning outbound sends across every live channel (spec §4.6). It owns
// no socket; callers push bytes in and drain bytes out.
package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/packetflow/rudp/channel"
	"github.com/packetflow/rudp/config"
	"github.com/packetflow/rudp/event"
	"github.com/packetflow/rudp/rudpmap"
	"github.com/packetflow/rudp/wire"
)

// Addressed pairs on-wire bytes with the remote endpoint they must be
// sent to or were received from.
type Addressed struct {
	Addr    string
	Port    int
	Channel byte
	Bytes   []byte
}

// Engine is the single orchestration point a host embeds: one Engine
// per local UDP socket, fanning out across every remote peer/channel it
// has seen.
type Engine struct {
	// ID distinguishes this engine instance in logs and metrics when a
	// host runs more than one (e.g. a client and server engine in the
	// same test process).
	ID uuid.UUID

	cfg   config.Config
	clock channel.Clock
	sink  event.Sink
	chans *rudpmap.Map

	pingsSent map[string]int
}

// New constructs an Engine. clock supplies microsecond timestamps and
// sink receives every event.Event the engine or its channels emit
// (spec §6.3); sink may be nil.
func New(cfg config.Config, clock channel.Clock, sink event.Sink) *Engine {
	if sink == nil {
		sink = event.Noop
	}
	e := &Engine{
		ID:        uuid.New(),
		cfg:       cfg,
		clock:     clock,
		sink:      sink,
		pingsSent: make(map[string]int),
	}
	e.chans = rudpmap.New(cfg, clock, sink)
	e.sink(event.Event{Kind: event.Initialize})
	return e
}

// Destroy tears the engine down, emitting Destroy for every live
// channel and releasing the map.
func (e *Engine) Destroy() {
	e.chans.Each(func(_ string, c *channel.Channel) {
		e.sink(event.Event{Kind: event.Destroy, Channel: c.Key})
	})
	e.chans = rudpmap.New(e.cfg, e.clock, e.sink)
	e.sink(event.Event{Kind: event.Destroy})
}

// NewChannel creates (or returns the existing) channel for addr/port/ch
// without waiting for an inbound datagram, for hosts that dial out.
func (e *Engine) NewChannel(addr string, port int, ch byte) (*channel.Channel, error) {
	return e.chans.GetOrCreate(addr, port, ch)
}

// ProcessReceived validates and dispatches one inbound datagram to its
// channel, creating the channel on first contact. It returns the reply
// bytes to send back immediately (an ACK, ACK_PING or ACK_RESET), if
// any.
func (e *Engine) ProcessReceived(addr string, port int, buf []byte) (*Addressed, error) {
	p, err := wire.View(buf)
	if err != nil {
		e.sink(event.Event{Kind: event.ProcessReceiveNoTRUDP, Payload: buf})
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.sink(event.Event{Kind: event.ProcessReceive, Payload: buf})

	c, err := e.chans.GetOrCreate(addr, port, p.Channel())
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	reply, err := c.Receive(p)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if reply == nil {
		return nil, nil
	}
	return &Addressed{Addr: addr, Port: port, Channel: p.Channel(), Bytes: reply}, nil
}

// ProcessSendQueues walks every channel and retransmits any send-queue
// entries whose retransmit deadline has passed (spec §4.5.7). A channel
// Tick pushed into Disconnecting (the long-retransmit teardown path) is
// removed from the map once iteration completes, so a channel that
// emitted Disconnected doesn't linger as a live, unreachable entry.
func (e *Engine) ProcessSendQueues(now int64) []Addressed {
	var out []Addressed
	var disconnected []event.Key
	e.chans.Each(func(_ string, c *channel.Channel) {
		for _, o := range c.Tick(now) {
			out = append(out, Addressed{Addr: c.Key.Addr, Port: c.Key.Port, Channel: c.Key.Channel, Bytes: o.Bytes})
		}
		if c.State() == channel.Disconnecting {
			disconnected = append(disconnected, c.Key)
		}
	})
	for _, key := range disconnected {
		e.chans.Remove(key.Addr, key.Port, key.Channel)
	}
	for _, o := range out {
		e.sink(event.Event{Kind: event.ProcessSend, Channel: event.Key{Addr: o.Addr, Port: o.Port, Channel: o.Channel}, Payload: o.Bytes})
	}
	return out
}

// ProcessWriteQueues drains every channel's write queue, returning the
// buffered bytes in FIFO order per channel for a caller whose socket
// write previously failed or would have blocked.
func (e *Engine) ProcessWriteQueues() []Addressed {
	var out []Addressed
	e.chans.Each(func(_ string, c *channel.Channel) {
		for {
			b, ok := c.DrainWrite()
			if !ok {
				break
			}
			out = append(out, Addressed{Addr: c.Key.Addr, Port: c.Key.Port, Channel: c.Key.Channel, Bytes: b})
		}
	})
	return out
}

// ProcessKeepConnection sweeps every channel, emitting PINGs for idle
// connected channels and removing channels that have exceeded
// DisconnectTimeoutUS (spec §4.5.8, §4.4).
func (e *Engine) ProcessKeepConnection(now int64) []Addressed {
	var out []Addressed
	var expired []string

	e.chans.Each(func(key string, c *channel.Channel) {
		if c.Expired(now) {
			expired = append(expired, key)
			return
		}
		sent := e.pingsSent[key]
		if c.NeedsKeepalive(now, sent) {
			if buf, err := c.SendPing(nil); err == nil {
				out = append(out, Addressed{Addr: c.Key.Addr, Port: c.Key.Port, Channel: c.Key.Channel, Bytes: buf})
				e.pingsSent[key] = sent + 1
			}
		}
	})

	for _, key := range expired {
		delete(e.pingsSent, key)
	}
	e.chans.CleanupExpired(now)
	return out
}

// SendDataToAll builds and enqueues a DATA packet on every live channel
// whose send queue is below BackpressureSendQueueLen, skipping (and
// reporting) channels that are currently backed up (spec §4.6).
func (e *Engine) SendDataToAll(payload []byte) (sent []Addressed, skipped int) {
	e.chans.Each(func(_ string, c *channel.Channel) {
		if c.SendQueueLen() >= e.cfg.BackpressureSendQueueLen {
			skipped++
			return
		}
		buf, err := c.SendData(payload)
		if err != nil {
			return
		}
		sent = append(sent, Addressed{Addr: c.Key.Addr, Port: c.Key.Port, Channel: c.Key.Channel, Bytes: buf})
	})
	return sent, skipped
}

// SendResetAll initiates a RESET handshake on every live channel,
// returning the RESET packets to transmit.
func (e *Engine) SendResetAll() []Addressed {
	var out []Addressed
	e.chans.Each(func(_ string, c *channel.Channel) {
		if buf, err := c.SendReset(); err == nil {
			out = append(out, Addressed{Addr: c.Key.Addr, Port: c.Key.Port, Channel: c.Key.Channel, Bytes: buf})
		}
	})
	return out
}

// ChannelCount reports how many (addr, port, channel) entries are live.
func (e *Engine) ChannelCount() int { return e.chans.Len() }

// Channels exposes the underlying channel map for introspection (metrics
// collectors, admin endpoints); it must not be mutated outside the
// engine's own operations.
func (e *Engine) Channels() *rudpmap.Map { return e.chans }
