// Package socket provides the UDP transport the engine runs over:
// a listen/read loop handing datagrams to an engine, and a send path
// that falls back to a channel's write queue when the kernel socket
// buffer is full. Adapted from the teacher's Server.listen/updateLoop
// pattern (source/server/server.go), generalized from SA-MP's
// goroutine-per-packet dispatch to the single-threaded cooperative
// model spec §5 requires of the engine: the engine has no internal
// locking, so exactly one goroutine here is ever allowed to call into
// it.
package socket

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/packetflow/rudp/engine"
	"github.com/packetflow/rudp/rudplog"
)

// MaxDatagramSize is the largest UDP payload the listener will read,
// comfortably above HeaderLength+MaxPayloadLength.
const MaxDatagramSize = 4096 + 64

type inbound struct {
	addr *net.UDPAddr
	data []byte
}

// UDP owns a bound net.UDPConn and drives an *engine.Engine from it.
// Reading off the wire happens on its own goroutine (ReadFromUDP
// blocks), but every datagram it reads is handed across a channel to
// Run's single select loop, which is the only goroutine that ever
// touches eng.
type UDP struct {
	conn  *net.UDPConn
	eng   *engine.Engine
	tick  time.Duration
	sweep time.Duration
}

// New binds addr and wraps eng. tick is how often ProcessSendQueues
// runs; sweep is how often ProcessKeepConnection runs.
func New(addr string, eng *engine.Engine, tick, sweep time.Duration) (*UDP, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("socket: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("socket: listen %q: %w", addr, err)
	}
	return &UDP{conn: conn, eng: eng, tick: tick, sweep: sweep}, nil
}

// LocalAddr returns the bound local address.
func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// Close releases the underlying socket.
func (u *UDP) Close() error { return u.conn.Close() }

// Run blocks, reading datagrams and driving the engine's timers until
// ctx is cancelled. Every engine call happens from this one goroutine's
// select loop below.
func (u *UDP) Run(ctx context.Context, now func() int64) error {
	inboundCh := make(chan inbound, 64)
	readErrCh := make(chan error, 1)

	go u.readLoop(inboundCh, readErrCh)

	sendTicker := time.NewTicker(u.tick)
	sweepTicker := time.NewTicker(u.sweep)
	defer sendTicker.Stop()
	defer sweepTicker.Stop()
	defer u.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErrCh:
			return err

		case in := <-inboundCh:
			reply, err := u.eng.ProcessReceived(in.addr.IP.String(), in.addr.Port, in.data)
			if err != nil {
				rudplog.Debugf("socket: drop from %s: %v", in.addr, err)
				continue
			}
			if reply != nil {
				u.send(*reply)
			}

		case <-sendTicker.C:
			for _, out := range u.eng.ProcessSendQueues(now()) {
				u.send(out)
			}
			for _, out := range u.eng.ProcessWriteQueues() {
				u.send(out)
			}

		case <-sweepTicker.C:
			for _, out := range u.eng.ProcessKeepConnection(now()) {
				u.send(out)
			}
		}
	}
}

// readLoop only reads off the wire and copies bytes; it never touches
// the engine, so it needs no synchronization with Run's select loop.
func (u *UDP) readLoop(inboundCh chan<- inbound, errCh chan<- error) {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, raddr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			errCh <- err
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		inboundCh <- inbound{addr: raddr, data: data}
	}
}

// send writes a, falling back to the channel's write queue if the
// kernel socket buffer is momentarily full, so a transient EAGAIN never
// drops a retransmit the engine already committed to. Only called from
// Run's select loop.
func (u *UDP) send(a engine.Addressed) {
	addr := &net.UDPAddr{IP: net.ParseIP(a.Addr), Port: a.Port}
	if _, err := u.conn.WriteToUDP(a.Bytes, addr); err != nil {
		ch, err2 := u.eng.NewChannel(a.Addr, a.Port, a.Channel)
		if err2 == nil {
			ch.QueueWrite(a.Bytes)
		}
		rudplog.Debugf("socket: write to %s:%d deferred: %v", a.Addr, a.Port, err)
	}
}
