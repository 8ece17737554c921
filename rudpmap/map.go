// Package rudpmap implements the channel map / demultiplexer: the
// lookup from (remote address, remote port, channel number) to a live
// *channel.Channel, with lazy creation on first datagram and bounded
// periodic cleanup of idle entries (spec §4.4).
package rudpmap

import (
	"fmt"
	"sync"

	"github.com/packetflow/rudp/channel"
	"github.com/packetflow/rudp/config"
	"github.com/packetflow/rudp/event"
)

// MaxKeyLength is the longest "addr:port:channel" key the map accepts;
// longer keys are rejected rather than silently truncated.
const MaxKeyLength = 64

// Key formats the map's lookup key for addr, port and channel number.
// At most one live channel may exist for a given key at any time.
func Key(addr string, port int, ch byte) (string, error) {
	k := fmt.Sprintf("%s:%d:%d", addr, port, ch)
	if len(k) > MaxKeyLength {
		return "", fmt.Errorf("rudpmap: key %q exceeds %d bytes", k, MaxKeyLength)
	}
	return k, nil
}

// Map is the concurrency-safe channel demultiplexer. Per spec §5 the
// channels themselves are not internally locked — Map only protects its
// own index, and callers must still serialize operations on any one
// Channel they retrieve.
type Map struct {
	mu       sync.RWMutex
	channels map[string]*channel.Channel
	cfg      config.Config
	clock    channel.Clock
	sink     event.Sink
}

// New returns an empty map sized to cfg.MapInitialCapacity.
func New(cfg config.Config, clock channel.Clock, sink event.Sink) *Map {
	return &Map{
		channels: make(map[string]*channel.Channel, cfg.MapInitialCapacity),
		cfg:      cfg,
		clock:    clock,
		sink:     sink,
	}
}

// GetOrCreate returns the channel for addr/port/ch, creating a Fresh one
// on first reference.
func (m *Map) GetOrCreate(addr string, port int, ch byte) (*channel.Channel, error) {
	key, err := Key(addr, port, ch)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	c, ok := m.channels[key]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.channels[key]; ok {
		return c, nil
	}
	c = channel.New(event.Key{Addr: addr, Port: port, Channel: ch}, m.cfg, m.clock, m.sink)
	m.channels[key] = c
	return c, nil
}

// Get returns the channel for addr/port/ch without creating one.
func (m *Map) Get(addr string, port int, ch byte) (*channel.Channel, bool) {
	key, err := Key(addr, port, ch)
	if err != nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[key]
	return c, ok
}

// Remove deletes addr/port/ch's entry, if present. The map key is always
// removed before the caller lets go of its last reference to the
// channel, so no lookup can ever observe a half-torn-down entry.
func (m *Map) Remove(addr string, port int, ch byte) {
	key, err := Key(addr, port, ch)
	if err != nil {
		return
	}
	m.mu.Lock()
	delete(m.channels, key)
	m.mu.Unlock()
}

// Len returns the number of live channels.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// Each calls fn once for every live channel, for iteration-heavy engine
// operations (ProcessSendQueues, SendDataToAll, keepalive sweeps). fn
// must not mutate the map.
func (m *Map) Each(fn func(key string, c *channel.Channel)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, c := range m.channels {
		fn(k, c)
	}
}

// CleanupExpired removes every channel whose Expired(now) is true,
// emitting a Disconnected event carrying its silence age before the
// entry is dropped (spec §4.5.8/§7: timeout teardown must report the
// disconnect, not just free the channel), and returns how many were
// removed (spec §4.4's bounded periodic sweep, adapted from the
// teacher's session cleanup ticker).
func (m *Map) CleanupExpired(now int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, c := range m.channels {
		if c.Expired(now) {
			m.sink(event.Event{Kind: event.Disconnected, Channel: c.Key, AgeUS: now - c.LastReceived(), HasAge: true})
			delete(m.channels, k)
			removed++
		}
	}
	return removed
}
