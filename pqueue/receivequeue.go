package pqueue

// ReceiveQueue buffers early-arrived DATA packets keyed by id until their
// predecessor is delivered. Not required to be ordered — only keyed.
type ReceiveQueue struct {
	entries map[uint32][]byte
}

// NewReceiveQueue returns an empty receive queue.
func NewReceiveQueue() *ReceiveQueue {
	return &ReceiveQueue{entries: make(map[uint32][]byte)}
}

// Add inserts bytes keyed by id. A duplicate id is a no-op that must not
// overwrite the existing entry.
func (q *ReceiveQueue) Add(id uint32, bytes []byte) {
	if _, exists := q.entries[id]; exists {
		return
	}
	q.entries[id] = bytes
}

// FindByID retrieves the entry for id, or (nil, false) if absent.
func (q *ReceiveQueue) FindByID(id uint32) ([]byte, bool) {
	b, ok := q.entries[id]
	return b, ok
}

// Delete removes the entry for id, if present.
func (q *ReceiveQueue) Delete(id uint32) {
	delete(q.entries, id)
}

// Len returns the number of buffered entries.
func (q *ReceiveQueue) Len() int {
	return len(q.entries)
}

// Clear removes every entry (used by channel reset).
func (q *ReceiveQueue) Clear() {
	q.entries = make(map[uint32][]byte)
}
