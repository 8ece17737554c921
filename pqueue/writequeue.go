package pqueue

// WriteQueue is an optional FIFO egress buffer used when the socket
// cannot accept a send immediately. Entries always own their bytes — a
// copy is taken at Add time rather than borrowing a send-queue entry's
// buffer, resolving the dangling-pointer hazard noted in spec §9 (the
// original source sometimes stored a borrowed pointer into the send
// queue, whose lifetime was not enforced).
type WriteQueue struct {
	entries [][]byte
}

// NewWriteQueue returns an empty write queue.
func NewWriteQueue() *WriteQueue {
	return &WriteQueue{}
}

// Add appends bytes to the tail of the queue.
func (q *WriteQueue) Add(bytes []byte) {
	owned := make([]byte, len(bytes))
	copy(owned, bytes)
	q.entries = append(q.entries, owned)
}

// First returns the head entry without removing it, or (nil, false) if
// the queue is empty.
func (q *WriteQueue) First() ([]byte, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	return q.entries[0], true
}

// DeleteFirst removes the head entry.
func (q *WriteQueue) DeleteFirst() {
	if len(q.entries) == 0 {
		return
	}
	q.entries = q.entries[1:]
}

// Len returns the number of queued entries.
func (q *WriteQueue) Len() int {
	return len(q.entries)
}

// Clear removes every entry (used by channel reset).
func (q *WriteQueue) Clear() {
	q.entries = nil
}
