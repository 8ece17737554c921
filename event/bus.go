package event

// Bus is a multi-subscriber fan-out adapter over a single Sink, for
// hosts that want several independent listeners per Kind instead of one
// engine-wide callback. Adapted from the teacher repo's
// EventManager/Register/Trigger registry, generalized from an
// interface{}-carrying game event to the typed Event above.
type Bus struct {
	handlers map[Kind][]Sink
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Sink)}
}

// Register adds handler as a subscriber for kind.
func (b *Bus) Register(kind Kind, handler Sink) {
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Sink returns a Sink suitable for passing to an engine; dispatching an
// event fans it out to every handler registered for its Kind.
func (b *Bus) Sink() Sink {
	return func(e Event) {
		for _, h := range b.handlers[e.Kind] {
			h(e)
		}
	}
}
