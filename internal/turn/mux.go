package turn

import "log"

// EmitFunc delivers one event to the client. A non-nil error means the
// consumer is gone; the mux stops emitting but keeps draining.
type EmitFunc func(StreamEvent) error

// Mux forwards generator events to the client in order, merging in
// opportunistic side-channel events (currently chat titles) produced by
// detached work. Losing the consumer never stalls the pipeline: the mux
// drains the source to completion so the generator and the reconciler
// still finish.
type Mux struct {
	emit   EmitFunc
	side   chan StreamEvent
	failed bool
}

func NewMux(emit EmitFunc) *Mux {
	return &Mux{
		emit: emit,
		side: make(chan StreamEvent, 4),
	}
}

// Inject queues a side-channel event. Best effort: if the mux is not
// between source events, or the buffer is full, the event is dropped.
func (m *Mux) Inject(ev StreamEvent) {
	select {
	case m.side <- ev:
	default:
	}
}

// Forward pumps the source to the client until it closes, preserving the
// source's internal order. Side-channel events interleave between source
// events at whatever point they arrive.
func (m *Mux) Forward(src <-chan StreamEvent) {
	for {
		select {
		case ev, ok := <-src:
			if !ok {
				return
			}
			m.send(ev)
		case ev := <-m.side:
			m.send(ev)
		}
	}
}

// Send emits a single event outside of a Forward loop, used for the
// trailing error/apology events.
func (m *Mux) Send(ev StreamEvent) {
	m.send(ev)
}

func (m *Mux) send(ev StreamEvent) {
	if m.failed {
		return
	}
	if err := m.emit(ev); err != nil {
		log.Printf("mux: consumer lost, draining remainder: %v", err)
		m.failed = true
	}
}
