// Package emit carries observability events out of the graph engine.
package emit

// Emitter receives observability events from workflow execution.
//
// Implementations must be safe for concurrent use: fan-out branches emit
// from their own goroutines. Emit must not block for long and must not panic.
type Emitter interface {
	Emit(event Event)
}

// Multi fans every event out to each of the given emitters in order.
// Nil emitters are skipped.
func Multi(emitters ...Emitter) Emitter {
	out := make(multi, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type multi []Emitter

func (m multi) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
