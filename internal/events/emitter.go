// Package events provides the multi-subscriber fan-out used for every
// observable surface in the signaling core. One deliberate contract
// instead of a mix of single-callback and callback-set registration:
// any number of subscribers, delivery in registration order, cancel
// funcs are idempotent.
package events

import "sync"

type subscriber[T any] struct {
	id int
	fn func(T)
}

type Emitter[T any] struct {
	mu   sync.Mutex
	seq  int
	subs []subscriber[T]
}

// Subscribe registers fn and returns its cancel func. A subscription
// made during an Emit takes effect from the next event.
func (e *Emitter[T]) Subscribe(fn func(T)) func() {
	e.mu.Lock()
	e.seq++
	id := e.seq
	e.subs = append(e.subs, subscriber[T]{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			for i, s := range e.subs {
				if s.id == id {
					e.subs = append(e.subs[:i], e.subs[i+1:]...)
					break
				}
			}
			e.mu.Unlock()
		})
	}
}

// Emit calls subscribers outside the lock so a callback may cancel
// itself or subscribe others without deadlocking.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := make([]subscriber[T], len(e.subs))
	copy(snapshot, e.subs)
	e.mu.Unlock()
	for _, s := range snapshot {
		s.fn(v)
	}
}

func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}
