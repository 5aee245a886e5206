// Package notify fans values out to registered handlers synchronously, in
// registration order, on the caller's goroutine.
package notify

// Handler receives one published value.
type Handler[T any] func(T)

// Hub keeps an ordered list of handlers. It is not safe for concurrent use;
// owners publish and subscribe from their run loop.
type Hub[T any] struct {
	entries []*entry[T]
	nextID  uint64
}

type entry[T any] struct {
	id      uint64
	handler Handler[T]
	removed bool
}

// Subscription represents an active registration.
type Subscription struct {
	cancel func()
}

// Close removes the registration. Closing twice is a no-op.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Subscribe registers handler and returns the handle that removes it.
func (h *Hub[T]) Subscribe(handler Handler[T]) Subscription {
	if handler == nil {
		return Subscription{}
	}
	h.nextID++
	e := &entry[T]{id: h.nextID, handler: handler}
	h.entries = append(h.entries, e)
	return Subscription{cancel: func() { h.remove(e.id) }}
}

// Unsubscribe is the symmetric counterpart of Subscribe.
func (h *Hub[T]) Unsubscribe(sub Subscription) {
	sub.Close()
}

// Publish invokes every live handler with value before returning. Handlers
// removed mid-publish are skipped; handlers added mid-publish wait for the
// next value.
func (h *Hub[T]) Publish(value T) {
	snapshot := make([]*entry[T], len(h.entries))
	copy(snapshot, h.entries)
	for _, e := range snapshot {
		if e.removed {
			continue
		}
		e.handler(value)
	}
}

// Len reports the number of live handlers.
func (h *Hub[T]) Len() int {
	return len(h.entries)
}

func (h *Hub[T]) remove(id uint64) {
	for i, e := range h.entries {
		if e.id != id {
			continue
		}
		e.removed = true
		h.entries = append(h.entries[:i:i], h.entries[i+1:]...)
		return
	}
}
