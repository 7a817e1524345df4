package stream

import "sync"

type registryEntry[T any] struct {
	id uint64
	fn func(T)
}

// Registry is an ordered set of callbacks. Dispatch walks a snapshot, so
// callbacks may subscribe or unsubscribe while being called. The zero value
// is ready to use.
type Registry[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []registryEntry[T]
}

// Subscribe adds fn after every existing callback. The returned func removes
// it and may be called any number of times.
func (r *Registry[T]) Subscribe(fn func(T)) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, registryEntry[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]registryEntry[T], 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.id != id {
			next = append(next, entry)
		}
	}
	r.entries = next
}

// Dispatch calls every callback registered at the time of the call, in
// registration order.
func (r *Registry[T]) Dispatch(v T) {
	r.mu.Lock()
	snapshot := r.entries
	r.mu.Unlock()

	for _, entry := range snapshot {
		entry.fn(v)
	}
}

// Len returns the number of registered callbacks.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
