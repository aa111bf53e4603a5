package resource

import (
	"sync"
)

// Table wraps an Arena with observer notifications and Dropper handling.
type Table[T any] struct {
	arena     *Arena[T]
	observers []Observer
	obsMu     sync.RWMutex
}

// NewTable creates a new table over a fresh arena.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		arena: NewArena[T](),
	}
}

// Insert adds a value and returns its handle, or 0 once closed.
func (t *Table[T]) Insert(kind uint32, value T) Handle {
	handle, err := t.arena.Insert(kind, value)
	if err != nil {
		return 0
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		Kind:   kind,
		Value:  value,
	})

	return handle
}

// Get retrieves a value by handle.
func (t *Table[T]) Get(handle Handle) (T, bool) {
	return t.arena.Get(handle)
}

// GetKind retrieves a value only if it was inserted with the expected kind.
func (t *Table[T]) GetKind(handle Handle, kind uint32) (T, bool) {
	var zero T
	actual, ok := t.arena.Kind(handle)
	if !ok || actual != kind {
		return zero, false
	}
	return t.arena.Get(handle)
}

// Remove drops a value and returns (value, true) if found.
func (t *Table[T]) Remove(handle Handle) (T, bool) {
	kind, _ := t.arena.Kind(handle)
	value, ok := t.arena.Remove(handle)
	if !ok {
		return value, false
	}

	if d, ok := any(value).(Dropper); ok {
		d.Drop()
	}

	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		Kind:   kind,
		Value:  value,
	})

	return value, true
}

// Subscribe adds an observer for lifecycle events.
func (t *Table[T]) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Len returns the number of live values.
func (t *Table[T]) Len() int {
	return t.arena.Len()
}

// Each iterates over all live values.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	t.arena.Each(func(h Handle, _ uint32, v T) bool {
		return fn(h, v)
	})
}

// Clear drops all values.
func (t *Table[T]) Clear() {
	var handles []Handle
	t.arena.Each(func(h Handle, _ uint32, _ T) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		t.Remove(h)
	}
}

// Close releases all values and stops accepting inserts.
func (t *Table[T]) Close() error {
	return t.arena.Close()
}

func (t *Table[T]) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
