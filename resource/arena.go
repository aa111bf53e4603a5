package resource

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("resource arena closed")

// Arena is an integer-indexed slab of values with a free list.
type Arena[T any] struct {
	entries  []entry[T]
	freeList []Handle
	reserved Handle
	mu       sync.RWMutex
	closed   bool
}

type entry[T any] struct {
	value T
	kind  uint32
	valid bool
}

// NewArena creates an empty arena.
func NewArena[T any]() *Arena[T] {
	return &Arena[T]{
		entries:  make([]entry[T], 0, 64),
		freeList: make([]Handle, 0, 16),
	}
}

// Reserve marks handles 1..n as permanently taken. Must be called before the
// first Insert; reserved slots are filled with Set.
func (a *Arena[T]) Reserve(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for len(a.entries) < n {
		a.entries = append(a.entries, entry[T]{valid: true})
	}
	a.reserved = Handle(n)
}

// Insert stores a value and returns its handle.
func (a *Arena[T]) Insert(kind uint32, value T) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, ErrClosed
	}

	e := entry[T]{
		kind:  kind,
		value: value,
		valid: true,
	}

	if len(a.freeList) > 0 {
		handle := a.freeList[len(a.freeList)-1]
		a.freeList = a.freeList[:len(a.freeList)-1]
		a.entries[handle-1] = e
		return handle, nil
	}

	a.entries = append(a.entries, e)
	return Handle(len(a.entries)), nil
}

// Get retrieves a value by handle.
func (a *Arena[T]) Get(handle Handle) (T, bool) {
	var zero T
	if handle == 0 {
		return zero, false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	idx := handle - 1
	if int(idx) >= len(a.entries) {
		return zero, false
	}

	e := a.entries[idx]
	if !e.valid {
		return zero, false
	}
	return e.value, true
}

// Set replaces the value of a live handle.
func (a *Arena[T]) Set(handle Handle, value T) bool {
	if handle == 0 {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := handle - 1
	if int(idx) >= len(a.entries) || !a.entries[idx].valid {
		return false
	}
	a.entries[idx].value = value
	return true
}

// Kind returns the kind tag recorded at insertion.
func (a *Arena[T]) Kind(handle Handle) (uint32, bool) {
	if handle == 0 {
		return 0, false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	idx := handle - 1
	if int(idx) >= len(a.entries) {
		return 0, false
	}

	e := a.entries[idx]
	if !e.valid {
		return 0, false
	}
	return e.kind, true
}

// Remove frees a handle and returns its value. Reserved handles cannot be removed.
func (a *Arena[T]) Remove(handle Handle) (T, bool) {
	var zero T
	if handle == 0 || handle <= a.reserved {
		return zero, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := handle - 1
	if int(idx) >= len(a.entries) {
		return zero, false
	}

	e := &a.entries[idx]
	if !e.valid {
		return zero, false
	}

	value := e.value
	e.valid = false
	e.value = zero
	e.kind = 0
	a.freeList = append(a.freeList, handle)

	return value, true
}

// Len returns the number of live, non-reserved handles.
func (a *Arena[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	count := 0
	for i, e := range a.entries {
		if e.valid && Handle(i+1) > a.reserved {
			count++
		}
	}
	return count
}

// Each iterates over all live, non-reserved handles.
func (a *Arena[T]) Each(fn func(Handle, uint32, T) bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for i, e := range a.entries {
		h := Handle(i + 1)
		if e.valid && h > a.reserved {
			if !fn(h, e.kind, e.value) {
				break
			}
		}
	}
}

// Close drops every value and stops accepting inserts.
func (a *Arena[T]) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var zero T
	for i := range a.entries {
		if a.entries[i].valid {
			if d, ok := any(a.entries[i].value).(Dropper); ok {
				d.Drop()
			}
			a.entries[i].valid = false
			a.entries[i].value = zero
		}
	}

	a.entries = nil
	a.freeList = nil
	return nil
}
