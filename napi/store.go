package napi

import (
	"github.com/lovell/sharp-sub001/resource"
)

// Reserved handles.
const (
	HandleEmpty     uint32 = 0
	HandleUndefined uint32 = 1
	HandleNull      uint32 = 2
	HandleFalse     uint32 = 3
	HandleTrue      uint32 = 4
	HandleGlobal    uint32 = 5

	firstHandle = 6
)

// Scope is an open handle scope.
type Scope struct {
	id        uint32
	start     int
	escapable bool
	slot      int // reserved parent slot for Escape
	escaped   bool
}

func (s *Scope) ID() uint32 { return s.id }

// Store owns the handle stack and the scope chain of one bridge.
type Store struct {
	values []Value
	scopes []*Scope
	ids    *resource.Arena[*Scope]
	global *Object
}

// NewStore creates a store with the reserved handles in place.
func NewStore() *Store {
	global := newObject(ClassPlain, nil)
	s := &Store{
		values: make([]Value, firstHandle, 256),
		ids:    resource.NewArena[*Scope](),
		global: global,
	}
	s.values[HandleEmpty] = Value{}
	s.values[HandleUndefined] = Undefined()
	s.values[HandleNull] = Null()
	s.values[HandleFalse] = Bool(false)
	s.values[HandleTrue] = Bool(true)
	s.values[HandleGlobal] = ObjectValue(global)
	return s
}

// Global returns the global object.
func (s *Store) Global() *Object { return s.global }

// Push makes v addressable by handle in the innermost scope. Singleton
// values map to their reserved handles.
func (s *Store) Push(v Value) uint32 {
	switch v.kind {
	case KindUndefined:
		return HandleUndefined
	case KindNull:
		return HandleNull
	case KindBoolean:
		if v.b {
			return HandleTrue
		}
		return HandleFalse
	case KindObject:
		if v.obj == s.global {
			return HandleGlobal
		}
	}
	s.values = append(s.values, v)
	return uint32(len(s.values) - 1)
}

// Get resolves a handle. Handles released by a closed scope are invalid.
func (s *Store) Get(h uint32) (Value, bool) {
	if h == HandleEmpty || int(h) >= len(s.values) {
		return Value{}, false
	}
	return s.values[h], true
}

// Handles returns the number of live non-reserved handles.
func (s *Store) Handles() int { return len(s.values) - firstHandle }

// Depth returns the number of open scopes.
func (s *Store) Depth() int { return len(s.scopes) }

// OpenScope opens a scope nested in the current one.
func (s *Store) OpenScope(escapable bool) *Scope {
	sc := &Scope{escapable: escapable, slot: -1}
	if escapable {
		sc.slot = len(s.values)
		s.values = append(s.values, Undefined())
	}
	sc.start = len(s.values)
	h, _ := s.ids.Insert(0, sc)
	sc.id = uint32(h)
	s.scopes = append(s.scopes, sc)
	return sc
}

// CloseScope closes the innermost scope, which must be id, releasing
// every handle created inside it.
func (s *Store) CloseScope(id uint32) Status {
	n := len(s.scopes)
	if n == 0 {
		return StatusHandleScopeMismatch
	}
	top := s.scopes[n-1]
	if top.id != id {
		return StatusHandleScopeMismatch
	}
	clear(s.values[top.start:])
	s.values = s.values[:top.start]
	s.scopes = s.scopes[:n-1]
	s.ids.Remove(resource.Handle(id))
	return StatusOK
}

// Escape promotes h into the parent of scope id. Each escapable scope
// allows one escape.
func (s *Store) Escape(id, h uint32) (uint32, Status) {
	sc, ok := s.ids.Get(resource.Handle(id))
	if !ok || !sc.escapable {
		return 0, StatusInvalidArg
	}
	if sc.escaped {
		return 0, StatusEscapeCalledTwice
	}
	v, ok := s.Get(h)
	if !ok {
		return 0, StatusInvalidArg
	}
	sc.escaped = true
	s.values[sc.slot] = v
	return uint32(sc.slot), StatusOK
}

// roots calls fn for every value held by the handle stack.
func (s *Store) roots(fn func(Value)) {
	for _, v := range s.values[HandleUndefined:] {
		fn(v)
	}
}

// unwind closes sc together with any scopes a callee left open inside it.
func (s *Store) unwind(sc *Scope) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if s.scopes[i] == sc {
			for j := len(s.scopes) - 1; j >= i; j-- {
				s.CloseScope(s.scopes[j].id)
			}
			return
		}
	}
}
