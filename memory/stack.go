package memory

import (
	"sync"

	wasmbridge "github.com/lovell/sharp-sub001"
	"github.com/lovell/sharp-sub001/errors"
)

// Stack is a downward-growing scratch stack over [base, top) of linear
// memory. Modules that export stackSave/stackRestore/stackAlloc use their
// own stack instead; this one serves hosts that reserve a region themselves.
type Stack struct {
	mu   sync.Mutex
	base uint32
	top  uint32
	sp   uint32
}

// NewStack creates a stack over [base, top). sp starts at top.
func NewStack(base, top uint32) *Stack {
	return &Stack{base: base, top: top, sp: top}
}

func (s *Stack) Save() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sp
}

func (s *Stack) Restore(sp uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sp < s.base || sp > s.top {
		panic(errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Detail("stack pointer %d outside [%d, %d]", sp, s.base, s.top).Build())
	}
	s.sp = sp
}

// Alloc reserves size bytes aligned to align (a power of two, 0 meaning 1).
func (s *Stack) Alloc(size, align uint32) (uint32, error) {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return 0, errors.InvalidInput(errors.PhaseMemory, "stack alignment must be a power of two")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if size > s.sp-s.base {
		return 0, errors.New(errors.PhaseMemory, errors.KindAllocation).
			Detail("scratch stack overflow: need %d bytes, %d free", size, s.sp-s.base).Build()
	}
	sp := (s.sp - size) &^ (align - 1)
	if sp < s.base {
		return 0, errors.New(errors.PhaseMemory, errors.KindAllocation).
			Detail("scratch stack overflow: need %d bytes aligned to %d", size, align).Build()
	}
	s.sp = sp
	return sp, nil
}

// Base returns the low end of the region.
func (s *Stack) Base() uint32 { return s.base }

// Top returns the high end of the region.
func (s *Stack) Top() uint32 { return s.top }

var _ wasmbridge.Stack = (*Stack)(nil)
