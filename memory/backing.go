package memory

import (
	"github.com/tetratelabs/wazero/api"
)

// PageSize is the wasm page size.
const PageSize = 65536

// MaxPages is the largest page count a 32-bit linear memory can address.
const MaxPages = 65536

// Backing is the storage under a Manager.
type Backing interface {
	// Bytes returns the current buffer. The slice identity changes after Grow.
	Bytes() []byte
	// Pages returns the current size in pages.
	Pages() uint32
	// Grow adds deltaPages and returns the previous page count.
	Grow(deltaPages uint32) (prevPages uint32, ok bool)
	// MaxPages returns the page limit of this backing.
	MaxPages() uint32
}

// SliceBacking is a Backing over a Go byte slice. Each grow allocates a new
// slice and copies, so it exhibits the same identity change as a real
// non-shared wasm memory.
type SliceBacking struct {
	buf      []byte
	maxPages uint32
}

// NewSliceBacking creates a backing with initial and maximum page counts.
// maxPages of 0 means MaxPages.
func NewSliceBacking(initialPages, maxPages uint32) *SliceBacking {
	if maxPages == 0 || maxPages > MaxPages {
		maxPages = MaxPages
	}
	return &SliceBacking{
		buf:      make([]byte, uint64(initialPages)*PageSize),
		maxPages: maxPages,
	}
}

func (s *SliceBacking) Bytes() []byte { return s.buf }

func (s *SliceBacking) Pages() uint32 { return uint32(uint64(len(s.buf)) / PageSize) }

func (s *SliceBacking) MaxPages() uint32 { return s.maxPages }

func (s *SliceBacking) Grow(deltaPages uint32) (uint32, bool) {
	prev := s.Pages()
	if uint64(prev)+uint64(deltaPages) > uint64(s.maxPages) {
		return prev, false
	}
	if deltaPages == 0 {
		return prev, true
	}
	next := make([]byte, (uint64(prev)+uint64(deltaPages))*PageSize)
	copy(next, s.buf)
	s.buf = next
	return prev, true
}

// WazeroBacking adapts a wazero memory.
type WazeroBacking struct {
	mem api.Memory
}

// NewWazeroBacking wraps mem.
func NewWazeroBacking(mem api.Memory) *WazeroBacking {
	return &WazeroBacking{mem: mem}
}

func (w *WazeroBacking) Bytes() []byte {
	buf, ok := w.mem.Read(0, w.mem.Size())
	if !ok {
		return nil
	}
	return buf
}

func (w *WazeroBacking) Pages() uint32 { return w.mem.Size() / PageSize }

func (w *WazeroBacking) MaxPages() uint32 {
	if max, ok := w.mem.Definition().Max(); ok {
		return max
	}
	return MaxPages
}

func (w *WazeroBacking) Grow(deltaPages uint32) (uint32, bool) {
	return w.mem.Grow(deltaPages)
}

// Memory returns the wrapped wazero memory.
func (w *WazeroBacking) Memory() api.Memory { return w.mem }

var (
	_ Backing = (*SliceBacking)(nil)
	_ Backing = (*WazeroBacking)(nil)
)
