package bridge

import (
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"

	"github.com/lovell/sharp-sub001/memory"
)

// lateBacking stands in for the guest memory until it exists. The manager,
// the napi env and the filesystem are all built before the module is
// instantiated, so they hold this and see an empty memory until bind.
type lateBacking struct {
	maxPages uint32
	mem      atomic.Pointer[memory.WazeroBacking]
}

func newLateBacking(maxPages uint32) *lateBacking {
	return &lateBacking{maxPages: maxPages}
}

func (l *lateBacking) bind(mem api.Memory) { l.mem.Store(memory.NewWazeroBacking(mem)) }

func (l *lateBacking) bound() bool { return l.mem.Load() != nil }

func (l *lateBacking) Bytes() []byte {
	if b := l.mem.Load(); b != nil {
		return b.Bytes()
	}
	return nil
}

func (l *lateBacking) Pages() uint32 {
	if b := l.mem.Load(); b != nil {
		return b.Pages()
	}
	return 0
}

func (l *lateBacking) MaxPages() uint32 {
	if b := l.mem.Load(); b != nil {
		return min(b.MaxPages(), l.maxPages)
	}
	return l.maxPages
}

func (l *lateBacking) Grow(delta uint32) (uint32, bool) {
	if b := l.mem.Load(); b != nil {
		return b.Grow(delta)
	}
	return 0, false
}

var _ memory.Backing = (*lateBacking)(nil)
