package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmbridge "github.com/lovell/sharp-sub001"
	"github.com/lovell/sharp-sub001/errors"
)

// mallocAlign is what the guest's malloc guarantees without memalign.
const mallocAlign = 16

// guestAllocator calls one instance's exported malloc and free.
type guestAllocator struct {
	mu       sync.Mutex
	ctx      context.Context
	malloc   api.Function
	free     api.Function
	memalign api.Function
	stack    [2]uint64
}

// newGuestAllocator returns nil when mod exports no malloc.
func newGuestAllocator(ctx context.Context, mod api.Module) *guestAllocator {
	malloc := mod.ExportedFunction("malloc")
	if malloc == nil {
		return nil
	}
	a := &guestAllocator{ctx: ctx, malloc: malloc, free: mod.ExportedFunction("free")}
	for _, name := range []string{"emscripten_builtin_memalign", "memalign", "aligned_alloc"} {
		if fn := mod.ExportedFunction(name); fn != nil {
			a.memalign = fn
			break
		}
	}
	return a
}

func (a *guestAllocator) Alloc(size, align uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	switch {
	case align <= mallocAlign:
		a.stack[0] = api.EncodeU32(size)
		err = a.malloc.CallWithStack(a.ctx, a.stack[:1])
	case a.memalign != nil:
		a.stack[0] = api.EncodeU32(align)
		a.stack[1] = api.EncodeU32(size)
		err = a.memalign.CallWithStack(a.ctx, a.stack[:2])
	default:
		return 0, errors.Unsupported(errors.PhaseMemory, "alignment above 16 without an exported memalign")
	}
	if err != nil {
		return 0, err
	}
	ptr := api.DecodeU32(a.stack[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseMemory, size, align)
	}
	return ptr, nil
}

func (a *guestAllocator) Free(ptr, size, align uint32) {
	if a.free == nil || ptr == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stack[0] = api.EncodeU32(ptr)
	if err := a.free.CallWithStack(a.ctx, a.stack[:1]); err != nil {
		Logger().Warn("free failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

// lateAllocator forwards to the main instance's allocator once there is one.
type lateAllocator struct {
	a atomic.Pointer[guestAllocator]
}

func (l *lateAllocator) bind(a *guestAllocator) { l.a.Store(a) }

func (l *lateAllocator) Alloc(size, align uint32) (uint32, error) {
	a := l.a.Load()
	if a == nil {
		return 0, errors.NotInitialized(errors.PhaseMemory, "guest allocator")
	}
	return a.Alloc(size, align)
}

func (l *lateAllocator) Free(ptr, size, align uint32) {
	if a := l.a.Load(); a != nil {
		a.Free(ptr, size, align)
	}
}

var (
	_ wasmbridge.Allocator = (*guestAllocator)(nil)
	_ wasmbridge.Allocator = (*lateAllocator)(nil)
)
