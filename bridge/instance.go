package bridge

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmbridge "github.com/lovell/sharp-sub001"
	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/ffi"
	"github.com/lovell/sharp-sub001/memory"
)

// instance is one instantiation of the guest: the main one, or one per
// worker. Instances share memory and the host modules; each has its own
// globals, allocator state and marshalling stack.
type instance struct {
	name  string
	mod   api.Module
	table tableRef

	alloc *guestAllocator
	stack *memory.Stack
	ffi   *ffi.Marshaller

	// carved from the main instance's heap for workers
	scratch     uint32
	threadStack uint32
}

func (b *Bridge) newInstance(ctx context.Context, name string, mod api.Module) *instance {
	in := &instance{name: name, mod: mod, table: b.tableRefFor(name)}
	in.alloc = newGuestAllocator(ctx, mod)
	var alloc wasmbridge.Allocator
	if in.alloc != nil {
		alloc = in.alloc
	} else {
		Logger().Warn("guest exports no malloc; host allocation is disabled", zap.String("instance", name))
	}
	in.ffi = ffi.NewMarshaller(b.mem, nil, b.table, alloc)
	return in
}

// carve gives the instance its scratch stack, allocated with host or, when
// host is nil, with the instance's own allocator.
func (in *instance) carve(b *Bridge, host wasmbridge.Allocator) error {
	if host == nil && in.alloc != nil {
		host = in.alloc
	}
	size := b.cfg.Memory.ScratchStack
	if size == 0 || host == nil {
		return nil
	}
	base, err := host.Alloc(size, 16)
	if err != nil {
		return errors.Wrap(errors.PhaseMemory, errors.KindAllocation, err, "scratch stack for "+in.name)
	}
	in.scratch = base
	in.stack = memory.NewStack(base, base+size)
	var alloc wasmbridge.Allocator
	if in.alloc != nil {
		alloc = in.alloc
	}
	in.ffi = ffi.NewMarshaller(b.mem, in.stack, b.table, alloc)
	return nil
}

// tableRefFor picks the function table an instance calls through: the one
// the bridge provides when the guest imports it, otherwise the guest's own.
func (b *Bridge) tableRefFor(name string) tableRef {
	if b.link != nil && b.link.importsTable {
		return tableRef{module: memoryModule, name: tableExport}
	}
	if b.link != nil && b.link.exportsTable {
		return tableRef{module: name, name: tableExport}
	}
	return tableRef{}
}

// marshaller returns the instance marshaller once it has a stack to use.
func (in *instance) marshaller() (*ffi.Marshaller, error) {
	if in.stack == nil {
		return nil, errors.NotInitialized(errors.PhaseFFI, "scratch stack of "+in.name)
	}
	return in.ffi, nil
}
