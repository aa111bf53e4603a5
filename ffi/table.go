package ffi

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// Table is the guest's indirect function table as the marshaller sees it.
type Table interface {
	// CallIndirect calls the function at index, which must have signature sig.
	CallIndirect(ctx context.Context, sig Signature, index uint32, args []uint64) ([]uint64, error)
	// Install places fn, typed sig, at slot.
	Install(ctx context.Context, sig Signature, slot uint32, fn api.GoFunction) error
	// AllocateSlot reserves an empty slot, growing the table if needed.
	AllocateSlot(ctx context.Context) (uint32, error)
	// FreeSlot returns slot to the free list.
	FreeSlot(slot uint32)
}
