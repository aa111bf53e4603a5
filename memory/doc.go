// Package memory owns the sandbox's linear memory.
//
// A Manager wraps one Backing (a pure Go buffer or a wazero api.Memory) and
// hands out Views. A grow replaces the backing buffer, so a Views re-derives
// its slice whenever the manager's generation moved since it last looked:
//
//	v := m.Views()
//	v.SetU32(ptr, 7)
//	m.Grow(ctx, 64<<20)
//	v.U32(ptr) // still 7, read through the new buffer
//
// Raw slices returned by Views.Bytes are only valid until the next call that
// may allocate. Everything else in the bridge goes through Views accessors.
//
// Out-of-range accesses through Views panic with an *errors.Error of kind
// out_of_bounds, matching a trapping wasm load/store; host functions convert
// the panic into a trap or an EFAULT-style return.
package memory
