package bridge

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/ffi"
)

// marshallerFor returns the marshaller of the instance ctx runs on.
func (b *Bridge) marshallerFor(ctx context.Context) (*ffi.Marshaller, error) {
	in := b.instanceFor(ctx)
	if in == nil {
		return nil, errors.NotInitialized(errors.PhaseFFI, "instance")
	}
	return in.marshaller()
}

// ffiImports are the JS halves of libffi's emscripten port. They run on the
// calling instance: a function pointer is only meaningful in the table of
// the thread that holds it.
func (b *Bridge) ffiImports() []hostFunc {
	return []hostFunc{
		{
			name:   "ffi_call_js",
			params: types(i32, i32, i32, i32),
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				m, err := b.marshallerFor(ctx)
				if err == nil {
					err = m.Call(ctx, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]),
						api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))
				}
				if err != nil {
					panic(err)
				}
			}),
		},
		{
			name:    "ffi_prep_closure_loc_js",
			params:  types(i32, i32, i32, i32, i32),
			results: types(i32),
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				closure, cif := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
				fun, userData, codeloc := api.DecodeU32(stack[2]), api.DecodeU32(stack[3]), api.DecodeU32(stack[4])
				m, err := b.marshallerFor(ctx)
				if err == nil {
					err = m.PrepareClosure(ctx, closure, cif, m.GuestClosure(fun), fun, userData, codeloc)
				}
				stack[0] = api.EncodeI32(ffi.StatusOf(err))
			}),
		},
		{
			name:    "ffi_closure_alloc_js",
			params:  types(i32, i32),
			results: types(i32),
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				var ptr uint32
				m, err := b.marshallerFor(ctx)
				if err == nil {
					ptr, err = m.AllocClosure(ctx, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
				}
				if err != nil {
					Logger().Warn("ffi_closure_alloc failed", zap.Error(err))
				}
				stack[0] = api.EncodeU32(ptr)
			}),
		},
		{
			name:   "ffi_closure_free_js",
			params: types(i32),
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				m, err := b.marshallerFor(ctx)
				if err == nil {
					err = m.FreeClosure(api.DecodeU32(stack[0]))
				}
				if err != nil {
					Logger().Warn("ffi_closure_free failed", zap.Error(err))
				}
			}),
		},
	}
}
