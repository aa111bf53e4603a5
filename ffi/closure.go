package ffi

import (
	"context"
	"slices"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/memory"
)

// ClosureFunc is the body of a closure, called with libffi's
// fun(cif, ret, args, user_data) arguments as guest addresses.
type ClosureFunc func(ctx context.Context, cif, ret, args, userData uint32) error

type closure struct {
	slot     uint32
	cif      CIF
	sig      Signature
	retByArg bool
	rtag     TypeTag
	target   ClosureFunc
	userData uint32
}

// guestTargetSig is void(ffi_cif*, void*, void**, void*).
var guestTargetSig = Signature{
	Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
}

// GuestClosure adapts the guest function at table index fn into a
// ClosureFunc.
func (m *Marshaller) GuestClosure(fn uint32) ClosureFunc {
	return func(ctx context.Context, cif, ret, args, userData uint32) error {
		_, err := m.table.CallIndirect(ctx, guestTargetSig, fn, []uint64{
			api.EncodeU32(cif), api.EncodeU32(ret), api.EncodeU32(args), api.EncodeU32(userData),
		})
		return err
	}
}

// PrepareClosure installs at table slot codeloc a function with the flat
// signature of the cif at cifPtr. Calling it re-creates the argument
// array libffi closures expect and runs target. The ffi_closure at
// closurePtr, when non-zero, gets its cif, fun and user_data fields filled.
func (m *Marshaller) PrepareClosure(ctx context.Context, closurePtr, cifPtr uint32, target ClosureFunc, fun, userData, codeloc uint32) (err error) {
	defer memory.Guard(&err)
	m.mem.Sync()
	v := m.mem.Views()

	cif := ReadCIF(v, cifPtr)
	if cif.ABI != ABIWasm32Emscripten {
		return badABI("ffi_prep_closure_loc", cif.ABI)
	}
	sig, retByArg, err := SignatureOf(v, cif)
	if err != nil {
		return err
	}
	for i := cif.NFixedArgs; i < cif.NArgs; i++ {
		if _, tag := Unbox(v, cif.ArgType(v, i)); tag >= Complex || tag == Void {
			return unsupportedTag("variadic argument", tag)
		}
	}
	_, rtag := Unbox(v, cif.RType)
	c := &closure{
		slot:     codeloc,
		cif:      cif,
		sig:      sig,
		retByArg: retByArg,
		rtag:     rtag,
		target:   target,
		userData: userData,
	}
	if err := m.table.Install(ctx, sig, codeloc, api.GoFunc(func(ctx context.Context, stack []uint64) {
		if err := m.invoke(ctx, c, stack); err != nil {
			panic(err)
		}
	})); err != nil {
		return err
	}
	if closurePtr != 0 {
		v.SetU32(closurePtr+4, cifPtr)
		v.SetU32(closurePtr+8, fun)
		v.SetU32(closurePtr+12, userData)
	}

	m.mu.Lock()
	m.closures[codeloc] = c
	m.mu.Unlock()
	Logger().Debug("closure prepared", zap.Uint32("slot", codeloc), zap.Stringer("sig", sig))
	return nil
}

// invoke runs one closure call. stack holds the flat parameters on entry
// and receives the flat result.
func (m *Marshaller) invoke(ctx context.Context, c *closure, stack []uint64) (err error) {
	defer memory.Guard(&err)
	m.mem.Sync()
	v := m.mem.Views()

	params := slices.Clone(stack[:len(c.sig.Params)])
	orig := m.stack.Save()
	defer m.stack.Restore(orig)

	k := 0
	var ret uint32
	if c.retByArg {
		ret = api.DecodeU32(params[0])
		k++
	} else if ret, err = m.stack.Alloc(8, 8); err != nil {
		return err
	}
	args, err := m.stack.Alloc(4*c.cif.NArgs, 4)
	if err != nil {
		return err
	}

	for i := range c.cif.NFixedArgs {
		typ, tag := Unbox(v, c.cif.ArgType(v, i))
		var at uint32
		switch tag {
		case Struct:
			at, err = m.copyStruct(v, typ, api.DecodeU32(params[k]))
			k++
		case LongDouble:
			if at, err = m.stack.Alloc(longDoubleLen, longDoubleLen); err == nil {
				v.SetU64(at, params[k])
				v.SetU64(at+8, params[k+1])
			}
			k += 2
		default:
			size := scalarSize(tag)
			if at, err = m.stack.Alloc(size, size); err == nil {
				storeScalar(v, tag, at, params[k])
			}
			k++
		}
		if err != nil {
			return err
		}
		v.SetU32(args+4*i, at)
	}

	if c.cif.Variadic() {
		va := api.DecodeU32(params[k])
		var off uint32
		for i := c.cif.NFixedArgs; i < c.cif.NArgs; i++ {
			typ, tag := Unbox(v, c.cif.ArgType(v, i))
			n, align := varargSlot(v, typ, tag)
			off = alignUp(off, align)
			at := va + off
			if tag == Struct {
				if at, err = m.copyStruct(v, typ, v.U32(at)); err != nil {
					return err
				}
			}
			v.SetU32(args+4*i, at)
			off += n
		}
	}

	if _, err := m.stack.Alloc(0, 16); err != nil {
		return err
	}
	if err := c.target(ctx, c.cif.Ptr, ret, args, c.userData); err != nil {
		return err
	}
	if len(c.sig.Results) == 1 {
		m.mem.Sync()
		stack[0] = loadScalar(v, c.rtag, ret)
	}
	return nil
}

func scalarSize(tag TypeTag) uint32 {
	switch tag {
	case Uint8, Sint8:
		return 1
	case Uint16, Sint16:
		return 2
	case Double, Uint64, Sint64:
		return 8
	}
	return 4
}

// storeScalar writes a flat wasm value to at in the in-memory width of tag.
func storeScalar(v *memory.Views, tag TypeTag, at uint32, x uint64) {
	switch scalarSize(tag) {
	case 1:
		v.SetU8(at, uint8(x))
	case 2:
		v.SetU16(at, uint16(x))
	case 4:
		v.SetU32(at, uint32(x))
	default:
		v.SetU64(at, x)
	}
}

// loadScalar reads a value of type tag at p as a flat wasm value,
// extending narrow integers by signedness.
func loadScalar(v *memory.Views, tag TypeTag, p uint32) uint64 {
	switch tag {
	case Uint8:
		return api.EncodeU32(uint32(v.U8(p)))
	case Sint8:
		return api.EncodeI32(int32(v.I8(p)))
	case Uint16:
		return api.EncodeU32(uint32(v.U16(p)))
	case Sint16:
		return api.EncodeI32(int32(v.I16(p)))
	case Double, Uint64, Sint64:
		return v.U64(p)
	}
	return api.EncodeU32(v.U32(p))
}

// AllocClosure allocates an ffi_closure of size bytes and a table slot for
// its trampoline. The slot index is stored both at codePtr and in the
// closure's first word.
func (m *Marshaller) AllocClosure(ctx context.Context, size, codePtr uint32) (ptr uint32, err error) {
	defer memory.Guard(&err)
	if m.alloc == nil {
		return 0, errors.NotInitialized(errors.PhaseFFI, "closure allocator")
	}
	size = max(size, closureSize)
	ptr, err = m.alloc.Alloc(size, 4)
	if err != nil {
		return 0, err
	}
	slot, err := m.table.AllocateSlot(ctx)
	if err != nil {
		m.alloc.Free(ptr, size, 4)
		return 0, err
	}
	m.mem.Sync()
	v := m.mem.Views()
	v.SetU32(codePtr, slot)
	v.SetU32(ptr, slot)
	return ptr, nil
}

// FreeClosure releases a closure from AllocClosure together with its slot.
func (m *Marshaller) FreeClosure(ptr uint32) (err error) {
	defer memory.Guard(&err)
	if ptr == 0 {
		return nil
	}
	m.mem.Sync()
	slot := m.mem.Views().U32(ptr)

	m.mu.Lock()
	delete(m.closures, slot)
	m.mu.Unlock()

	m.table.FreeSlot(slot)
	if m.alloc != nil {
		m.alloc.Free(ptr, closureSize, 4)
	}
	return nil
}

// Closures returns the number of installed trampolines.
func (m *Marshaller) Closures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.closures)
}

// StatusOf maps a PrepareClosure error to the ffi_status returned to the guest.
func StatusOf(err error) int32 {
	if err == nil {
		return StatusOK
	}
	if e, ok := err.(*errors.Error); ok && e.Kind == errors.KindUnsupported {
		return StatusBadABI
	}
	return StatusBadTypedef
}
