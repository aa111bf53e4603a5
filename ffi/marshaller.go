package ffi

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmbridge "github.com/lovell/sharp-sub001"
	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/memory"
)

// Marshaller performs ffi_call and ffi_prep_closure_loc for one sandbox.
type Marshaller struct {
	mem   *memory.Manager
	stack wasmbridge.Stack
	table Table
	alloc wasmbridge.Allocator

	mu       sync.Mutex
	closures map[uint32]*closure // by trampoline slot
}

// NewMarshaller creates a marshaller. alloc may be nil when closures are
// never allocated through AllocClosure.
func NewMarshaller(mem *memory.Manager, stack wasmbridge.Stack, table Table, alloc wasmbridge.Allocator) *Marshaller {
	return &Marshaller{
		mem:      mem,
		stack:    stack,
		table:    table,
		alloc:    alloc,
		closures: make(map[uint32]*closure),
	}
}

// Call invokes table entry fn as described by the cif at cifPtr. avalue
// points to an array of argument pointers; the result, if any, is stored
// at rvalue. Scratch space is taken from the stack and released before
// Call returns, on success or failure.
func (m *Marshaller) Call(ctx context.Context, cifPtr, fn, rvalue, avalue uint32) (err error) {
	defer memory.Guard(&err)
	m.mem.Sync()
	v := m.mem.Views()

	cif := ReadCIF(v, cifPtr)
	if cif.ABI != ABIWasm32Emscripten {
		return badABI("ffi_call", cif.ABI)
	}
	sig, retByArg, err := SignatureOf(v, cif)
	if err != nil {
		return err
	}
	_, rtag := Unbox(v, cif.RType)

	orig := m.stack.Save()
	defer m.stack.Restore(orig)

	args := make([]uint64, 0, len(sig.Params))
	if retByArg {
		args = append(args, api.EncodeU32(rvalue))
	}
	for i := range cif.NFixedArgs {
		ptr, tag := Unbox(v, cif.ArgType(v, i))
		args, err = m.pushArg(v, args, ptr, tag, v.U32(avalue+4*i))
		if err != nil {
			return err
		}
	}
	if cif.Variadic() {
		buf, err := m.packVarargs(v, cif, avalue)
		if err != nil {
			return err
		}
		args = append(args, api.EncodeU32(buf))
	}

	if _, err := m.stack.Alloc(0, 16); err != nil {
		return err
	}
	Logger().Debug("ffi_call",
		zap.Uint32("fn", fn),
		zap.Stringer("sig", sig),
		zap.Uint32("nargs", cif.NArgs))
	res, err := m.table.CallIndirect(ctx, sig, fn, args)
	if err != nil {
		return err
	}
	if len(res) == 0 || rvalue == 0 {
		return nil
	}

	m.mem.Sync()
	storeResult(v, rtag, rvalue, res[0])
	return nil
}

// pushArg appends the flattened form of the argument stored at p.
func (m *Marshaller) pushArg(v *memory.Views, args []uint64, typ uint32, tag TypeTag, p uint32) ([]uint64, error) {
	switch tag {
	case Int, Uint32, Sint32, Pointer:
		return append(args, api.EncodeU32(v.U32(p))), nil
	case Uint8:
		return append(args, api.EncodeU32(uint32(v.U8(p)))), nil
	case Sint8:
		return append(args, api.EncodeI32(int32(v.I8(p)))), nil
	case Uint16:
		return append(args, api.EncodeU32(uint32(v.U16(p)))), nil
	case Sint16:
		return append(args, api.EncodeI32(int32(v.I16(p)))), nil
	case Float:
		return append(args, api.EncodeF32(v.F32(p))), nil
	case Double:
		return append(args, api.EncodeF64(v.F64(p))), nil
	case Uint64, Sint64:
		return append(args, v.U64(p)), nil
	case LongDouble:
		return append(args, v.U64(p), v.U64(p+8)), nil
	case Struct:
		dst, err := m.copyStruct(v, typ, p)
		if err != nil {
			return nil, err
		}
		return append(args, api.EncodeU32(dst)), nil
	}
	return nil, unsupportedTag("argument", tag)
}

// copyStruct copies the struct at src onto the scratch stack, aligned as
// its descriptor says, and returns the copy's address.
func (m *Marshaller) copyStruct(v *memory.Views, typ, src uint32) (uint32, error) {
	t := ReadType(v, typ)
	dst, err := m.stack.Alloc(t.Size, uint32(t.Alignment))
	if err != nil {
		return 0, err
	}
	v.Copy(dst, src, t.Size)
	return dst, nil
}

// varargSlot returns the size and alignment a vararg of this type occupies
// in the va_list buffer.
func varargSlot(v *memory.Views, typ uint32, tag TypeTag) (size, align uint32) {
	switch tag {
	case Uint8, Sint8:
		return 1, 1
	case Uint16, Sint16:
		return 2, 2
	case Int, Uint32, Sint32, Pointer, Float, Struct:
		return 4, 4
	case Double, Uint64, Sint64:
		return 8, 8
	case LongDouble:
		t := ReadType(v, typ)
		if t.Size == 0 {
			return longDoubleLen, longDoubleLen
		}
		return t.Size, max(uint32(t.Alignment), 1)
	}
	return 0, 1
}

func alignUp(n, align uint32) uint32 { return (n + align - 1) &^ (align - 1) }

// packVarargs lays the variadic arguments out the way va_arg reads them:
// ascending, each at its natural alignment. Struct varargs are passed as a
// pointer to a stack copy.
func (m *Marshaller) packVarargs(v *memory.Views, cif CIF, avalue uint32) (uint32, error) {
	type slot struct {
		typ, off uint32
		tag      TypeTag
	}
	slots := make([]slot, 0, cif.NArgs-cif.NFixedArgs)
	var size uint32
	for i := cif.NFixedArgs; i < cif.NArgs; i++ {
		typ, tag := Unbox(v, cif.ArgType(v, i))
		if tag >= Complex || tag == Void {
			return 0, unsupportedTag("variadic argument", tag)
		}
		n, align := varargSlot(v, typ, tag)
		size = alignUp(size, align)
		slots = append(slots, slot{typ: typ, off: size, tag: tag})
		size += n
	}
	buf, err := m.stack.Alloc(size, 16)
	if err != nil {
		return 0, err
	}
	for i, s := range slots {
		p := v.U32(avalue + 4*(cif.NFixedArgs+uint32(i)))
		at := buf + s.off
		switch s.tag {
		case Uint8, Sint8:
			v.SetU8(at, v.U8(p))
		case Uint16, Sint16:
			v.SetU16(at, v.U16(p))
		case Int, Uint32, Sint32, Pointer, Float:
			v.SetU32(at, v.U32(p))
		case Double, Uint64, Sint64:
			v.SetU64(at, v.U64(p))
		case LongDouble:
			v.SetU64(at, v.U64(p))
			v.SetU64(at+8, v.U64(p+8))
		case Struct:
			dst, err := m.copyStruct(v, s.typ, p)
			if err != nil {
				return 0, err
			}
			v.SetU32(at, dst)
		}
	}
	return buf, nil
}

// storeResult writes a scalar result to rvalue at the width of its tag.
func storeResult(v *memory.Views, tag TypeTag, rvalue uint32, r uint64) {
	switch tag {
	case Int, Uint32, Sint32, Pointer:
		v.SetU32(rvalue, api.DecodeU32(r))
	case Uint8, Sint8:
		v.SetU8(rvalue, uint8(r))
	case Uint16, Sint16:
		v.SetU16(rvalue, uint16(r))
	case Float:
		v.SetF32(rvalue, api.DecodeF32(r))
	case Double:
		v.SetF64(rvalue, api.DecodeF64(r))
	case Uint64, Sint64:
		v.SetU64(rvalue, r)
	}
}

func badABI(op string, abi uint32) error {
	return errors.New(errors.PhaseFFI, errors.KindUnsupported).
		Detail("%s: abi %d", op, abi).Value(abi).Build()
}
