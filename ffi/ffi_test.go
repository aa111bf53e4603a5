package ffi

import (
	"context"
	"fmt"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/memory"
)

type tableEntry struct {
	sig Signature
	fn  api.GoFunction
}

// goTable is a Table whose entries are all Go functions. Like a wasm
// table it has a current size: installs past it fail until AllocateSlot
// grows the table.
type goTable struct {
	entries map[uint32]tableEntry
	size    uint32
	free    []uint32
}

// goTableSize is the size of the guest's own elements.
const goTableSize = 16

func newGoTable() *goTable {
	return &goTable{entries: make(map[uint32]tableEntry), size: goTableSize}
}

func (t *goTable) CallIndirect(ctx context.Context, sig Signature, index uint32, args []uint64) (res []uint64, err error) {
	if index >= t.size {
		return nil, fmt.Errorf("table index %d out of bounds (size %d)", index, t.size)
	}
	e, ok := t.entries[index]
	if !ok {
		return nil, fmt.Errorf("table[%d] is null", index)
	}
	if !e.sig.Equal(sig) {
		return nil, fmt.Errorf("table[%d]: indirect call type mismatch: %s != %s", index, e.sig, sig)
	}
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()
	stack := make([]uint64, max(len(sig.Params), len(sig.Results)))
	copy(stack, args)
	e.fn.Call(ctx, stack)
	return stack[:len(sig.Results)], nil
}

func (t *goTable) Install(_ context.Context, sig Signature, slot uint32, fn api.GoFunction) error {
	if slot >= t.size {
		return fmt.Errorf("install slot %d: out of bounds table access (size %d)", slot, t.size)
	}
	t.entries[slot] = tableEntry{sig: sig, fn: fn}
	return nil
}

func (t *goTable) AllocateSlot(context.Context) (uint32, error) {
	if n := len(t.free); n > 0 {
		s := t.free[n-1]
		t.free = t.free[:n-1]
		return s, nil
	}
	t.size++
	return t.size - 1, nil
}

func (t *goTable) FreeSlot(slot uint32) {
	delete(t.entries, slot)
	t.free = append(t.free, slot)
}

type bumpAllocator struct{ next uint32 }

func (a *bumpAllocator) Alloc(size, align uint32) (uint32, error) {
	p := alignUp(a.next, align)
	a.next = p + size
	return p, nil
}

func (a *bumpAllocator) Free(uint32, uint32, uint32) {}

const (
	stackBase = 64 << 10
	stackTop  = 128 << 10
)

type harness struct {
	m     *Marshaller
	v     *memory.Views
	stack *memory.Stack
	table *goTable
	heap  uint32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := memory.NewManager(memory.NewSliceBacking(2, 4))
	stack := memory.NewStack(stackBase, stackTop)
	table := newGoTable()
	return &harness{
		m:     NewMarshaller(mem, stack, table, &bumpAllocator{next: 32 << 10}),
		v:     mem.Views(),
		stack: stack,
		table: table,
		heap:  1024,
	}
}

func (h *harness) reserve(n, align uint32) uint32 {
	p := alignUp(h.heap, align)
	h.heap = p + n
	return p
}

func (h *harness) prim(tag TypeTag, size, align uint32) uint32 {
	p := h.reserve(typeSize, 4)
	h.v.SetU32(p, size)
	h.v.SetU16(p+4, uint16(align))
	h.v.SetU16(p+6, uint16(tag))
	return p
}

func (h *harness) structOf(size, align uint32, members ...uint32) uint32 {
	elems := h.reserve(4*uint32(len(members)+1), 4)
	for i, m := range members {
		h.v.SetU32(elems+4*uint32(i), m)
	}
	p := h.prim(Struct, size, align)
	h.v.SetU32(p+8, elems)
	return p
}

func (h *harness) cif(rtype, nfixed uint32, args ...uint32) uint32 {
	arr := h.reserve(4*uint32(len(args)), 4)
	for i, a := range args {
		h.v.SetU32(arr+4*uint32(i), a)
	}
	p := h.reserve(cifSize, 4)
	h.v.SetU32(p, ABIWasm32Emscripten)
	h.v.SetU32(p+4, uint32(len(args)))
	h.v.SetU32(p+8, arr)
	h.v.SetU32(p+12, rtype)
	h.v.SetU32(p+24, nfixed)
	return p
}

// avalue stores each value in its own 16-byte cell and returns the
// pointer array.
func (h *harness) avalue(vals ...any) uint32 {
	arr := h.reserve(4*uint32(len(vals)), 4)
	for i, x := range vals {
		cell := h.reserve(16, 16)
		switch x := x.(type) {
		case int8:
			h.v.SetI8(cell, x)
		case int32:
			h.v.SetI32(cell, x)
		case int64:
			h.v.SetI64(cell, x)
		case float32:
			h.v.SetF32(cell, x)
		case float64:
			h.v.SetF64(cell, x)
		case uint32:
			h.v.SetU32(cell, x)
		default:
			panic(fmt.Sprintf("avalue: %T", x))
		}
		h.v.SetU32(arr+4*uint32(i), cell)
	}
	return arr
}

type prims struct {
	void, sint8, sint32, sint64, float, double, pointer uint32
}

func (h *harness) prims() prims {
	return prims{
		void:    h.prim(Void, 1, 1),
		sint8:   h.prim(Sint8, 1, 1),
		sint32:  h.prim(Sint32, 4, 4),
		sint64:  h.prim(Sint64, 8, 8),
		float:   h.prim(Float, 4, 4),
		double:  h.prim(Double, 8, 8),
		pointer: h.prim(Pointer, 4, 4),
	}
}

var sigIID = Signature{
	Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeF64},
	Results: []api.ValueType{api.ValueTypeF64},
}

func mulAdd(_ context.Context, stack []uint64) {
	a, b := api.DecodeI32(stack[0]), api.DecodeI32(stack[1])
	stack[0] = api.EncodeF64(float64(a+b) * api.DecodeF64(stack[2]))
}

func TestCallRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.prims()
	cif := h.cif(p.double, 3, p.sint32, p.sint32, p.double)
	h.table.Install(ctx, sigIID, 7, api.GoFunc(mulAdd))

	rvalue := h.reserve(8, 8)
	if err := h.m.Call(ctx, cif, 7, rvalue, h.avalue(int32(3), int32(4), 1.5)); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := h.v.F64(rvalue); got != 10.5 {
		t.Fatalf("result = %v, want 10.5", got)
	}
	if h.stack.Save() != stackTop {
		t.Fatalf("stack pointer %d not restored", h.stack.Save())
	}
}

func TestClosureRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.prims()
	cif := h.cif(p.double, 3, p.sint32, p.sint32, p.double)

	var calls int
	target := func(_ context.Context, gotCIF, ret, args, userData uint32) error {
		calls++
		if gotCIF != cif || userData != 99 {
			return fmt.Errorf("cif %d user_data %d", gotCIF, userData)
		}
		a := h.v.I32(h.v.U32(args))
		b := h.v.I32(h.v.U32(args + 4))
		c := h.v.F64(h.v.U32(args + 8))
		h.v.SetF64(ret, float64(a+b)*c)
		return nil
	}

	codePtr := h.reserve(4, 4)
	closurePtr, err := h.m.AllocClosure(ctx, closureSize, codePtr)
	if err != nil {
		t.Fatalf("AllocClosure: %v", err)
	}
	slot := h.v.U32(codePtr)
	if h.v.U32(closurePtr) != slot {
		t.Fatalf("closure word 0 = %d, want slot %d", h.v.U32(closurePtr), slot)
	}
	if err := h.m.PrepareClosure(ctx, closurePtr, cif, target, 0, 99, slot); err != nil {
		t.Fatalf("PrepareClosure: %v", err)
	}
	if h.v.U32(closurePtr+4) != cif || h.v.U32(closurePtr+12) != 99 {
		t.Fatal("closure fields not filled")
	}

	res, err := h.table.CallIndirect(ctx, sigIID, slot, []uint64{
		api.EncodeI32(3), api.EncodeI32(4), api.EncodeF64(1.5),
	})
	if err != nil {
		t.Fatalf("direct call: %v", err)
	}
	if got := api.DecodeF64(res[0]); got != 10.5 {
		t.Fatalf("direct result = %v", got)
	}

	// forward call into the trampoline
	rvalue := h.reserve(8, 8)
	if err := h.m.Call(ctx, cif, slot, rvalue, h.avalue(int32(-1), int32(5), 0.25)); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := h.v.F64(rvalue); got != 1 {
		t.Fatalf("forward result = %v, want 1", got)
	}
	if calls != 2 {
		t.Fatalf("target called %d times", calls)
	}
	if h.stack.Save() != stackTop {
		t.Fatal("stack pointer not restored")
	}

	if err := h.m.FreeClosure(closurePtr); err != nil {
		t.Fatal(err)
	}
	if h.m.Closures() != 0 {
		t.Fatal("closure still registered")
	}
	if _, err := h.table.CallIndirect(ctx, sigIID, slot, nil); err == nil {
		t.Fatal("freed slot still callable")
	}
}

func TestClosuresInGrownSlots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.prims()
	cif := h.cif(p.sint32, 1, p.sint32)

	if err := h.table.Install(ctx, Signature{}, goTableSize, api.GoFunc(func(context.Context, []uint64) {})); err == nil {
		t.Fatal("install past the table size accepted")
	}

	var closures []uint32
	for i := range 3 {
		codePtr := h.reserve(4, 4)
		closurePtr, err := h.m.AllocClosure(ctx, closureSize, codePtr)
		if err != nil {
			t.Fatalf("AllocClosure %d: %v", i, err)
		}
		slot := h.v.U32(codePtr)
		if slot < goTableSize {
			t.Fatalf("closure %d in slot %d, want a grown slot", i, slot)
		}
		add := int32(i * 100)
		target := func(_ context.Context, _, ret, args, _ uint32) error {
			h.v.SetI32(ret, h.v.I32(h.v.U32(args))+add)
			return nil
		}
		if err := h.m.PrepareClosure(ctx, closurePtr, cif, target, 0, 0, slot); err != nil {
			t.Fatalf("PrepareClosure in slot %d: %v", slot, err)
		}
		rvalue := h.reserve(4, 4)
		if err := h.m.Call(ctx, cif, slot, rvalue, h.avalue(int32(7))); err != nil {
			t.Fatalf("Call slot %d: %v", slot, err)
		}
		if got := h.v.I32(rvalue); got != 7+add {
			t.Fatalf("slot %d = %d, want %d", slot, got, 7+add)
		}
		closures = append(closures, closurePtr)
	}
	for _, c := range closures {
		if err := h.m.FreeClosure(c); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGuestClosure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.prims()
	cif := h.cif(p.sint32, 2, p.sint8, p.float)

	// the guest's fun(cif, ret, args, user_data)
	h.table.Install(ctx, guestTargetSig, 3, api.GoFunc(func(_ context.Context, stack []uint64) {
		ret, args := api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
		a := h.v.I8(h.v.U32(args))
		b := h.v.F32(h.v.U32(args + 4))
		h.v.SetI32(ret, int32(a)*int32(b)+int32(api.DecodeU32(stack[3])))
	}))
	if err := h.m.PrepareClosure(ctx, 0, cif, h.m.GuestClosure(3), 3, 1000, 12); err != nil {
		t.Fatal(err)
	}
	rvalue := h.reserve(4, 4)
	if err := h.m.Call(ctx, cif, 12, rvalue, h.avalue(int8(-3), float32(7))); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := h.v.I32(rvalue); got != 979 {
		t.Fatalf("result = %d, want 979", got)
	}
}

func TestUnbox(t *testing.T) {
	h := newHarness(t)
	p := h.prims()
	wrapped := h.structOf(8, 8, p.double)
	tests := []struct {
		name    string
		typ     uint32
		wantPtr uint32
		wantTag TypeTag
	}{
		{"scalar", p.sint32, p.sint32, Sint32},
		{"single member", wrapped, p.double, Double},
		{"nested single member", h.structOf(8, 8, wrapped), p.double, Double},
		{"empty", h.structOf(0, 1), 0, Void},
		{"two members", h.structOf(8, 4, p.sint32, p.sint32), 0, Struct},
	}
	for _, tt := range tests {
		ptr, tag := Unbox(h.v, tt.typ)
		if tag != tt.wantTag {
			t.Fatalf("%s: tag = %s, want %s", tt.name, tag, tt.wantTag)
		}
		if tt.wantPtr != 0 && ptr != tt.wantPtr {
			t.Fatalf("%s: ptr = %d, want %d", tt.name, ptr, tt.wantPtr)
		}
	}
}

func TestSignatureOf(t *testing.T) {
	h := newHarness(t)
	p := h.prims()
	ld := h.prim(LongDouble, 16, 16)
	pair := h.structOf(8, 4, p.sint32, p.sint32)
	tests := []struct {
		name     string
		cif      uint32
		want     string
		retByArg bool
	}{
		{"scalars", h.cif(p.double, 3, p.sint32, p.float, p.sint64), "difj", false},
		{"void", h.cif(p.void, 1, p.pointer), "vi", false},
		{"empty struct is void", h.cif(h.structOf(0, 1), 0), "v", false},
		{"long double arg", h.cif(p.sint8, 1, ld), "ijj", false},
		{"struct return", h.cif(pair, 1, pair), "vii", true},
		{"long double return", h.cif(ld, 0), "vi", true},
		{"variadic", h.cif(p.sint32, 1, p.pointer, p.double, p.sint32), "iii", false},
	}
	for _, tt := range tests {
		sig, retByArg, err := SignatureOf(h.v, ReadCIF(h.v, tt.cif))
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if sig.String() != tt.want || retByArg != tt.retByArg {
			t.Fatalf("%s: got %s (byArg %v), want %s (byArg %v)", tt.name, sig, retByArg, tt.want, tt.retByArg)
		}
	}
}

func TestStructArgumentsAndReturn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.prims()
	pair := h.structOf(8, 4, p.sint32, p.sint32)
	cif := h.cif(pair, 1, pair)

	arg := h.reserve(8, 4)
	h.v.SetI32(arg, 20)
	h.v.SetI32(arg+4, 22)
	avalue := h.reserve(4, 4)
	h.v.SetU32(avalue, arg)

	sig := Signature{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}}
	h.table.Install(ctx, sig, 4, api.GoFunc(func(_ context.Context, stack []uint64) {
		ret, in := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
		if in == arg || in < stackBase || in >= stackTop {
			panic(fmt.Errorf("struct passed at %d, want a stack copy", in))
		}
		// the callee owns its copy
		h.v.SetI32(in, 0)
		h.v.SetI32(ret, h.v.I32(in+4)*2)
		h.v.SetI32(ret+4, -1)
	}))
	rvalue := h.reserve(8, 4)
	if err := h.m.Call(ctx, cif, 4, rvalue, avalue); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if h.v.I32(rvalue) != 44 || h.v.I32(rvalue+4) != -1 {
		t.Fatalf("returned struct = {%d, %d}", h.v.I32(rvalue), h.v.I32(rvalue+4))
	}
	if h.v.I32(arg) != 20 {
		t.Fatal("caller's struct modified")
	}
}

func TestVarargs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.prims()
	cif := h.cif(p.sint32, 1, p.sint32, p.double, p.sint8, p.sint32)
	avalue := h.avalue(int32(1), 2.5, int8(-4), int32(100))

	// fixed i32, then the va_list pointer
	sig := Signature{
		Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	}
	h.table.Install(ctx, sig, 2, api.GoFunc(func(_ context.Context, stack []uint64) {
		n, va := api.DecodeI32(stack[0]), api.DecodeU32(stack[1])
		d := h.v.F64(va)
		c := h.v.I8(va + 8)
		i := h.v.I32(va + 12)
		stack[0] = api.EncodeI32(n + int32(d*2) + int32(c) + i)
	}))
	rvalue := h.reserve(4, 4)
	if err := h.m.Call(ctx, cif, 2, rvalue, avalue); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := h.v.I32(rvalue); got != 102 {
		t.Fatalf("variadic callee = %d, want 102", got)
	}

	// the same call arriving at a closure
	target := func(_ context.Context, _, ret, args, _ uint32) error {
		n := h.v.I32(h.v.U32(args))
		d := h.v.F64(h.v.U32(args + 4))
		c := h.v.I8(h.v.U32(args + 8))
		i := h.v.I32(h.v.U32(args + 12))
		h.v.SetI32(ret, n+int32(d*2)+int32(c)+i)
		return nil
	}
	if err := h.m.PrepareClosure(ctx, 0, cif, target, 0, 0, 2); err != nil {
		t.Fatal(err)
	}
	h.v.SetI32(rvalue, 0)
	if err := h.m.Call(ctx, cif, 2, rvalue, avalue); err != nil {
		t.Fatalf("Call via closure: %v", err)
	}
	if got := h.v.I32(rvalue); got != 102 {
		t.Fatalf("variadic closure = %d, want 102", got)
	}
}

func TestCallErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.prims()
	cplx := h.prim(Complex, 16, 8)

	h.table.Install(ctx, Signature{}, 1, api.GoFunc(func(context.Context, []uint64) {
		panic(fmt.Errorf("callee trapped"))
	}))

	tests := []struct {
		name   string
		cif    uint32
		kind   errors.Kind
		status int32
	}{
		{"complex return", h.cif(cplx, 0), errors.KindNotImplemented, StatusBadTypedef},
		{"complex argument", h.cif(p.void, 1, cplx), errors.KindNotImplemented, StatusBadTypedef},
		{"unknown tag", h.cif(h.prim(40, 4, 4), 0), errors.KindInvalidData, StatusBadTypedef},
	}
	for _, tt := range tests {
		err := h.m.Call(ctx, tt.cif, 1, 0, h.avalue(uint32(0)))
		e, ok := err.(*errors.Error)
		if !ok || e.Kind != tt.kind {
			t.Fatalf("%s: err = %v, want kind %s", tt.name, err, tt.kind)
		}
		if got := StatusOf(h.m.PrepareClosure(ctx, 0, tt.cif, nil, 0, 0, 30)); got != tt.status {
			t.Fatalf("%s: prepare status = %d, want %d", tt.name, got, tt.status)
		}
	}

	bad := h.cif(p.void, 0)
	h.v.SetU32(bad, 1)
	if got := StatusOf(h.m.PrepareClosure(ctx, 0, bad, nil, 0, 0, 30)); got != StatusBadABI {
		t.Fatalf("bad abi status = %d", got)
	}

	// a trapping callee still unwinds the scratch stack
	pair := h.structOf(8, 4, p.sint32, p.sint32)
	withStruct := h.cif(p.void, 1, pair)
	h.table.Install(ctx, Signature{Params: []api.ValueType{api.ValueTypeI32}}, 5, api.GoFunc(func(context.Context, []uint64) {
		panic(fmt.Errorf("callee trapped"))
	}))
	if err := h.m.Call(ctx, withStruct, 5, 0, h.avalue(uint32(0))); err == nil {
		t.Fatal("expected callee error")
	}
	if h.stack.Save() != stackTop {
		t.Fatalf("stack pointer %d not restored after error", h.stack.Save())
	}

	// bad descriptor pointers surface as memory errors, not panics
	if err := h.m.Call(ctx, 1<<30, 1, 0, 0); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}
