package napi

import (
	"context"
	"fmt"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/lovell/sharp-sub001/ffi"
	"github.com/lovell/sharp-sub001/memory"
)

type tableEntry struct {
	sig ffi.Signature
	fn  api.GoFunction
}

// goTable is an ffi.Table of Go functions.
type goTable struct {
	entries map[uint32]tableEntry
	next    uint32
}

func (t *goTable) CallIndirect(ctx context.Context, sig ffi.Signature, index uint32, args []uint64) (res []uint64, err error) {
	e, ok := t.entries[index]
	if !ok {
		return nil, fmt.Errorf("table[%d] is null", index)
	}
	if !e.sig.Equal(sig) {
		return nil, fmt.Errorf("table[%d]: indirect call type mismatch: %s != %s", index, e.sig, sig)
	}
	stack := make([]uint64, max(len(sig.Params), len(sig.Results)))
	copy(stack, args)
	e.fn.Call(ctx, stack)
	return stack[:len(sig.Results)], nil
}

func (t *goTable) Install(_ context.Context, sig ffi.Signature, slot uint32, fn api.GoFunction) error {
	t.entries[slot] = tableEntry{sig: sig, fn: fn}
	return nil
}

func (t *goTable) AllocateSlot(context.Context) (uint32, error) {
	t.next++
	return t.next, nil
}

func (t *goTable) FreeSlot(slot uint32) { delete(t.entries, slot) }

type bumpAllocator struct{ next, frees uint32 }

func (a *bumpAllocator) Alloc(size, align uint32) (uint32, error) {
	p := (a.next + align - 1) &^ (align - 1)
	a.next = p + size
	return p, nil
}

func (a *bumpAllocator) Free(uint32, uint32, uint32) { a.frees++ }

type harness struct {
	t       *testing.T
	ctx     context.Context
	env     *Env
	v       *memory.Views
	table   *goTable
	alloc   *bumpAllocator
	imports map[string]Import
	scratch uint32
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	mem := memory.NewManager(memory.NewSliceBacking(2, 4))
	table := &goTable{entries: make(map[uint32]tableEntry), next: 100}
	alloc := &bumpAllocator{next: 64 << 10}
	env := NewEnv(mem, table, alloc, opts...)
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		env:     env,
		v:       mem.Views(),
		table:   table,
		alloc:   alloc,
		imports: make(map[string]Import),
		scratch: 1024,
	}
	for _, imp := range env.Imports() {
		h.imports[imp.Name] = imp
	}
	return h
}

func u(x uint32) uint64 { return api.EncodeU32(x) }

// call invokes a napi import the way the guest would.
func (h *harness) call(name string, params ...uint64) Status {
	return h.callEnv(h.env.ID(), name, params...)
}

func (h *harness) callEnv(env uint32, name string, params ...uint64) Status {
	h.t.Helper()
	imp, ok := h.imports[name]
	if !ok {
		h.t.Fatalf("no import %q", name)
	}
	if len(params)+1 != len(imp.Params) {
		h.t.Fatalf("%s takes %d params, got %d", name, len(imp.Params)-1, len(params))
	}
	stack := make([]uint64, len(imp.Params))
	stack[0] = u(env)
	copy(stack[1:], params)
	imp.Fn.Call(h.ctx, stack)
	return Status(api.DecodeI32(stack[0]))
}

func (h *harness) must(name string, params ...uint64) {
	h.t.Helper()
	if st := h.call(name, params...); st != StatusOK {
		h.t.Fatalf("%s: %v", name, st)
	}
}

// out reserves a zeroed scratch slot.
func (h *harness) out(n uint32) uint32 {
	p := (h.scratch + 7) &^ 7
	h.scratch = p + n
	h.v.Fill(p, n, 0)
	return p
}

func (h *harness) cstr(s string) uint32 {
	p := h.out(uint32(len(s)) + 1)
	h.v.WriteCString(p, s, 0)
	return p
}

// handle runs a creating call whose last parameter is the result pointer.
func (h *harness) handle(name string, params ...uint64) uint32 {
	h.t.Helper()
	res := h.out(4)
	h.must(name, append(params, u(res))...)
	return h.v.U32(res)
}

func (h *harness) value(handle uint32) Value {
	h.t.Helper()
	v, ok := h.env.Value(handle)
	if !ok {
		h.t.Fatalf("handle %d is not live", handle)
	}
	return v
}

type finalizeLog struct {
	calls []uint32
}

// installFinalizer places a napi_finalize at slot that records its data.
func (h *harness) installFinalizer(slot uint32) *finalizeLog {
	log := &finalizeLog{}
	h.table.Install(h.ctx, finalizeSig, slot, api.GoFunc(func(_ context.Context, stack []uint64) {
		log.calls = append(log.calls, api.DecodeU32(stack[1]))
	}))
	return log
}

func TestHandleScopes(t *testing.T) {
	h := newHarness(t)
	res := h.out(4)

	h.must("napi_open_handle_scope", u(res))
	scope := h.v.U32(res)
	n := h.handle("napi_create_int32", api.EncodeI32(7))
	if got := h.value(n).Float(); got != 7 {
		t.Fatalf("value = %v, want 7", got)
	}
	h.must("napi_close_handle_scope", u(scope))
	if _, ok := h.env.Value(n); ok {
		t.Fatalf("handle %d survived its scope", n)
	}
	if st := h.call("napi_close_handle_scope", u(scope)); st != StatusHandleScopeMismatch {
		t.Fatalf("close at depth 0 = %v", st)
	}

	h.must("napi_open_handle_scope", u(res))
	outer := h.v.U32(res)
	h.must("napi_open_handle_scope", u(res))
	inner := h.v.U32(res)
	if st := h.call("napi_close_handle_scope", u(outer)); st != StatusHandleScopeMismatch {
		t.Fatalf("closing outer before inner = %v", st)
	}
	h.must("napi_close_handle_scope", u(inner))
	h.must("napi_close_handle_scope", u(outer))
	if d := h.env.Store().Depth(); d != 0 {
		t.Fatalf("depth = %d", d)
	}
}

func TestEscapeHandle(t *testing.T) {
	h := newHarness(t)
	res := h.out(4)

	h.must("napi_open_escapable_handle_scope", u(res))
	scope := h.v.U32(res)
	obj := h.handle("napi_create_object")
	escaped := h.handle("napi_escape_handle", u(scope), u(obj))
	if st := h.call("napi_escape_handle", u(scope), u(obj), u(res)); st != StatusEscapeCalledTwice {
		t.Fatalf("second escape = %v", st)
	}
	h.must("napi_close_escapable_handle_scope", u(scope))
	if h.value(escaped).Object() == nil {
		t.Fatalf("escaped handle lost its object")
	}

	h.must("napi_open_handle_scope", u(res))
	plain := h.v.U32(res)
	if st := h.call("napi_escape_handle", u(plain), u(HandleUndefined), u(res)); st != StatusInvalidArg {
		t.Fatalf("escape from a plain scope = %v", st)
	}
}

func TestReferenceFinalizerRunsOnce(t *testing.T) {
	h := newHarness(t)
	fin := h.installFinalizer(7)
	res := h.out(4)

	h.must("napi_open_handle_scope", u(res))
	scope := h.v.U32(res)
	obj := h.handle("napi_create_object")
	h.must("napi_add_finalizer", u(obj), u(0x77), u(7), u(0), u(0))
	var refs []uint32
	for range 3 {
		refs = append(refs, h.handle("napi_create_reference", u(obj), u(1)))
	}
	h.must("napi_close_handle_scope", u(scope))

	for _, r := range refs[:2] {
		h.must("napi_delete_reference", u(r))
		if len(fin.calls) != 0 {
			t.Fatalf("finalized with references outstanding")
		}
	}
	h.must("napi_open_handle_scope", u(res))
	scope = h.v.U32(res)
	got := h.handle("napi_get_reference_value", u(refs[2]))
	if h.value(got).Object() == nil {
		t.Fatalf("strong reference lost its value")
	}
	h.must("napi_close_handle_scope", u(scope))
	h.must("napi_delete_reference", u(refs[2]))
	if len(fin.calls) != 1 || fin.calls[0] != 0x77 {
		t.Fatalf("finalizer calls = %v, want [0x77]", fin.calls)
	}
	if st := h.call("napi_get_reference_value", u(refs[0]), u(res)); st != StatusInvalidArg {
		t.Fatalf("deleted reference = %v", st)
	}
	if err := h.env.Close(h.ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(fin.calls) != 1 {
		t.Fatalf("finalizer ran %d times", len(fin.calls))
	}
}

func TestWeakReference(t *testing.T) {
	h := newHarness(t)
	res := h.out(4)

	h.must("napi_open_handle_scope", u(res))
	scope := h.v.U32(res)
	obj := h.handle("napi_create_object")
	weak := h.handle("napi_create_reference", u(obj), u(0))
	strong := h.handle("napi_create_reference", u(h.handle("napi_create_array")), u(1))
	h.must("napi_close_handle_scope", u(scope))

	if err := h.env.Collect(h.ctx); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	h.must("napi_get_reference_value", u(weak), u(res))
	if got := h.v.U32(res); got != HandleEmpty {
		t.Fatalf("weak reference still resolves to %d", got)
	}
	h.must("napi_get_reference_value", u(strong), u(res))
	if h.v.U32(res) == HandleEmpty {
		t.Fatalf("strong reference was collected")
	}
	if st := h.call("napi_reference_unref", u(weak), u(res)); st != StatusGenericFailure {
		t.Fatalf("unref at zero = %v", st)
	}
	h.must("napi_reference_unref", u(strong), u(res))
	if got := h.v.U32(res); got != 0 {
		t.Fatalf("count = %d", got)
	}
}

func TestTypeMismatch(t *testing.T) {
	h := newHarness(t)
	res := h.out(8)
	str := h.handle("napi_create_string_utf8", u(h.cstr("x")), u(autoLength))
	num := h.handle("napi_create_double", api.EncodeF64(1.5))
	obj := h.handle("napi_create_object")

	tests := []struct {
		name  string
		value uint32
		want  Status
	}{
		{"napi_get_value_int32", str, StatusNumberExpected},
		{"napi_get_value_double", obj, StatusNumberExpected},
		{"napi_get_value_bool", num, StatusBooleanExpected},
		{"napi_get_array_length", obj, StatusArrayExpected},
		{"napi_get_date_value", num, StatusDateExpected},
		{"napi_get_value_external", obj, StatusInvalidArg},
		{"napi_typeof", 9999, StatusInvalidArg},
	}
	for _, tt := range tests {
		if st := h.call(tt.name, u(tt.value), u(res)); st != tt.want {
			t.Fatalf("%s = %v, want %v", tt.name, st, tt.want)
		}
		if h.env.LastError() != tt.want {
			t.Fatalf("%s: last error = %v", tt.name, h.env.LastError())
		}
	}
	if st := h.call("napi_get_value_string_utf8", u(num), u(0), u(0), u(res)); st != StatusStringExpected {
		t.Fatalf("string of number = %v", st)
	}

	h.must("napi_get_last_error_info", u(res))
	info := h.v.U32(res)
	if code := h.v.I32(info + 12); Status(code) != StatusStringExpected {
		t.Fatalf("error_code = %d", code)
	}
	if msg := h.v.CString(h.v.U32(info)); msg != "A string was expected" {
		t.Fatalf("error_message = %q", msg)
	}
	h.must("napi_get_value_double", u(num), u(res))
	if h.env.LastError() != StatusOK {
		t.Fatalf("success did not clear the last error")
	}
}

func TestPendingExceptionPreamble(t *testing.T) {
	h := newHarness(t)
	res := h.out(4)
	obj := h.handle("napi_create_object")
	name := h.cstr("k")

	h.must("napi_throw_error", u(h.cstr("E_BOOM")), u(h.cstr("boom")))
	h.must("napi_is_exception_pending", u(res))
	if h.v.U8(res) != 1 {
		t.Fatalf("exception not pending")
	}
	if st := h.call("napi_set_named_property", u(obj), u(name), u(HandleTrue)); st != StatusPendingException {
		t.Fatalf("set_named_property with pending exception = %v", st)
	}
	if st := h.call("napi_throw", u(obj)); st != StatusPendingException {
		t.Fatalf("throw with pending exception = %v", st)
	}
	if _, err := h.env.Call(h.ctx, h.env.NewFunction("f", nil), Undefined()); err == nil {
		t.Fatalf("host call ran with an exception pending")
	}

	x := h.value(h.handle("napi_get_and_clear_last_exception"))
	if s, _ := ToString(x); s != "Error: boom" {
		t.Fatalf("exception = %q", s)
	}
	if code := x.Object().own(StringKey("code")); code == nil || code.value.Str() != "E_BOOM" {
		t.Fatalf("code property missing")
	}
	h.must("napi_set_named_property", u(obj), u(name), u(HandleTrue))
	if !h.value(obj).Object().HasOwn(StringKey("k")) {
		t.Fatalf("property not set")
	}
	if got := h.handle("napi_get_and_clear_last_exception"); got != HandleUndefined {
		t.Fatalf("empty exception slot = %d", got)
	}
}

func TestStrings(t *testing.T) {
	h := newHarness(t)
	res := h.out(4)
	buf := h.out(16)
	s := h.handle("napi_create_string_utf8", u(h.cstr("héllo")), u(autoLength))

	h.must("napi_get_value_string_utf8", u(s), u(0), u(0), u(res))
	if n := h.v.U32(res); n != 6 {
		t.Fatalf("utf8 length = %d", n)
	}
	h.must("napi_get_value_string_utf16", u(s), u(0), u(0), u(res))
	if n := h.v.U32(res); n != 5 {
		t.Fatalf("utf16 length = %d", n)
	}

	tests := []struct {
		size uint32
		want string
	}{
		{16, "héllo"},
		{4, "hé"},
		{3, "h"},
		{1, ""},
	}
	for _, tt := range tests {
		h.must("napi_get_value_string_utf8", u(s), u(buf), u(tt.size), u(res))
		if got := h.v.CString(buf); got != tt.want || h.v.U32(res) != uint32(len(tt.want)) {
			t.Fatalf("bufsize %d: %q (%d), want %q", tt.size, got, h.v.U32(res), tt.want)
		}
	}

	raw := h.out(2)
	h.v.Write(raw, []byte{'c', 0xe9})
	l := h.handle("napi_create_string_latin1", u(raw), u(2))
	if got := h.value(l).Str(); got != "cé" {
		t.Fatalf("latin1 = %q", got)
	}
	h.must("napi_get_value_string_latin1", u(l), u(buf), u(16), u(res))
	if got := h.v.Read(buf, 3); got[0] != 'c' || got[1] != 0xe9 || got[2] != 0 {
		t.Fatalf("latin1 bytes = %v", got)
	}

	h.must("napi_get_value_string_utf16", u(s), u(buf), u(3), u(res))
	if got := h.v.UTF16Z(buf); got != "hé" {
		t.Fatalf("utf16 = %q", got)
	}
}

func TestCallFunction(t *testing.T) {
	h := newHarness(t)
	argc, argv, data := h.out(4), h.out(16), h.out(4)
	var seen []uint32

	h.table.Install(h.ctx, callbackSig, 9, api.GoFunc(func(_ context.Context, stack []uint64) {
		cbinfo := api.DecodeU32(stack[1])
		h.v.SetU32(argc, 4)
		h.must("napi_get_cb_info", u(cbinfo), u(argc), u(argv), u(0), u(data))
		seen = []uint32{h.v.U32(argc), h.v.U32(argv + 8), h.v.U32(data)}
		var sum float64
		res := h.out(8)
		for i := range h.v.U32(argc) {
			h.must("napi_get_value_double", u(h.v.U32(argv+i*4)), u(res))
			sum += h.v.F64(res)
		}
		stack[0] = u(h.handle("napi_create_double", api.EncodeF64(sum)))
	}))

	fn := h.handle("napi_create_function", u(h.cstr("sum")), u(autoLength), u(9), u(42))
	args := h.out(8)
	h.v.SetU32(args, h.handle("napi_create_double", api.EncodeF64(1.25)))
	h.v.SetU32(args+4, h.handle("napi_create_int32", api.EncodeI32(2)))
	got := h.handle("napi_call_function", u(HandleUndefined), u(fn), u(2), u(args))

	if v := h.value(got).Float(); v != 3.25 {
		t.Fatalf("sum = %v", v)
	}
	if seen[0] != 2 || seen[1] != HandleUndefined || seen[2] != 42 {
		t.Fatalf("cb info = %v", seen)
	}
	if s, _ := ToString(h.value(fn)); s != "function sum() { [native code] }" {
		t.Fatalf("function = %q", s)
	}

	// host side, through the same function
	v, err := h.env.Call(h.ctx, h.value(fn), Undefined(), Number(1), Number(2))
	if err != nil || v.Float() != 3 {
		t.Fatalf("Call = %v, %v", v.Float(), err)
	}
}

func TestCallbackThrows(t *testing.T) {
	h := newHarness(t)
	h.table.Install(h.ctx, callbackSig, 9, api.GoFunc(func(_ context.Context, stack []uint64) {
		h.must("napi_throw_type_error", u(0), u(h.cstr("bad")))
		stack[0] = 0
	}))
	fn := h.handle("napi_create_function", u(0), u(0), u(9), u(0))
	res := h.out(4)
	if st := h.call("napi_call_function", u(HandleUndefined), u(fn), u(0), u(0), u(res)); st != StatusPendingException {
		t.Fatalf("call = %v", st)
	}
	x, ok := h.env.TakeException()
	if s, _ := ToString(x); !ok || s != "TypeError: bad" {
		t.Fatalf("exception = %q", s)
	}

	_, err := h.env.Call(h.ctx, h.value(fn), Undefined())
	if x, ok := err.(*Exception); !ok || x.Error() != "uncaught exception: TypeError: bad" {
		t.Fatalf("host call error = %v", err)
	}
	if h.env.IsExceptionPending() {
		t.Fatalf("host call left the exception pending")
	}
}

func writeDescriptor(h *harness, at uint32, name string, method, value uint32, attrs PropertyAttributes) {
	h.v.SetU32(at, h.cstr(name))
	h.v.SetU32(at+8, method)
	h.v.SetU32(at+20, value)
	h.v.SetI32(at+24, int32(attrs))
}

func TestDefineClass(t *testing.T) {
	h := newHarness(t)
	h.table.Install(h.ctx, callbackSig, 9, api.GoFunc(func(_ context.Context, stack []uint64) {
		this := h.out(4)
		h.must("napi_get_cb_info", stack[1], u(0), u(0), u(this), u(0))
		h.must("napi_set_named_property", u(h.v.U32(this)), u(h.cstr("ready")), u(HandleTrue))
		stack[0] = 0
	}))
	descs := h.out(2 * propertyDescriptorSize)
	writeDescriptor(h, descs, "run", 9, 0, Enumerable)
	writeDescriptor(h, descs+propertyDescriptorSize, "VERSION",
		0, h.handle("napi_create_int32", api.EncodeI32(3)), Static)

	cls := h.handle("napi_define_class", u(h.cstr("Pipeline")), u(autoLength), u(9), u(0), u(2), u(descs))
	c := h.value(cls).Object()
	if !c.HasOwn(StringKey("VERSION")) {
		t.Fatalf("static property not on constructor")
	}
	proto := c.own(StringKey("prototype")).value.Object()
	if run := proto.own(StringKey("run")); run == nil || run.value.Kind() != KindFunction {
		t.Fatalf("method not on prototype")
	}

	inst := h.handle("napi_new_instance", u(cls), u(0), u(0))
	o := h.value(inst).Object()
	if !o.InstanceOf(proto) || !o.HasOwn(StringKey("ready")) {
		t.Fatalf("instance not constructed")
	}
	res := h.out(4)
	h.must("napi_instanceof", u(inst), u(cls), u(res))
	if h.v.U8(res) != 1 {
		t.Fatalf("instanceof = false")
	}
}

func TestWrap(t *testing.T) {
	h := newHarness(t)
	fin := h.installFinalizer(7)
	res := h.out(4)
	a := h.handle("napi_create_object")
	b := h.handle("napi_create_object")

	h.must("napi_wrap", u(a), u(0x99), u(7), u(0), u(0))
	if st := h.call("napi_wrap", u(a), u(0x98), u(7), u(0), u(0)); st != StatusInvalidArg {
		t.Fatalf("double wrap = %v", st)
	}
	h.must("napi_unwrap", u(a), u(res))
	if h.v.U32(res) != 0x99 {
		t.Fatalf("unwrap = %#x", h.v.U32(res))
	}
	h.must("napi_remove_wrap", u(a), u(res))
	if st := h.call("napi_unwrap", u(a), u(res)); st != StatusInvalidArg {
		t.Fatalf("unwrap after remove = %v", st)
	}
	if st := h.call("napi_wrap", u(h.handle("napi_create_int32", 0)), u(1), u(0), u(0), u(0)); st != StatusObjectExpected {
		t.Fatalf("wrap of a number = %v", st)
	}

	h.must("napi_wrap", u(b), u(0x55), u(7), u(0), u(0))
	if err := h.env.Close(h.ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(fin.calls) != 1 || fin.calls[0] != 0x55 {
		t.Fatalf("finalizer calls = %v, want only the still-wrapped object", fin.calls)
	}
}

func TestTypeTags(t *testing.T) {
	h := newHarness(t)
	res := h.out(4)
	tag := h.out(16)
	h.v.SetU64(tag, 0x1234)
	h.v.SetU64(tag+8, 0xabcd)
	other := h.out(16)
	h.v.SetU64(other, 0x1234)

	obj := h.handle("napi_create_object")
	h.must("napi_type_tag_object", u(obj), u(tag))
	if st := h.call("napi_type_tag_object", u(obj), u(tag)); st != StatusInvalidArg {
		t.Fatalf("second tag = %v", st)
	}
	for _, tt := range []struct {
		tag  uint32
		want uint8
	}{{tag, 1}, {other, 0}} {
		h.must("napi_check_object_type_tag", u(obj), u(tt.tag), u(res))
		if h.v.U8(res) != tt.want {
			t.Fatalf("check tag %#x = %d", tt.tag, h.v.U8(res))
		}
	}
}

func TestTypedArrays(t *testing.T) {
	h := newHarness(t)
	res := h.out(4)
	ab := h.handle("napi_create_arraybuffer", u(8), u(0))

	bad := []struct {
		name   string
		length uint32
		offset uint32
	}{
		{"misaligned", 1, 2},
		{"too long", 3, 0},
	}
	for _, tt := range bad {
		st := h.call("napi_create_typedarray", api.EncodeI32(int32(Int32Array)), u(tt.length), u(ab), u(tt.offset), u(res))
		if st != StatusPendingException {
			t.Fatalf("%s: %v", tt.name, st)
		}
		x, _ := h.env.TakeException()
		if x.Object().errName != "RangeError" {
			t.Fatalf("%s: threw %s", tt.name, x.Object().errName)
		}
	}
	if st := h.call("napi_create_dataview", u(4), u(ab), u(6), u(res)); st != StatusPendingException {
		t.Fatalf("dataview past the end = %v", st)
	}
	h.env.TakeException()

	ta := h.handle("napi_create_typedarray", api.EncodeI32(int32(Int32Array)), u(2), u(ab), u(0))
	typ, length, data, buf, off := h.out(4), h.out(4), h.out(4), h.out(4), h.out(4)
	h.must("napi_get_typedarray_info", u(ta), u(typ), u(length), u(data), u(buf), u(off))
	if TypedArrayType(h.v.I32(typ)) != Int32Array || h.v.U32(length) != 2 || h.v.U32(off) != 0 {
		t.Fatalf("info = %d %d %d", h.v.I32(typ), h.v.U32(length), h.v.U32(off))
	}
	ptr := h.v.U32(data)
	if ptr == 0 {
		t.Fatalf("data pointer not pinned")
	}
	if h.value(ab).Object().ArrayBuffer().Backing() != BackingLinear {
		t.Fatalf("buffer still host backed")
	}
	h.v.SetI32(ptr+4, -7)
	if got := h.value(ta).Object().View().Get(1).Float(); got != -7 {
		t.Fatalf("element 1 = %v", got)
	}

	h.must("napi_detach_arraybuffer", u(ab))
	h.must("napi_get_typedarray_info", u(ta), u(0), u(length), u(0), u(0), u(0))
	if h.v.U32(length) != 0 {
		t.Fatalf("detached length = %d", h.v.U32(length))
	}
	h.must("napi_is_detached_arraybuffer", u(ab), u(res))
	if h.v.U8(res) != 1 {
		t.Fatalf("not detached")
	}
}

func TestBuffers(t *testing.T) {
	h := newHarness(t)
	data, length, res := h.out(4), h.out(4), h.out(4)
	src := h.cstr("sharp")

	b := h.handle("napi_create_buffer_copy", u(5), u(src), u(data))
	ptr := h.v.U32(data)
	if got := string(h.v.Read(ptr, 5)); got != "sharp" || ptr == src {
		t.Fatalf("copy = %q at %#x", got, ptr)
	}
	h.must("napi_is_buffer", u(b), u(res))
	if h.v.U8(res) != 1 {
		t.Fatalf("is_buffer = false")
	}
	h.must("napi_get_buffer_info", u(b), u(data), u(length))
	if h.v.U32(data) != ptr || h.v.U32(length) != 5 {
		t.Fatalf("buffer info = %#x %d", h.v.U32(data), h.v.U32(length))
	}

	ext := h.out(8)
	fin := h.installFinalizer(7)
	h.must("napi_open_handle_scope", u(res))
	scope := h.v.U32(res)
	h.handle("napi_create_external_arraybuffer", u(ext), u(8), u(7), u(0))
	h.must("napi_close_handle_scope", u(scope))
	frees := h.alloc.frees
	if err := h.env.Collect(h.ctx); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(fin.calls) != 1 || fin.calls[0] != ext {
		t.Fatalf("external finalizer = %v", fin.calls)
	}
	if h.alloc.frees != frees {
		t.Fatalf("external memory was freed by the bridge")
	}
}

func TestBigIntWords(t *testing.T) {
	h := newHarness(t)
	words := h.out(16)
	h.v.SetU64(words, 1)
	h.v.SetU64(words+8, 1)
	b := h.handle("napi_create_bigint_words", api.EncodeI32(1), u(2), u(words))
	if got := h.value(b).BigIntValue().String(); got != "-18446744073709551617" {
		t.Fatalf("bigint = %s", got)
	}

	sign, count := h.out(4), h.out(4)
	h.must("napi_get_value_bigint_words", u(b), u(0), u(count), u(0))
	if h.v.U32(count) != 2 {
		t.Fatalf("word count = %d", h.v.U32(count))
	}
	out := h.out(16)
	h.v.SetU32(count, 1)
	h.must("napi_get_value_bigint_words", u(b), u(sign), u(count), u(out))
	if h.v.I32(sign) != 1 || h.v.U64(out) != 1 || h.v.U32(count) != 2 {
		t.Fatalf("words = sign %d word %d count %d", h.v.I32(sign), h.v.U64(out), h.v.U32(count))
	}

	res, lossless := h.out(8), h.out(4)
	h.must("napi_get_value_bigint_int64", u(b), u(res), u(lossless))
	if h.v.U8(lossless) != 0 || h.v.I64(res) != -1 {
		t.Fatalf("int64 = %d lossless %d", h.v.I64(res), h.v.U8(lossless))
	}
}

func TestAsyncWork(t *testing.T) {
	h := newHarness(t)
	var executed []uint32
	var completed []Status
	h.table.Install(h.ctx, executeSig, 11, api.GoFunc(func(_ context.Context, stack []uint64) {
		executed = append(executed, api.DecodeU32(stack[1]))
	}))
	h.table.Install(h.ctx, completeSig, 12, api.GoFunc(func(_ context.Context, stack []uint64) {
		completed = append(completed, Status(api.DecodeI32(stack[1])))
	}))

	res := h.out(4)
	h.must("napi_create_async_work", u(0), u(0), u(11), u(12), u(1), u(res))
	first := h.v.U32(res)
	h.must("napi_create_async_work", u(0), u(0), u(11), u(12), u(2), u(res))
	second := h.v.U32(res)
	h.must("napi_queue_async_work", u(first))
	h.must("napi_queue_async_work", u(second))
	h.must("napi_cancel_async_work", u(second))

	if err := h.env.RunQueuedWork(h.ctx); err != nil {
		t.Fatalf("RunQueuedWork: %v", err)
	}
	if len(executed) != 1 || executed[0] != 1 {
		t.Fatalf("executed = %v", executed)
	}
	if len(completed) != 2 || completed[0] != StatusOK || completed[1] != StatusCancelled {
		t.Fatalf("completed = %v", completed)
	}
	if st := h.call("napi_cancel_async_work", u(first)); st != StatusGenericFailure {
		t.Fatalf("cancel after completion = %v", st)
	}
	h.must("napi_delete_async_work", u(first))
	if st := h.call("napi_queue_async_work", u(first)); st != StatusInvalidArg {
		t.Fatalf("queue deleted work = %v", st)
	}
}

func TestPromise(t *testing.T) {
	h := newHarness(t)
	deferred, promise := h.out(4), h.out(4)
	h.must("napi_create_promise", u(deferred), u(promise))
	p := h.value(h.v.U32(promise)).Object()
	val := h.handle("napi_create_int32", api.EncodeI32(5))

	h.must("napi_reject_deferred", u(h.v.U32(deferred)), u(val))
	if p.Promise().State != PromiseRejected || p.Promise().Result.Float() != 5 {
		t.Fatalf("promise = %+v", p.Promise())
	}
	if st := h.call("napi_resolve_deferred", u(h.v.U32(deferred)), u(val)); st != StatusInvalidArg {
		t.Fatalf("second settle = %v", st)
	}
}

func TestEnvironmentQueries(t *testing.T) {
	var fatal string
	h := newHarness(t, WithFilename("file:///addon.node"), WithFatalHandler(func(loc, msg string) {
		fatal = loc + "|" + msg
	}))
	res := h.out(8)

	if st := h.callEnv(99, "napi_get_version", u(res)); st != StatusInvalidArg {
		t.Fatalf("foreign env = %v", st)
	}
	h.must("napi_get_version", u(res))
	if h.v.U32(res) != Version {
		t.Fatalf("version = %d", h.v.U32(res))
	}
	h.must("napi_get_node_version", u(res))
	nv := h.v.U32(res)
	if h.v.U32(nv) != NodeVersion.Major || h.v.CString(h.v.U32(nv+12)) != "node" {
		t.Fatalf("node version struct wrong")
	}
	h.must("node_api_get_module_file_name", u(res))
	if got := h.v.CString(h.v.U32(res)); got != "file:///addon.node" {
		t.Fatalf("filename = %q", got)
	}
	h.must("napi_set_instance_data", u(0x10), u(0), u(0))
	h.must("napi_get_instance_data", u(res))
	if h.v.U32(res) != 0x10 {
		t.Fatalf("instance data = %#x", h.v.U32(res))
	}
	h.must("napi_adjust_external_memory", api.EncodeI64(1024), u(res))
	h.must("napi_adjust_external_memory", api.EncodeI64(-24), u(res))
	if h.v.I64(res) != 1000 {
		t.Fatalf("external memory = %d", h.v.I64(res))
	}
	if st := h.call("napi_get_value_int32", u(HandleTrue), u(0xfffffff0)); st != StatusNumberExpected {
		t.Fatalf("bad handle type checked after pointer = %v", st)
	}
	num := h.handle("napi_create_int32", api.EncodeI32(1))
	if st := h.call("napi_get_value_int32", u(num), u(0xfffffff0)); st != StatusGenericFailure {
		t.Fatalf("out of bounds result pointer = %v", st)
	}

	imp := h.imports["napi_fatal_error"]
	stack := []uint64{u(h.cstr("here")), u(autoLength), u(h.cstr("dead")), u(4)}
	imp.Fn.Call(h.ctx, stack)
	if fatal != "here|dead" {
		t.Fatalf("fatal = %q", fatal)
	}
}
