package napi

import (
	"context"
	"sort"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmbridge "github.com/lovell/sharp-sub001"
	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/ffi"
	"github.com/lovell/sharp-sub001/memory"
	"github.com/lovell/sharp-sub001/resource"
)

// Guest callback shapes.
var (
	callbackSig = ffi.Signature{
		Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	}
	finalizeSig = ffi.Signature{
		Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
	}
	executeSig = ffi.Signature{
		Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
	}
	completeSig = ffi.Signature{
		Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
	}
)

// Exception is a thrown value that reached the host.
type Exception struct {
	Value Value
}

func (x *Exception) Error() string {
	s, ok := ToString(x.Value)
	if !ok {
		s = "Symbol()"
	}
	return "uncaught exception: " + s
}

// Throw returns an error that a HostFunction can return to throw v.
func Throw(v Value) error { return &Exception{Value: v} }

type instanceData struct {
	data uint32
	fin  *Finalizer
}

// Option configures an Env.
type Option func(*Env)

// WithID sets the napi_env value handed to the guest.
func WithID(id uint32) Option { return func(e *Env) { e.id = id } }

// WithFilename sets the module filename reported to the addon.
func WithFilename(name string) Option { return func(e *Env) { e.filename = name } }

// WithFatalHandler installs the handler for napi_fatal_error. It must not
// return normally; the default panics with a fatal error.
func WithFatalHandler(fn func(location, message string)) Option {
	return func(e *Env) { e.onFatal = fn }
}

// Env is one napi_env: the store, references, the pending exception and
// everything else an addon instance can reach.
type Env struct {
	id       uint32
	filename string
	store    *Store
	mem      *memory.Manager
	table    ffi.Table
	alloc    wasmbridge.Allocator

	pending   *Value
	lastError Status
	errorInfo uint32
	messages  map[Status]uint32
	version   uint32

	refs      *resource.Table[*Reference]
	cbinfos   *resource.Arena[*CallbackInfo]
	deferreds *resource.Arena[*Object]
	works     *resource.Table[*AsyncWork]
	queue     []*AsyncWork

	tracked map[*Object]uint64
	seq     uint64

	symbols        map[string]*Symbol
	instance       *instanceData
	externalMemory int64
	callbackScopes []uint32
	asyncContexts  uint32
	onFatal        func(location, message string)
	closed         bool
}

// NewEnv creates an environment over mem. table resolves guest callbacks
// and alloc provides linear memory for buffers handed to the guest.
func NewEnv(mem *memory.Manager, table ffi.Table, alloc wasmbridge.Allocator, opts ...Option) *Env {
	e := &Env{
		id:        1,
		store:     NewStore(),
		mem:       mem,
		table:     table,
		alloc:     alloc,
		messages:  make(map[Status]uint32),
		refs:      resource.NewTable[*Reference](),
		cbinfos:   resource.NewArena[*CallbackInfo](),
		deferreds: resource.NewArena[*Object](),
		works:     resource.NewTable[*AsyncWork](),
		tracked:   make(map[*Object]uint64),
		symbols:   make(map[string]*Symbol),
	}
	e.onFatal = func(location, message string) {
		panic(errors.Fatal(location+": "+message, nil))
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Env) ID() uint32        { return e.id }
func (e *Env) Store() *Store     { return e.store }
func (e *Env) Filename() string  { return e.filename }
func (e *Env) LastError() Status { return e.lastError }

// SubscribeReferences reports reference creation and deletion to o.
func (e *Env) SubscribeReferences(o resource.Observer) { e.refs.Subscribe(o) }

func (e *Env) views() *memory.Views {
	e.mem.Sync()
	return e.mem.Views()
}

// Push makes v addressable from the guest in the current scope.
func (e *Env) Push(v Value) uint32 { return e.store.Push(v) }

// Value resolves a guest handle.
func (e *Env) Value(h uint32) (Value, bool) { return e.store.Get(h) }

// OpenScope opens a handle scope from the host side.
func (e *Env) OpenScope() *Scope { return e.store.OpenScope(false) }

// CloseScope closes sc and any scope left open inside it.
func (e *Env) CloseScope(sc *Scope) { e.store.unwind(sc) }

// IsExceptionPending reports whether a thrown value awaits the host.
func (e *Env) IsExceptionPending() bool { return e.pending != nil }

// TakeException returns and clears the pending exception.
func (e *Env) TakeException() (Value, bool) {
	if e.pending == nil {
		return Undefined(), false
	}
	v := *e.pending
	e.pending = nil
	return v, true
}

func (e *Env) throw(v Value) { e.pending = &v }

// throwNew throws a fresh error object and reports the pending exception.
func (e *Env) throwNew(name, msg string) Status {
	e.throw(ObjectValue(e.NewError(name, Undefined(), msg)))
	return StatusPendingException
}

// NewError creates an error object. code is attached when it is a string.
func (e *Env) NewError(name string, code Value, msg string) *Object {
	o := newObject(ClassError, nil)
	o.errName = name
	o.defineOwn(property{key: StringKey("message"), value: String(msg), attrs: Writable | Configurable})
	if code.kind == KindString {
		o.defineOwn(property{key: StringKey("code"), value: code, attrs: defaultJSProperty})
	}
	return o
}

// NewObject creates an empty plain object.
func (e *Env) NewObject() *Object { return newObject(ClassPlain, nil) }

// NewArray creates an array of the given values.
func (e *Env) NewArray(vals ...Value) *Object {
	o := newObject(ClassArray, nil)
	for i, v := range vals {
		o.defineOwn(property{key: indexKey(uint32(i)), value: v, attrs: defaultJSProperty})
	}
	return o
}

// track registers o for finalization by Collect.
func (e *Env) track(o *Object) {
	if _, ok := e.tracked[o]; !ok {
		e.seq++
		e.tracked[o] = e.seq
	}
}

// Collect finalizes every tracked object that is no longer reachable from
// an open handle, a strong reference, the pending exception or a live
// callback, deferred or async work item.
func (e *Env) Collect(ctx context.Context) error {
	marked := make(map[*Object]bool)
	var markObj func(o *Object)
	mark := func(v Value) {
		if v.obj != nil {
			markObj(v.obj)
		}
	}
	markObj = func(o *Object) {
		for o != nil && !marked[o] {
			marked[o] = true
			for _, p := range o.props {
				mark(p.value)
				if p.getter != nil {
					markObj(p.getter)
				}
				if p.setter != nil {
					markObj(p.setter)
				}
			}
			if o.view != nil {
				markObj(o.view.buffer)
			}
			if o.promise != nil {
				mark(o.promise.Result)
			}
			mark(o.primitive)
			o = o.proto
		}
	}

	e.store.roots(mark)
	if e.pending != nil {
		mark(*e.pending)
	}
	e.refs.Each(func(_ resource.Handle, r *Reference) bool {
		if r.count > 0 {
			mark(r.value)
		}
		return true
	})
	e.cbinfos.Each(func(_ resource.Handle, _ uint32, info *CallbackInfo) bool {
		mark(info.This)
		mark(info.NewTarget)
		for _, a := range info.Args {
			mark(a)
		}
		return true
	})
	e.deferreds.Each(func(_ resource.Handle, _ uint32, p *Object) bool {
		markObj(p)
		return true
	})

	var dead []*Object
	for o := range e.tracked {
		if !marked[o] {
			dead = append(dead, o)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return e.tracked[dead[i]] < e.tracked[dead[j]] })
	var first error
	for _, o := range dead {
		if err := e.finalize(ctx, o); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// finalize runs o's finalizers and those of references to it, once.
func (e *Env) finalize(ctx context.Context, o *Object) error {
	delete(e.tracked, o)
	if o.finalized {
		return nil
	}
	o.finalized = true

	var fins []*Finalizer
	if o.wrapFinal != nil {
		fins = append(fins, o.wrapFinal)
		o.wrapFinal = nil
	}
	fins = append(fins, o.finalizers...)
	o.finalizers = nil

	var dropped []resource.Handle
	e.refs.Each(func(h resource.Handle, r *Reference) bool {
		if r.value.obj == o {
			r.collected = true
			r.value = Value{}
			if r.final != nil {
				fins = append(fins, r.final)
				r.final = nil
			}
			if r.ownership == OwnershipRuntime {
				dropped = append(dropped, h)
			}
		}
		return true
	})
	for _, h := range dropped {
		e.refs.Remove(h)
	}
	if o.buffer != nil {
		o.buffer.release(e.alloc)
	}

	var first error
	for _, f := range fins {
		if err := e.runFinalizer(ctx, f); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (e *Env) runFinalizer(ctx context.Context, f *Finalizer) error {
	sc := e.store.OpenScope(false)
	defer e.store.unwind(sc)
	switch {
	case f.Func != nil:
		f.Func(ctx, f.Data, f.Hint)
	case f.Callback != 0:
		_, err := e.table.CallIndirect(ctx, finalizeSig, f.Callback, []uint64{
			api.EncodeU32(e.id), api.EncodeU32(f.Data), api.EncodeU32(f.Hint),
		})
		if err != nil {
			Logger().Error("finalizer failed", zap.Uint32("callback", f.Callback), zap.Error(err))
			return err
		}
	}
	return nil
}

// Close finalizes every remaining tracked object and the instance data.
// The env is unusable afterwards.
func (e *Env) Close(ctx context.Context) error {
	if e.closed {
		return nil
	}
	e.closed = true
	var first error
	objs := make([]*Object, 0, len(e.tracked))
	for o := range e.tracked {
		objs = append(objs, o)
	}
	sort.Slice(objs, func(i, j int) bool { return e.tracked[objs[i]] < e.tracked[objs[j]] })
	for _, o := range objs {
		if err := e.finalize(ctx, o); err != nil && first == nil {
			first = err
		}
	}
	if in := e.instance; in != nil && in.fin != nil {
		e.instance = nil
		if err := e.runFinalizer(ctx, in.fin); err != nil && first == nil {
			first = err
		}
	}
	e.refs.Close()
	e.works.Close()
	return first
}
