package napi

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/resource"
)

// HostFunction implements a function in Go. Returning an error made by
// Throw throws; any other error aborts the call.
type HostFunction func(ctx context.Context, env *Env, info *CallbackInfo) (Value, error)

// Function is the payload of a function object: either a guest
// napi_callback in the function table or a HostFunction.
type Function struct {
	Name     string
	Callback uint32
	Data     uint32
	Host     HostFunction
}

// CallbackInfo is what napi_get_cb_info exposes during a call.
type CallbackInfo struct {
	This      Value
	Args      []Value
	NewTarget Value
	Data      uint32
}

// newFunction creates a function object with a fresh prototype object.
func (e *Env) newFunction(f *Function) *Object {
	o := newObject(ClassFunction, nil)
	o.fn = f
	o.defineOwn(property{key: StringKey("name"), value: String(f.Name), attrs: Configurable})
	proto := newObject(ClassPlain, nil)
	proto.defineOwn(property{key: StringKey("constructor"), value: ObjectValue(o), attrs: Writable | Configurable})
	o.defineOwn(property{key: StringKey("prototype"), value: ObjectValue(proto), attrs: Writable})
	return o
}

// NewFunction creates a function implemented in Go.
func (e *Env) NewFunction(name string, fn HostFunction) Value {
	return ObjectValue(e.newFunction(&Function{Name: name, Host: fn}))
}

// invoke runs fn inside its own handle scope. A thrown exception is left
// pending and reported as StatusPendingException.
func (e *Env) invoke(ctx context.Context, fn *Object, this Value, args []Value, newTarget Value) (Value, error) {
	if e.pending != nil {
		return Value{}, StatusPendingException
	}
	if fn == nil || fn.fn == nil {
		return Value{}, StatusFunctionExpected
	}
	f := fn.fn
	info := &CallbackInfo{This: this, Args: args, NewTarget: newTarget, Data: f.Data}
	id, err := e.cbinfos.Insert(0, info)
	if err != nil {
		return Value{}, err
	}
	defer e.cbinfos.Remove(id)
	sc := e.store.OpenScope(false)
	defer e.store.unwind(sc)

	result := Undefined()
	if f.Host != nil {
		v, err := f.Host(ctx, e, info)
		if x, ok := err.(*Exception); ok {
			e.throw(x.Value)
		} else if err != nil {
			return Value{}, err
		} else {
			result = v
		}
	} else {
		res, err := e.table.CallIndirect(ctx, callbackSig, f.Callback, []uint64{
			api.EncodeU32(e.id), api.EncodeU32(uint32(id)),
		})
		if err != nil {
			return Value{}, err
		}
		if h := api.DecodeU32(res[0]); h != HandleEmpty {
			if v, ok := e.store.Get(h); ok {
				result = v
			}
		}
	}
	if e.pending != nil {
		return Value{}, StatusPendingException
	}
	return result, nil
}

// Call calls fn from the host. An exception thrown by fn is cleared and
// returned as *Exception.
func (e *Env) Call(ctx context.Context, fn, this Value, args ...Value) (Value, error) {
	if e.pending != nil {
		return Value{}, errors.New(errors.PhaseABI, errors.KindPendingException).
			Detail("call refused while an exception is pending").Build()
	}
	if fn.kind != KindFunction {
		return Value{}, errors.New(errors.PhaseABI, errors.KindTypeMismatch).
			Detail("call of a %s", fn.kind).Build()
	}
	v, err := e.invoke(ctx, fn.obj, this, args, Undefined())
	return e.hostResult(v, err)
}

// New constructs an instance from the host.
func (e *Env) New(ctx context.Context, cons Value, args ...Value) (Value, error) {
	if e.pending != nil {
		return Value{}, errors.New(errors.PhaseABI, errors.KindPendingException).
			Detail("construct refused while an exception is pending").Build()
	}
	v, err := e.construct(ctx, cons, args)
	return e.hostResult(v, err)
}

func (e *Env) hostResult(v Value, err error) (Value, error) {
	if err == StatusPendingException {
		x, _ := e.TakeException()
		return Value{}, &Exception{Value: x}
	}
	return v, err
}

// construct implements new: the prototype comes from cons.prototype and
// an object returned by the constructor replaces the receiver.
func (e *Env) construct(ctx context.Context, cons Value, args []Value) (Value, error) {
	if cons.kind != KindFunction {
		return Value{}, StatusFunctionExpected
	}
	obj := newObject(ClassPlain, nil)
	if p := cons.obj.own(StringKey("prototype")); p != nil && p.value.obj != nil {
		obj.proto = p.value.obj
	}
	this := ObjectValue(obj)
	v, err := e.invoke(ctx, cons.obj, this, args, cons)
	if err != nil {
		return Value{}, err
	}
	if v.obj != nil {
		return v, nil
	}
	return this, nil
}

// CallbackInfo resolves a napi_callback_info id.
func (e *Env) CallbackInfo(id uint32) (*CallbackInfo, bool) {
	return e.cbinfos.Get(resource.Handle(id))
}

// toObject implements ToObject for property access on primitives.
func (e *Env) toObject(v Value) (*Object, Status) {
	switch v.kind {
	case KindObject, KindFunction:
		return v.obj, StatusOK
	case KindUndefined, KindNull, KindExternal:
		return nil, StatusObjectExpected
	}
	o := newObject(ClassPrimitive, nil)
	o.primitive = v
	if v.kind == KindString {
		units := utf16Len(v.str)
		o.defineOwn(property{key: StringKey("length"), value: Number(float64(units))})
	}
	return o, StatusOK
}

// GetProperty reads k through the prototype chain, running getters.
func (e *Env) GetProperty(ctx context.Context, o *Object, k Key) (Value, error) {
	p := o.lookup(k)
	switch {
	case p == nil:
		return Undefined(), nil
	case !p.isAccessor():
		return p.value, nil
	case p.getter == nil:
		return Undefined(), nil
	}
	return e.invoke(ctx, p.getter, ObjectValue(o), nil, Undefined())
}

// SetProperty assigns v to k, running an inherited setter if there is
// one. It reports false when the assignment was rejected.
func (e *Env) SetProperty(ctx context.Context, o *Object, k Key, v Value) (bool, error) {
	if p := o.lookup(k); p != nil {
		if p.isAccessor() {
			if p.setter == nil {
				return false, nil
			}
			_, err := e.invoke(ctx, p.setter, ObjectValue(o), []Value{v}, Undefined())
			return err == nil, err
		}
		if p.attrs&Writable == 0 && o.own(k) == nil {
			return false, nil
		}
	}
	return o.setOwnData(k, v), nil
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
