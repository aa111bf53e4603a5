package napi

import (
	"context"

	"github.com/lovell/sharp-sub001/resource"
)

// Ownership decides who deletes a reference whose value was collected.
type Ownership int32

const (
	OwnershipRuntime  Ownership = iota // deleted by the bridge after finalization
	OwnershipUserland                  // stays until napi_delete_reference
)

// Finalizer is a guest napi_finalize callback or a host function, run
// once when its value is collected.
type Finalizer struct {
	Callback uint32
	Data     uint32
	Hint     uint32
	Func     func(ctx context.Context, data, hint uint32)
}

// Reference is a counted reference that outlives handle scopes.
type Reference struct {
	id        uint32
	value     Value
	count     uint32
	ownership Ownership
	final     *Finalizer
	collected bool
}

func (r *Reference) ID() uint32    { return r.id }
func (r *Reference) Count() uint32 { return r.count }

// Value returns the referenced value; false once it has been collected.
func (r *Reference) Value() (Value, bool) {
	if r.collected {
		return Value{}, false
	}
	return r.value, true
}

// CreateReference makes a reference to v with an initial count. Only
// objects, functions, externals and symbols can be referenced.
func (e *Env) CreateReference(v Value, count uint32, ownership Ownership, fin *Finalizer) (*Reference, Status) {
	switch v.kind {
	case KindObject, KindFunction, KindExternal, KindSymbol:
	default:
		return nil, StatusInvalidArg
	}
	r := &Reference{value: v, count: count, ownership: ownership, final: fin}
	h := e.refs.Insert(0, r)
	if h == 0 {
		return nil, StatusGenericFailure
	}
	r.id = uint32(h)
	if v.obj != nil {
		v.obj.refs++
		e.track(v.obj)
	}
	return r, StatusOK
}

// Reference looks up a reference by id.
func (e *Env) Reference(id uint32) (*Reference, bool) {
	return e.refs.Get(resource.Handle(id))
}

// References returns the number of live references.
func (e *Env) References() int { return e.refs.Len() }

// DeleteReference disposes of a reference. When it was the last one to
// its object the object is collected right away if nothing else holds it.
func (e *Env) DeleteReference(ctx context.Context, id uint32) (Status, error) {
	r, ok := e.refs.Remove(resource.Handle(id))
	if !ok {
		return StatusInvalidArg, nil
	}
	o := r.value.obj
	if o == nil || r.collected {
		return StatusOK, nil
	}
	// a deleted reference's finalizer still runs when the value goes
	if r.final != nil {
		o.finalizers = append(o.finalizers, r.final)
	}
	o.refs--
	if o.refs > 0 {
		return StatusOK, nil
	}
	return StatusOK, e.Collect(ctx)
}

// Ref increments a reference's count.
func (e *Env) Ref(id uint32) (uint32, Status) {
	r, ok := e.Reference(id)
	if !ok {
		return 0, StatusInvalidArg
	}
	if r.collected {
		return 0, StatusGenericFailure
	}
	r.count++
	return r.count, StatusOK
}

// Unref decrements a reference's count; at zero the reference is weak.
func (e *Env) Unref(id uint32) (uint32, Status) {
	r, ok := e.Reference(id)
	if !ok {
		return 0, StatusInvalidArg
	}
	if r.count == 0 {
		return 0, StatusGenericFailure
	}
	r.count--
	return r.count, StatusOK
}
