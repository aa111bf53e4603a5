package napi

import (
	"math"
	"strconv"
)

// linearAlloc reserves n zeroed bytes of linear memory for a buffer whose
// data pointer the guest asked for.
func (e *Env) linearAlloc(n uint32) (*ArrayBuffer, Status) {
	if e.alloc == nil {
		return nil, StatusGenericFailure
	}
	if n == 0 {
		return newLinearBuffer(e.mem, 0, 0, false), StatusOK
	}
	ptr, err := e.alloc.Alloc(n, 16)
	if err != nil {
		return nil, e.throwNew("RangeError", "Array buffer allocation failed")
	}
	e.views().Fill(ptr, n, 0)
	return newLinearBuffer(e.mem, ptr, n, true), StatusOK
}

func bufferObject(b *ArrayBuffer) *Object {
	o := newObject(ClassArrayBuffer, nil)
	o.buffer = b
	return o
}

// nodeBuffer wraps an ArrayBuffer object in a Buffer view over all of it.
func nodeBuffer(ab *Object) *Object {
	o := newObject(ClassTypedArray, nil)
	o.view = &View{Type: Uint8Array, IsBuffer: true, buffer: ab, length: ab.buffer.Len()}
	return o
}

func (e *Env) createArrayBuffer(length, data, result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	if length > math.MaxInt32 {
		return e.throwNew("RangeError", "Array buffer allocation failed")
	}
	var b *ArrayBuffer
	if data != 0 {
		var st Status
		if b, st = e.linearAlloc(length); st != StatusOK {
			return st
		}
		e.views().SetU32(data, b.region.Offset)
	} else {
		b = newHostBuffer(length)
	}
	o := bufferObject(b)
	e.track(o)
	return e.setValue(result, ObjectValue(o))
}

// externalBuffer wraps guest-owned memory; the bridge never frees it.
func (e *Env) externalBuffer(data, length, finalizeCB, hint uint32) (*Object, Status) {
	if data == 0 && length > 0 {
		return nil, StatusInvalidArg
	}
	if !e.views().InBounds(data, length) {
		return nil, StatusInvalidArg
	}
	o := bufferObject(newLinearBuffer(e.mem, data, length, false))
	if finalizeCB != 0 {
		o.finalizers = append(o.finalizers, &Finalizer{Callback: finalizeCB, Data: data, Hint: hint})
	}
	e.track(o)
	return o, StatusOK
}

func (e *Env) createExternalArrayBuffer(data, length, finalizeCB, hint, result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	o, st := e.externalBuffer(data, length, finalizeCB, hint)
	if st != StatusOK {
		return st
	}
	return e.setValue(result, ObjectValue(o))
}

func (e *Env) createBuffer(size, data, result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	if size > math.MaxInt32 {
		return e.throwNew("RangeError", "Invalid array length")
	}
	var b *ArrayBuffer
	if data != 0 {
		var st Status
		if b, st = e.linearAlloc(size); st != StatusOK {
			return st
		}
		e.views().SetU32(data, b.region.Offset)
	} else {
		b = newHostBuffer(size)
	}
	ab := bufferObject(b)
	e.track(ab)
	return e.setValue(result, ObjectValue(nodeBuffer(ab)))
}

func (e *Env) createBufferCopy(length, src, resultData, result uint32) Status {
	if result == 0 || (length > 0 && src == 0) {
		return StatusInvalidArg
	}
	b, st := e.linearAlloc(length)
	if st != StatusOK {
		return st
	}
	v := e.views()
	v.Copy(b.region.Offset, src, length)
	if resultData != 0 {
		v.SetU32(resultData, b.region.Offset)
	}
	ab := bufferObject(b)
	e.track(ab)
	return e.setValue(result, ObjectValue(nodeBuffer(ab)))
}

func (e *Env) createExternalBuffer(length, data, finalizeCB, hint, result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	ab, st := e.externalBuffer(data, length, finalizeCB, hint)
	if st != StatusOK {
		return st
	}
	return e.setValue(result, ObjectValue(nodeBuffer(ab)))
}

func (e *Env) arrayBuffer(h uint32) (*Object, Status) {
	v, st := e.get(h)
	if st != StatusOK {
		return nil, st
	}
	if v.obj == nil || v.obj.class != ClassArrayBuffer {
		return nil, StatusInvalidArg
	}
	return v.obj, StatusOK
}

// createTypedArray validates alignment and bounds the way the engine
// would, throwing RangeError.
func (e *Env) createTypedArray(typ int32, length, arraybuffer, offset, result uint32) Status {
	ab, st := e.arrayBuffer(arraybuffer)
	if st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusInvalidArg
	}
	t := TypedArrayType(typ)
	if !t.valid() {
		return StatusInvalidArg
	}
	size := t.ElementSize()
	if offset%size != 0 {
		return e.throwNew("RangeError", "start offset of "+t.String()+
			" should be a multiple of "+strconv.Itoa(int(size)))
	}
	if uint64(length)*uint64(size)+uint64(offset) > uint64(ab.buffer.Len()) {
		return e.throwNew("RangeError", "Invalid typed array length")
	}
	o := newObject(ClassTypedArray, nil)
	o.view = &View{Type: t, buffer: ab, offset: offset, length: length}
	return e.setValue(result, ObjectValue(o))
}

func (e *Env) createDataView(length, arraybuffer, offset, result uint32) Status {
	ab, st := e.arrayBuffer(arraybuffer)
	if st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusInvalidArg
	}
	if uint64(length)+uint64(offset) > uint64(ab.buffer.Len()) {
		return e.throwNew("RangeError", "byte_offset + byte_length should be less than or "+
			"equal to the size in bytes of the array passed in")
	}
	o := newObject(ClassDataView, nil)
	o.view = &View{Type: Uint8Array, DataView: true, buffer: ab, offset: offset, length: length}
	return e.setValue(result, ObjectValue(o))
}

func (e *Env) isClass(value, result uint32, match func(o *Object) bool) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	return e.setBool(result, v.obj != nil && match(v.obj))
}

func (e *Env) isArrayBuffer(value, result uint32) Status {
	return e.isClass(value, result, func(o *Object) bool { return o.class == ClassArrayBuffer })
}

func (e *Env) isTypedArray(value, result uint32) Status {
	return e.isClass(value, result, func(o *Object) bool { return o.class == ClassTypedArray })
}

func (e *Env) isDataView(value, result uint32) Status {
	return e.isClass(value, result, func(o *Object) bool { return o.class == ClassDataView })
}

// isBuffer accepts Buffers and plain Uint8Arrays.
func (e *Env) isBuffer(value, result uint32) Status {
	return e.isClass(value, result, func(o *Object) bool {
		return o.class == ClassTypedArray && (o.view.IsBuffer || o.view.Type == Uint8Array)
	})
}

func (e *Env) isDate(value, result uint32) Status {
	return e.isClass(value, result, func(o *Object) bool { return o.class == ClassDate })
}

func (e *Env) isDetachedArrayBuffer(value, result uint32) Status {
	return e.isClass(value, result, func(o *Object) bool {
		return o.class == ClassArrayBuffer && o.buffer.detached
	})
}

func (e *Env) detachArrayBuffer(value uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if v.obj == nil || v.obj.class != ClassArrayBuffer {
		return StatusArraybufferExpected
	}
	v.obj.buffer.detach(e.alloc)
	return StatusOK
}

// pinned returns the linear address of b, moving host bytes if needed.
func (e *Env) pinned(b *ArrayBuffer) (uint32, Status) {
	if b.backing == BackingLinear || b.detached {
		return b.region.Offset, StatusOK
	}
	if e.alloc == nil {
		return 0, StatusGenericFailure
	}
	ptr, err := b.pin(e.mem, e.alloc)
	if err != nil {
		return 0, StatusGenericFailure
	}
	return ptr, StatusOK
}

func (e *Env) getArrayBufferInfo(arraybuffer, data, length uint32) Status {
	ab, st := e.arrayBuffer(arraybuffer)
	if st != StatusOK {
		return st
	}
	if data != 0 {
		ptr, st := e.pinned(ab.buffer)
		if st != StatusOK {
			return st
		}
		e.views().SetU32(data, ptr)
	}
	if length != 0 {
		e.views().SetU32(length, ab.buffer.Len())
	}
	return StatusOK
}

// viewData is the linear address of a view's first byte.
func (e *Env) viewData(view *View) (uint32, Status) {
	ptr, st := e.pinned(view.buffer.buffer)
	if st != StatusOK || ptr == 0 {
		return 0, st
	}
	return ptr + view.offset, StatusOK
}

func (e *Env) getTypedArrayInfo(value, typ, length, data, arraybuffer, offset uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if v.obj == nil || v.obj.class != ClassTypedArray {
		return StatusInvalidArg
	}
	view := v.obj.view
	if data != 0 {
		ptr, st := e.viewData(view)
		if st != StatusOK {
			return st
		}
		e.views().SetU32(data, ptr)
	}
	mem := e.views()
	if typ != 0 {
		mem.SetI32(typ, int32(view.Type))
	}
	if length != 0 {
		mem.SetU32(length, view.Len())
	}
	if arraybuffer != 0 {
		mem.SetU32(arraybuffer, e.store.Push(ObjectValue(view.buffer)))
	}
	if offset != 0 {
		mem.SetU32(offset, view.offset)
	}
	return StatusOK
}

func (e *Env) getDataViewInfo(value, byteLength, data, arraybuffer, offset uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if v.obj == nil || v.obj.class != ClassDataView {
		return StatusInvalidArg
	}
	view := v.obj.view
	if data != 0 {
		ptr, st := e.viewData(view)
		if st != StatusOK {
			return st
		}
		e.views().SetU32(data, ptr)
	}
	mem := e.views()
	if byteLength != 0 {
		mem.SetU32(byteLength, view.ByteLength())
	}
	if arraybuffer != 0 {
		mem.SetU32(arraybuffer, e.store.Push(ObjectValue(view.buffer)))
	}
	if offset != 0 {
		mem.SetU32(offset, view.offset)
	}
	return StatusOK
}

func (e *Env) getBufferInfo(value, data, length uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if v.obj == nil || v.obj.class != ClassTypedArray {
		return StatusInvalidArg
	}
	view := v.obj.view
	if data != 0 {
		ptr, st := e.viewData(view)
		if st != StatusOK {
			return st
		}
		e.views().SetU32(data, ptr)
	}
	if length != 0 {
		e.views().SetU32(length, view.ByteLength())
	}
	return StatusOK
}
