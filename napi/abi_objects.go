package napi

import (
	"context"

	"github.com/lovell/sharp-sub001/memory"
)

func (e *Env) createObject(result uint32) Status {
	return e.setValue(result, ObjectValue(newObject(ClassPlain, nil)))
}

func (e *Env) createArray(result uint32) Status {
	return e.setValue(result, ObjectValue(newObject(ClassArray, nil)))
}

func (e *Env) createArrayWithLength(length, result uint32) Status {
	o := newObject(ClassArray, nil)
	// lengths beyond int32 clamp to an empty array the way Node does
	if int32(length) > 0 {
		o.length = length
	}
	return e.setValue(result, ObjectValue(o))
}

func (e *Env) setProperty(ctx context.Context, object, key, value uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	k, st := e.key(key)
	if st != StatusOK {
		return st
	}
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	return e.assign(ctx, o, k, v)
}

func (e *Env) assign(ctx context.Context, o *Object, k Key, v Value) Status {
	ok, err := e.SetProperty(ctx, o, k, v)
	if st := statusOf(err); st != StatusOK {
		return st
	}
	if !ok {
		return StatusGenericFailure
	}
	return StatusOK
}

func (e *Env) getProperty(ctx context.Context, object, key, result uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	k, st := e.key(key)
	if st != StatusOK {
		return st
	}
	return e.read(ctx, o, k, result)
}

func (e *Env) read(ctx context.Context, o *Object, k Key, result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	v, err := e.GetProperty(ctx, o, k)
	if st := statusOf(err); st != StatusOK {
		return st
	}
	return e.setValue(result, v)
}

func (e *Env) hasProperty(object, key, result uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	k, st := e.key(key)
	if st != StatusOK {
		return st
	}
	return e.setBool(result, o.Has(k))
}

func (e *Env) hasOwnProperty(object, key, result uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	v, st := e.get(key)
	if st != StatusOK {
		return st
	}
	if v.kind != KindString && v.kind != KindSymbol {
		return StatusNameExpected
	}
	k, _ := e.key(key)
	return e.setBool(result, o.HasOwn(k))
}

func (e *Env) deleteProperty(object, key, result uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	k, st := e.key(key)
	if st != StatusOK {
		return st
	}
	ok := o.deleteOwn(k)
	if result != 0 {
		return e.setBool(result, ok)
	}
	return StatusOK
}

func (e *Env) setNamedProperty(ctx context.Context, object, name, value uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	if name == 0 {
		return StatusInvalidArg
	}
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	return e.assign(ctx, o, StringKey(e.views().CString(name)), v)
}

func (e *Env) getNamedProperty(ctx context.Context, object, name, result uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	if name == 0 {
		return StatusInvalidArg
	}
	return e.read(ctx, o, StringKey(e.views().CString(name)), result)
}

func (e *Env) hasNamedProperty(object, name, result uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	if name == 0 {
		return StatusInvalidArg
	}
	return e.setBool(result, o.Has(StringKey(e.views().CString(name))))
}

func (e *Env) setElement(ctx context.Context, object, index, value uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	return e.assign(ctx, o, indexKey(index), v)
}

func (e *Env) getElement(ctx context.Context, object, index, result uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	return e.read(ctx, o, indexKey(index), result)
}

func (e *Env) hasElement(object, index, result uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	return e.setBool(result, o.Has(indexKey(index)))
}

func (e *Env) deleteElement(object, index, result uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	ok := o.deleteOwn(indexKey(index))
	if result != 0 {
		return e.setBool(result, ok)
	}
	return StatusOK
}

// getPropertyNames lists enumerable string keys through the prototype
// chain, numbers converted to strings, like for..in.
func (e *Env) getPropertyNames(object, result uint32) Status {
	return e.getAllPropertyNames(object, int32(KeyIncludePrototypes),
		int32(KeyEnumerable|KeySkipSymbols), int32(KeyNumbersToStrings), result)
}

func (e *Env) getAllPropertyNames(object uint32, mode, filter, conv int32, result uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusInvalidArg
	}
	if mode != int32(KeyIncludePrototypes) && mode != int32(KeyOwnOnly) {
		return StatusInvalidArg
	}
	if conv != int32(KeyKeepNumbers) && conv != int32(KeyNumbersToStrings) {
		return StatusInvalidArg
	}
	keys := o.Keys(KeyCollectionMode(mode), KeyFilter(filter), KeyConversion(conv))
	return e.setValue(result, ObjectValue(e.NewArray(keys...)))
}

func (e *Env) getArrayLength(value, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if v.obj == nil || v.obj.class != ClassArray {
		return StatusArrayExpected
	}
	return e.setU32(result, v.obj.length)
}

func (e *Env) isArray(value, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	return e.setBool(result, v.obj != nil && v.obj.class == ClassArray)
}

func (e *Env) getPrototype(object, result uint32) Status {
	o, st := e.coerceObject(object)
	if st != StatusOK {
		return st
	}
	if o.proto == nil {
		return e.setValue(result, Null())
	}
	return e.setValue(result, ObjectValue(o.proto))
}

func (e *Env) strictEquals(lhs, rhs, result uint32) Status {
	a, st := e.get(lhs)
	if st != StatusOK {
		return st
	}
	b, st := e.get(rhs)
	if st != StatusOK {
		return st
	}
	return e.setBool(result, StrictEquals(a, b))
}

// instanceOf follows OrdinaryHasInstance: cons must be a function and its
// prototype property an object.
func (e *Env) instanceOf(object, cons, result uint32) Status {
	v, st := e.get(object)
	if st != StatusOK {
		return st
	}
	c, st := e.get(cons)
	if st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusInvalidArg
	}
	if c.kind != KindFunction {
		e.throwNew("TypeError", "Constructor must be a function")
		return StatusFunctionExpected
	}
	p := c.obj.own(StringKey("prototype"))
	if p == nil || p.value.obj == nil {
		return e.throwNew("TypeError", "Function has non-object prototype in instanceof check")
	}
	return e.setBool(result, v.obj != nil && v.obj.InstanceOf(p.value.obj))
}

func (e *Env) objectFreeze(object uint32) Status {
	o, st := e.object(object)
	if st != StatusOK {
		return st
	}
	o.Freeze()
	return StatusOK
}

func (e *Env) objectSeal(object uint32) Status {
	o, st := e.object(object)
	if st != StatusOK {
		return st
	}
	o.Seal()
	return StatusOK
}

// propertyDescriptorSize is sizeof(napi_property_descriptor) on wasm32:
// utf8name, name, method, getter, setter, value, attributes, data.
const propertyDescriptorSize = 32

type propertyDescriptor struct {
	utf8name, name, method, getter, setter, value uint32
	attrs                                         PropertyAttributes
	data                                          uint32
}

func readDescriptor(v *memory.Views, ptr uint32) propertyDescriptor {
	return propertyDescriptor{
		utf8name: v.U32(ptr),
		name:     v.U32(ptr + 4),
		method:   v.U32(ptr + 8),
		getter:   v.U32(ptr + 12),
		setter:   v.U32(ptr + 16),
		value:    v.U32(ptr + 20),
		attrs:    PropertyAttributes(v.I32(ptr + 24)),
		data:     v.U32(ptr + 28),
	}
}

// toProperty resolves a descriptor into a property. Callbacks become
// function objects carrying the descriptor's data.
func (e *Env) toProperty(d propertyDescriptor) (property, Status) {
	var p property
	switch {
	case d.utf8name != 0:
		p.key = StringKey(e.views().CString(d.utf8name))
	default:
		n, st := e.get(d.name)
		if st != StatusOK {
			return p, StatusNameExpected
		}
		switch n.kind {
		case KindString:
			p.key = StringKey(n.str)
		case KindSymbol:
			p.key = SymbolKey(n.sym)
		default:
			return p, StatusNameExpected
		}
	}
	p.attrs = d.attrs & (Writable | Enumerable | Configurable)
	name := p.key.Name
	switch {
	case d.getter != 0 || d.setter != 0:
		if d.getter != 0 {
			p.getter = e.newFunction(&Function{Name: name, Callback: d.getter, Data: d.data})
		}
		if d.setter != 0 {
			p.setter = e.newFunction(&Function{Name: name, Callback: d.setter, Data: d.data})
		}
		p.attrs &^= Writable
	case d.method != 0:
		p.value = ObjectValue(e.newFunction(&Function{Name: name, Callback: d.method, Data: d.data}))
	default:
		v, st := e.get(d.value)
		if st != StatusOK {
			return p, st
		}
		p.value = v
	}
	return p, StatusOK
}

func (e *Env) defineProperties(object, count, props uint32) Status {
	o, st := e.object(object)
	if st != StatusOK {
		return st
	}
	if count > 0 && props == 0 {
		return StatusInvalidArg
	}
	v := e.views()
	for i := range count {
		p, st := e.toProperty(readDescriptor(v, props+i*propertyDescriptorSize))
		if st != StatusOK {
			return st
		}
		if !o.defineOwn(p) {
			return e.throwNew("TypeError", "Cannot redefine property: "+p.key.Name)
		}
	}
	return StatusOK
}

// defineClass creates a constructor whose static descriptors land on the
// function and the rest on its prototype.
func (e *Env) defineClass(name, length, cons, data, count, props, result uint32) Status {
	if result == 0 || cons == 0 || (count > 0 && props == 0) {
		return StatusInvalidArg
	}
	if name == 0 || (length != autoLength && int32(length) < 0) {
		return StatusInvalidArg
	}
	v := e.views()
	fn := e.newFunction(&Function{Name: cstring(v, name, length), Callback: cons, Data: data})
	proto := fn.own(StringKey("prototype")).value.obj
	for i := range count {
		d := readDescriptor(v, props+i*propertyDescriptorSize)
		p, st := e.toProperty(d)
		if st != StatusOK {
			return st
		}
		target := proto
		if d.attrs&Static != 0 {
			target = fn
		}
		if !target.defineOwn(p) {
			return StatusGenericFailure
		}
	}
	return e.setValue(result, ObjectValue(fn))
}

// wrap attaches native data to an object. An object can be wrapped once.
func (e *Env) wrap(object, native, finalizeCB, hint, result uint32) Status {
	o, st := e.object(object)
	if st != StatusOK {
		return st
	}
	if o.wrapped {
		return StatusInvalidArg
	}
	o.wrapped, o.wrapData = true, native
	if finalizeCB != 0 {
		o.wrapFinal = &Finalizer{Callback: finalizeCB, Data: native, Hint: hint}
	}
	e.track(o)
	if result == 0 {
		return StatusOK
	}
	r, st := e.CreateReference(ObjectValue(o), 0, OwnershipUserland, nil)
	if st != StatusOK {
		return st
	}
	return e.setU32(result, r.id)
}

func (e *Env) unwrap(object, result uint32) Status {
	o, st := e.object(object)
	if st != StatusOK {
		return st
	}
	if !o.wrapped {
		return StatusInvalidArg
	}
	return e.setU32(result, o.wrapData)
}

// removeWrap detaches the native data without running its finalizer.
func (e *Env) removeWrap(object, result uint32) Status {
	o, st := e.object(object)
	if st != StatusOK {
		return st
	}
	if !o.wrapped {
		return StatusInvalidArg
	}
	if result != 0 {
		e.views().SetU32(result, o.wrapData)
	}
	o.wrapped, o.wrapData, o.wrapFinal = false, 0, nil
	return StatusOK
}

func (e *Env) addFinalizer(object, data, finalizeCB, hint, result uint32) Status {
	o, st := e.object(object)
	if st != StatusOK {
		return st
	}
	if finalizeCB == 0 {
		return StatusInvalidArg
	}
	o.finalizers = append(o.finalizers, &Finalizer{Callback: finalizeCB, Data: data, Hint: hint})
	e.track(o)
	if result == 0 {
		return StatusOK
	}
	r, st := e.CreateReference(ObjectValue(o), 0, OwnershipUserland, nil)
	if st != StatusOK {
		return st
	}
	return e.setU32(result, r.id)
}

// typeTagObject attaches a 128-bit napi_type_tag; an object takes one tag.
func (e *Env) typeTagObject(object, tag uint32) Status {
	o, st := e.object(object)
	if st != StatusOK {
		return st
	}
	if tag == 0 {
		return StatusInvalidArg
	}
	if o.typeTag != nil {
		return StatusInvalidArg
	}
	v := e.views()
	o.typeTag = &[2]uint64{v.U64(tag), v.U64(tag + 8)}
	return StatusOK
}

func (e *Env) checkObjectTypeTag(object, tag, result uint32) Status {
	o, st := e.object(object)
	if st != StatusOK {
		return st
	}
	if tag == 0 {
		return StatusInvalidArg
	}
	v := e.views()
	want := [2]uint64{v.U64(tag), v.U64(tag + 8)}
	return e.setBool(result, o.typeTag != nil && *o.typeTag == want)
}
