package napi

import (
	"slices"
	"sort"
	"strconv"
)

// Class is the internal class of an Object.
type Class uint8

const (
	ClassPlain Class = iota
	ClassArray
	ClassError
	ClassArrayBuffer
	ClassTypedArray
	ClassDataView
	ClassPromise
	ClassDate
	ClassFunction
	ClassExternal
	ClassPrimitive // result of ToObject on a primitive
)

// Key is a property key: a string, or a symbol when Sym is set.
type Key struct {
	Name string
	Sym  *Symbol
}

func StringKey(s string) Key  { return Key{Name: s} }
func SymbolKey(s *Symbol) Key { return Key{Sym: s} }

func (k Key) IsSymbol() bool { return k.Sym != nil }

// Value returns the key as a string or symbol value.
func (k Key) Value() Value {
	if k.Sym != nil {
		return SymbolValue(k.Sym)
	}
	return String(k.Name)
}

// arrayIndex parses a canonical array index.
func arrayIndex(k Key) (uint32, bool) {
	if k.Sym != nil || k.Name == "" || len(k.Name) > 10 {
		return 0, false
	}
	if k.Name != "0" && k.Name[0] == '0' {
		return 0, false
	}
	n, err := strconv.ParseUint(k.Name, 10, 32)
	if err != nil || n == 1<<32-1 {
		return 0, false
	}
	return uint32(n), true
}

func indexKey(i uint32) Key { return Key{Name: strconv.FormatUint(uint64(i), 10)} }

type property struct {
	key    Key
	value  Value
	getter *Object
	setter *Object
	attrs  PropertyAttributes
}

func (p *property) isAccessor() bool { return p.getter != nil || p.setter != nil }

// Object is the payload of object, function and external values.
type Object struct {
	class Class
	proto *Object
	props []*property
	index map[Key]int

	frozen        bool
	sealed        bool
	nonExtensible bool

	length    uint32 // arrays
	fn        *Function
	external  uint32
	buffer    *ArrayBuffer
	view      *View
	promise   *Promise
	date      float64
	errName   string
	primitive Value

	wrapped    bool
	wrapData   uint32
	wrapFinal  *Finalizer
	typeTag    *[2]uint64
	finalizers []*Finalizer
	finalized  bool
	refs       int
}

func newObject(class Class, proto *Object) *Object {
	return &Object{class: class, proto: proto}
}

func (o *Object) Class() Class              { return o.class }
func (o *Object) Proto() *Object            { return o.proto }
func (o *Object) IsArray() bool             { return o.class == ClassArray }
func (o *Object) Function() *Function       { return o.fn }
func (o *Object) ArrayBuffer() *ArrayBuffer { return o.buffer }
func (o *Object) View() *View               { return o.view }
func (o *Object) Promise() *Promise         { return o.promise }
func (o *Object) External() uint32          { return o.external }
func (o *Object) Date() float64             { return o.date }
func (o *Object) Frozen() bool              { return o.frozen }
func (o *Object) Sealed() bool              { return o.sealed }
func (o *Object) Finalized() bool           { return o.finalized }

func (o *Object) extensible() bool { return !o.nonExtensible && !o.sealed && !o.frozen }

// Length returns an array's length.
func (o *Object) Length() uint32 { return o.length }

// own returns the own data or accessor property for k. Typed array
// elements and array length are synthesized.
func (o *Object) own(k Key) *property {
	switch o.class {
	case ClassArray:
		if k.Sym == nil && k.Name == "length" {
			return &property{key: k, value: Number(float64(o.length)), attrs: Writable}
		}
	case ClassTypedArray:
		if i, ok := arrayIndex(k); ok {
			if i >= o.view.Len() {
				return nil
			}
			return &property{key: k, value: o.view.Get(i), attrs: Writable | Enumerable}
		}
		if k.Sym == nil && k.Name == "length" {
			return &property{key: k, value: Number(float64(o.view.Len()))}
		}
	}
	if i, ok := o.index[k]; ok {
		return o.props[i]
	}
	return nil
}

// HasOwn reports whether k is an own property.
func (o *Object) HasOwn(k Key) bool { return o.own(k) != nil }

// lookup walks the prototype chain.
func (o *Object) lookup(k Key) *property {
	for p := o; p != nil; p = p.proto {
		if prop := p.own(k); prop != nil {
			return prop
		}
	}
	return nil
}

// Has reports whether k is found on o or its prototypes.
func (o *Object) Has(k Key) bool { return o.lookup(k) != nil }

// defineOwn creates or replaces an own property. It fails on frozen
// objects, on non-configurable properties and when adding to a
// non-extensible object.
func (o *Object) defineOwn(p property) bool {
	if o.frozen {
		return false
	}
	switch o.class {
	case ClassArray:
		if p.key.Sym == nil && p.key.Name == "length" {
			if p.isAccessor() || p.value.kind != KindNumber {
				return false
			}
			return o.setLength(uint32(p.value.num))
		}
	case ClassTypedArray:
		if i, ok := arrayIndex(p.key); ok {
			if i >= o.view.Len() || p.isAccessor() {
				return false
			}
			o.view.Set(i, p.value)
			return true
		}
	}
	if i, ok := o.index[p.key]; ok {
		cur := o.props[i]
		if cur.attrs&Configurable == 0 {
			if cur.isAccessor() || p.isAccessor() || cur.attrs&Writable == 0 {
				return false
			}
			cur.value = p.value
			return true
		}
		*cur = p
		return true
	}
	if !o.extensible() {
		return false
	}
	if o.index == nil {
		o.index = make(map[Key]int)
	}
	o.index[p.key] = len(o.props)
	o.props = append(o.props, &p)
	if o.class == ClassArray {
		if i, ok := arrayIndex(p.key); ok && i >= o.length {
			o.length = i + 1
		}
	}
	return true
}

// setOwnData assigns v to k as a plain assignment would: existing data
// properties must be writable, new ones get default attributes.
func (o *Object) setOwnData(k Key, v Value) bool {
	switch o.class {
	case ClassTypedArray:
		if i, ok := arrayIndex(k); ok {
			if i < o.view.Len() {
				o.view.Set(i, v)
			}
			return true
		}
	case ClassArray:
		if k.Sym == nil && k.Name == "length" {
			n := v.num
			if v.kind != KindNumber || n < 0 || n > 1<<32-1 || n != float64(uint32(n)) || o.frozen {
				return false
			}
			return o.setLength(uint32(n))
		}
	}
	if i, ok := o.index[k]; ok {
		cur := o.props[i]
		if cur.isAccessor() || cur.attrs&Writable == 0 {
			return false
		}
		cur.value = v
		return true
	}
	return o.defineOwn(property{key: k, value: v, attrs: defaultJSProperty})
}

// deleteOwn removes k. Missing keys delete successfully.
func (o *Object) deleteOwn(k Key) bool {
	if o.class == ClassTypedArray {
		if i, ok := arrayIndex(k); ok {
			return i >= o.view.Len()
		}
	}
	if o.class == ClassArray && k.Sym == nil && k.Name == "length" {
		return false
	}
	i, ok := o.index[k]
	if !ok {
		return true
	}
	if o.sealed || o.frozen || o.props[i].attrs&Configurable == 0 {
		return false
	}
	o.props = slices.Delete(o.props, i, i+1)
	o.reindex()
	return true
}

func (o *Object) reindex() {
	if o.index == nil {
		o.index = make(map[Key]int, len(o.props))
	}
	clear(o.index)
	for i, p := range o.props {
		o.index[p.key] = i
	}
}

func (o *Object) setLength(n uint32) bool {
	if n >= o.length {
		o.length = n
		return true
	}
	for _, p := range o.props {
		if i, ok := arrayIndex(p.key); ok && i >= n && (p.attrs&Configurable == 0 || o.sealed) {
			return false
		}
	}
	keep := o.props[:0]
	for _, p := range o.props {
		if i, ok := arrayIndex(p.key); !ok || i < n {
			keep = append(keep, p)
		}
	}
	clear(o.props[len(keep):])
	o.props = keep
	o.reindex()
	o.length = n
	return true
}

// ownKeys lists own keys in property order: array indices ascending, then
// strings and symbols in creation order.
func (o *Object) ownKeys() []*property {
	var indices, names, syms []*property
	if o.class == ClassTypedArray {
		for i := range o.view.Len() {
			indices = append(indices, o.own(indexKey(i)))
		}
	}
	for _, p := range o.props {
		switch _, isIndex := arrayIndex(p.key); {
		case isIndex:
			indices = append(indices, p)
		case p.key.Sym != nil:
			syms = append(syms, p)
		default:
			names = append(names, p)
		}
	}
	sort.SliceStable(indices, func(a, b int) bool {
		x, _ := arrayIndex(indices[a].key)
		y, _ := arrayIndex(indices[b].key)
		return x < y
	})
	return slices.Concat(indices, names, syms)
}

// Keys enumerates property keys per napi_get_all_property_names. Keys
// shadowed by an earlier object in the chain are reported once.
func (o *Object) Keys(mode KeyCollectionMode, filter KeyFilter, conv KeyConversion) []Value {
	var out []Value
	seen := make(map[Key]bool)
	for cur := o; cur != nil; cur = cur.proto {
		for _, p := range cur.ownKeys() {
			if seen[p.key] {
				continue
			}
			seen[p.key] = true
			if !keyMatches(p, filter) {
				continue
			}
			if i, ok := arrayIndex(p.key); ok && conv == KeyKeepNumbers {
				out = append(out, Number(float64(i)))
				continue
			}
			out = append(out, p.key.Value())
		}
		if mode == KeyOwnOnly {
			break
		}
	}
	return out
}

func keyMatches(p *property, filter KeyFilter) bool {
	if filter&KeyWritable != 0 && (p.isAccessor() || p.attrs&Writable == 0) {
		return false
	}
	if filter&KeyEnumerable != 0 && p.attrs&Enumerable == 0 {
		return false
	}
	if filter&KeyConfigurable != 0 && p.attrs&Configurable == 0 {
		return false
	}
	if filter&KeySkipStrings != 0 && p.key.Sym == nil {
		return false
	}
	if filter&KeySkipSymbols != 0 && p.key.Sym != nil {
		return false
	}
	return true
}

// Freeze makes every own property read-only and non-configurable and
// prevents additions.
func (o *Object) Freeze() {
	for _, p := range o.props {
		p.attrs &^= Configurable
		if !p.isAccessor() {
			p.attrs &^= Writable
		}
	}
	o.frozen, o.sealed, o.nonExtensible = true, true, true
}

// Seal prevents additions and deletions.
func (o *Object) Seal() {
	for _, p := range o.props {
		p.attrs &^= Configurable
	}
	o.sealed, o.nonExtensible = true, true
}

// InstanceOf walks o's prototype chain looking for proto.
func (o *Object) InstanceOf(proto *Object) bool {
	for p := o.proto; p != nil; p = p.proto {
		if p == proto {
			return true
		}
	}
	return false
}
