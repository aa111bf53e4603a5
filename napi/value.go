package napi

import (
	"math"
	"math/big"
)

// Kind discriminates Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindNumber
	KindString
	KindSymbol
	KindObject
	KindFunction
	KindExternal
	KindBigInt
)

var kindNames = [...]string{
	"undefined", "null", "boolean", "number", "string",
	"symbol", "object", "function", "external", "bigint",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Value is a host-resident value. Primitives are held by value; objects,
// functions and externals by pointer, so copies share identity.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	big  *big.Int
	sym  *Symbol
	obj  *Object
}

// Symbol is a unique symbol; registered symbols come from Symbol.for.
type Symbol struct {
	Description string
	HasDesc     bool
	Registered  bool
}

func Undefined() Value            { return Value{kind: KindUndefined} }
func Null() Value                 { return Value{kind: KindNull} }
func Bool(b bool) Value           { return Value{kind: KindBoolean, b: b} }
func Number(f float64) Value      { return Value{kind: KindNumber, num: f} }
func String(s string) Value       { return Value{kind: KindString, str: s} }
func SymbolValue(s *Symbol) Value { return Value{kind: KindSymbol, sym: s} }

// BigInt wraps a copy of x.
func BigInt(x *big.Int) Value {
	return Value{kind: KindBigInt, big: new(big.Int).Set(x)}
}

// ObjectValue wraps o; functions and externals keep their own kind.
func ObjectValue(o *Object) Value {
	switch o.class {
	case ClassFunction:
		return Value{kind: KindFunction, obj: o}
	case ClassExternal:
		return Value{kind: KindExternal, obj: o}
	}
	return Value{kind: KindObject, obj: o}
}

func (v Value) Kind() Kind { return v.kind }

// Type returns the napi_valuetype reported by napi_typeof.
func (v Value) Type() ValueType { return ValueType(v.kind) }

func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsNullish() bool   { return v.kind == KindUndefined || v.kind == KindNull }

// Object returns the object payload of objects, functions and externals.
func (v Value) Object() *Object { return v.obj }

func (v Value) Float() float64        { return v.num }
func (v Value) Str() string           { return v.str }
func (v Value) Boolean() bool         { return v.b }
func (v Value) Symbol() *Symbol       { return v.sym }
func (v Value) BigIntValue() *big.Int { return v.big }

// StrictEquals implements ===.
func StrictEquals(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUndefined, KindNull:
		return true
	case KindBoolean:
		return a.b == b.b
	case KindNumber:
		return a.num == b.num
	case KindString:
		return a.str == b.str
	case KindSymbol:
		return a.sym == b.sym
	case KindBigInt:
		return a.big.Cmp(b.big) == 0
	case KindObject, KindFunction, KindExternal:
		return a.obj == b.obj
	}
	return false
}

// ToBoolean implements the abstract ToBoolean operation.
func ToBoolean(v Value) bool {
	switch v.kind {
	case KindUndefined, KindNull:
		return false
	case KindBoolean:
		return v.b
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindString:
		return v.str != ""
	case KindBigInt:
		return v.big.Sign() != 0
	case KindSymbol, KindObject, KindFunction, KindExternal:
		return true
	}
	return false
}
