package napi

import (
	"math"
	"math/big"
	"slices"
	"testing"
)

func TestNumberToString(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{1, "1"},
		{-42, "-42"},
		{0.1, "0.1"},
		{1.5e-7, "1.5e-7"},
		{0.000001, "0.000001"},
		{123.456, "123.456"},
		{1e21, "1e+21"},
		{1e20, "100000000000000000000"},
		{123456789012345680000, "123456789012345680000"},
		{math.NaN(), "NaN"},
		{math.Inf(1), "Infinity"},
		{math.Inf(-1), "-Infinity"},
		{math.MaxFloat64, "1.7976931348623157e+308"},
	}
	for _, tt := range tests {
		if got := NumberToString(tt.in); got != tt.want {
			t.Fatalf("NumberToString(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStringToNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"  12\n", 12},
		{"0x1F", 31},
		{"0b101", 5},
		{"0o17", 15},
		{"1e3", 1000},
		{".5", 0.5},
		{"-Infinity", math.Inf(-1)},
		{"1e400", math.Inf(1)},
		{"abc", math.NaN()},
		{"0x", math.NaN()},
		{"-0x10", math.NaN()},
		{"1_000", math.NaN()},
		{"inf", math.NaN()},
	}
	for _, tt := range tests {
		got := StringToNumber(tt.in)
		if got != tt.want && !(math.IsNaN(got) && math.IsNaN(tt.want)) {
			t.Fatalf("StringToNumber(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIntegerConversions(t *testing.T) {
	if got := ToInt32(4294967297); got != 1 {
		t.Fatalf("ToInt32(2^32+1) = %d", got)
	}
	if got := ToInt32(-1.5); got != -1 {
		t.Fatalf("ToInt32(-1.5) = %d", got)
	}
	if got := ToInt32(2147483648); got != math.MinInt32 {
		t.Fatalf("ToInt32(2^31) = %d", got)
	}
	if got := ToUint32(-1); got != math.MaxUint32 {
		t.Fatalf("ToUint32(-1) = %d", got)
	}
	if got := ToInt64(1e30); got != math.MaxInt64 {
		t.Fatalf("ToInt64(1e30) = %d", got)
	}
	if got := ToInt64(math.NaN()); got != 0 {
		t.Fatalf("ToInt64(NaN) = %d", got)
	}
}

func TestToStringAndBoolean(t *testing.T) {
	e := NewEnv(nil, nil, nil)
	arr := e.NewArray(Number(1), Null(), String("a"))
	sym := &Symbol{Description: "s", HasDesc: true}

	tests := []struct {
		in   Value
		want string
		ok   bool
	}{
		{Undefined(), "undefined", true},
		{Bool(true), "true", true},
		{BigInt(big.NewInt(-9)), "-9", true},
		{ObjectValue(arr), "1,,a", true},
		{ObjectValue(e.NewError("RangeError", Undefined(), "out")), "RangeError: out", true},
		{ObjectValue(e.NewObject()), "[object Object]", true},
		{SymbolValue(sym), "", false},
	}
	for _, tt := range tests {
		got, ok := ToString(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ToString(%s) = %q, %v", tt.in.Kind(), got, ok)
		}
	}

	truthy := []struct {
		in   Value
		want bool
	}{
		{Number(math.NaN()), false},
		{Number(-1), true},
		{String(""), false},
		{BigInt(new(big.Int)), false},
		{SymbolValue(sym), true},
		{ObjectValue(e.NewObject()), true},
	}
	for _, tt := range truthy {
		if got := ToBoolean(tt.in); got != tt.want {
			t.Fatalf("ToBoolean(%s) = %v", tt.in.Kind(), got)
		}
	}
	if _, ok := ToNumber(SymbolValue(sym)); ok {
		t.Fatalf("ToNumber(symbol) succeeded")
	}
}

func TestStrictEquals(t *testing.T) {
	o := newObject(ClassPlain, nil)
	tests := []struct {
		a, b Value
		want bool
	}{
		{Number(math.NaN()), Number(math.NaN()), false},
		{Number(0), Number(math.Copysign(0, -1)), true},
		{String("a"), String("a"), true},
		{ObjectValue(o), ObjectValue(o), true},
		{ObjectValue(o), ObjectValue(newObject(ClassPlain, nil)), false},
		{BigInt(big.NewInt(3)), BigInt(big.NewInt(3)), true},
		{Undefined(), Null(), false},
	}
	for i, tt := range tests {
		if got := StrictEquals(tt.a, tt.b); got != tt.want {
			t.Fatalf("case %d: StrictEquals = %v", i, got)
		}
	}
}

func describeKeys(keys []Value) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		switch k.Kind() {
		case KindNumber:
			out[i] = "#" + NumberToString(k.Float())
		case KindSymbol:
			out[i] = "@" + k.Symbol().Description
		default:
			out[i] = k.Str()
		}
	}
	return out
}

func TestKeysFilters(t *testing.T) {
	proto := newObject(ClassPlain, nil)
	proto.defineOwn(property{key: StringKey("inherited"), value: Number(1), attrs: defaultJSProperty})
	o := newObject(ClassPlain, proto)
	sym := &Symbol{Description: "s", HasDesc: true}
	o.defineOwn(property{key: StringKey("b"), value: Number(1), attrs: defaultJSProperty})
	o.defineOwn(property{key: StringKey("2"), value: Number(1), attrs: defaultJSProperty})
	o.defineOwn(property{key: StringKey("hidden"), value: Number(1), attrs: Writable})
	o.defineOwn(property{key: SymbolKey(sym), value: Number(1), attrs: defaultJSProperty})
	o.defineOwn(property{key: StringKey("ro"), value: Number(1), attrs: Enumerable})
	o.defineOwn(property{key: StringKey("0"), value: Number(1), attrs: defaultJSProperty})

	tests := []struct {
		name   string
		mode   KeyCollectionMode
		filter KeyFilter
		conv   KeyConversion
		want   []string
	}{
		{"all own", KeyOwnOnly, KeyAllProperties, KeyKeepNumbers,
			[]string{"#0", "#2", "b", "hidden", "ro", "@s"}},
		{"enumerable strings", KeyOwnOnly, KeyEnumerable | KeySkipSymbols, KeyNumbersToStrings,
			[]string{"0", "2", "b", "ro"}},
		{"writable", KeyOwnOnly, KeyWritable, KeyNumbersToStrings,
			[]string{"0", "2", "b", "hidden", "@s"}},
		{"configurable", KeyOwnOnly, KeyConfigurable | KeySkipSymbols, KeyNumbersToStrings,
			[]string{"0", "2", "b"}},
		{"symbols only", KeyOwnOnly, KeySkipStrings, KeyNumbersToStrings,
			[]string{"@s"}},
		{"with prototypes", KeyIncludePrototypes, KeyEnumerable | KeySkipSymbols, KeyNumbersToStrings,
			[]string{"0", "2", "b", "ro", "inherited"}},
	}
	for _, tt := range tests {
		got := describeKeys(o.Keys(tt.mode, tt.filter, tt.conv))
		if !slices.Equal(got, tt.want) {
			t.Fatalf("%s: keys = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestArrayLength(t *testing.T) {
	e := NewEnv(nil, nil, nil)
	arr := e.NewArray(Number(1), Number(2), Number(3))
	if arr.Length() != 3 {
		t.Fatalf("length = %d", arr.Length())
	}
	if !arr.setOwnData(indexKey(5), Number(6)) || arr.Length() != 6 {
		t.Fatalf("length after sparse write = %d", arr.Length())
	}
	if !arr.setOwnData(StringKey("length"), Number(1)) {
		t.Fatalf("truncation rejected")
	}
	if arr.HasOwn(indexKey(1)) || arr.HasOwn(indexKey(5)) || !arr.HasOwn(indexKey(0)) {
		t.Fatalf("truncation kept the wrong elements")
	}
	if arr.setOwnData(StringKey("length"), Number(1.5)) {
		t.Fatalf("fractional length accepted")
	}
	if arr.deleteOwn(StringKey("length")) {
		t.Fatalf("length deleted")
	}
}

func TestFreezeAndSeal(t *testing.T) {
	o := newObject(ClassPlain, nil)
	o.setOwnData(StringKey("a"), Number(1))
	o.Seal()
	if o.setOwnData(StringKey("b"), Number(2)) {
		t.Fatalf("sealed object grew")
	}
	if !o.setOwnData(StringKey("a"), Number(3)) {
		t.Fatalf("sealed property not writable")
	}
	if o.deleteOwn(StringKey("a")) {
		t.Fatalf("sealed property deleted")
	}
	o.Freeze()
	if o.setOwnData(StringKey("a"), Number(4)) {
		t.Fatalf("frozen property written")
	}
	if got := o.own(StringKey("a")).value.Float(); got != 3 {
		t.Fatalf("a = %v", got)
	}
}

func TestStoreHandles(t *testing.T) {
	s := NewStore()
	if h := s.Push(Undefined()); h != HandleUndefined {
		t.Fatalf("undefined = %d", h)
	}
	if h := s.Push(Bool(true)); h != HandleTrue {
		t.Fatalf("true = %d", h)
	}
	if h := s.Push(ObjectValue(s.Global())); h != HandleGlobal {
		t.Fatalf("global = %d", h)
	}
	sc := s.OpenScope(false)
	h := s.Push(Number(1))
	if h < firstHandle {
		t.Fatalf("value handle %d collides with the reserved range", h)
	}
	if st := s.CloseScope(sc.ID()); st != StatusOK {
		t.Fatalf("close = %v", st)
	}
	if _, ok := s.Get(h); ok {
		t.Fatalf("handle %d outlived its scope", h)
	}
	if s.Handles() != 0 {
		t.Fatalf("handles = %d", s.Handles())
	}
}
