package napi

import (
	"math"
	"math/big"
	"unicode/utf8"
)

func (e *Env) getUndefined(result uint32) Status { return e.setU32(result, HandleUndefined) }
func (e *Env) getNull(result uint32) Status      { return e.setU32(result, HandleNull) }
func (e *Env) getGlobal(result uint32) Status    { return e.setU32(result, HandleGlobal) }

func (e *Env) getBoolean(b, result uint32) Status {
	return e.setValue(result, Bool(b != 0))
}

func (e *Env) createInt32(x int32, result uint32) Status {
	return e.setValue(result, Number(float64(x)))
}

func (e *Env) createUint32(x uint32, result uint32) Status {
	return e.setValue(result, Number(float64(x)))
}

func (e *Env) createInt64(x int64, result uint32) Status {
	return e.setValue(result, Number(float64(x)))
}

func (e *Env) createDouble(x float64, result uint32) Status {
	return e.setValue(result, Number(x))
}

func (e *Env) createBigintInt64(x int64, result uint32) Status {
	return e.setValue(result, BigInt(big.NewInt(x)))
}

func (e *Env) createBigintUint64(x uint64, result uint32) Status {
	return e.setValue(result, BigInt(new(big.Int).SetUint64(x)))
}

// maxBigintWords matches V8's BigInt::kMaxLength in 64-bit words.
const maxBigintWords = 1 << 24

func (e *Env) createBigintWords(signBit int32, count, words, result uint32) Status {
	if result == 0 || (count > 0 && words == 0) || count > math.MaxInt32 {
		return StatusInvalidArg
	}
	if count > maxBigintWords {
		return e.throwNew("RangeError", "Maximum BigInt size exceeded")
	}
	v := e.views()
	x := new(big.Int)
	for i := int(count) - 1; i >= 0; i-- {
		x.Lsh(x, 64)
		x.Or(x, new(big.Int).SetUint64(v.U64(words+uint32(i)*8)))
	}
	if signBit != 0 {
		x.Neg(x)
	}
	return e.setValue(result, BigInt(x))
}

func (e *Env) readLatin1(ptr, n uint32) string {
	v := e.views()
	var raw []byte
	if n == autoLength {
		raw = []byte(v.CString(ptr))
	} else {
		raw = v.Read(ptr, n)
	}
	rs := make([]rune, len(raw))
	for i, b := range raw {
		rs[i] = rune(b)
	}
	return string(rs)
}

func (e *Env) readUTF16(ptr, n uint32) string {
	v := e.views()
	if n == autoLength {
		return v.UTF16Z(ptr)
	}
	return v.UTF16(ptr, n)
}

// createString covers the three napi_create_string_* encodings.
func (e *Env) createString(enc encoding, str, length, result uint32) Status {
	if result == 0 || (str == 0 && length != 0) {
		return StatusInvalidArg
	}
	if length != autoLength && length > math.MaxInt32 {
		return StatusInvalidArg
	}
	var s string
	if str != 0 {
		switch enc {
		case encLatin1:
			s = e.readLatin1(str, length)
		case encUTF8:
			s = cstring(e.views(), str, length)
			if !utf8.ValidString(s) {
				s = string([]rune(s))
			}
		case encUTF16:
			s = e.readUTF16(str, length)
		}
	}
	return e.setValue(result, String(s))
}

type encoding uint8

const (
	encLatin1 encoding = iota
	encUTF8
	encUTF16
)

func (e *Env) createSymbol(description, result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	sym := &Symbol{}
	if description != 0 {
		d, st := e.get(description)
		if st != StatusOK {
			return st
		}
		if d.kind != KindString {
			return StatusStringExpected
		}
		sym.Description, sym.HasDesc = d.str, true
	}
	return e.setValue(result, SymbolValue(sym))
}

// symbolFor implements Symbol.for over the env's registry.
func (e *Env) symbolFor(str, length, result uint32) Status {
	if result == 0 || (str == 0 && length != 0) {
		return StatusInvalidArg
	}
	var s string
	if str != 0 {
		s = cstring(e.views(), str, length)
	}
	return e.setValue(result, SymbolValue(e.SymbolFor(s)))
}

// SymbolFor returns the registered symbol for key.
func (e *Env) SymbolFor(key string) *Symbol {
	sym, ok := e.symbols[key]
	if !ok {
		sym = &Symbol{Description: key, HasDesc: true, Registered: true}
		e.symbols[key] = sym
	}
	return sym
}

func (e *Env) createDate(t float64, result uint32) Status {
	o := newObject(ClassDate, nil)
	o.date = timeClip(t)
	return e.setValue(result, ObjectValue(o))
}

func timeClip(t float64) float64 {
	if math.IsNaN(t) || math.Abs(t) > 8.64e15 {
		return math.NaN()
	}
	return math.Trunc(t) + 0
}

func (e *Env) createExternal(data, finalizeCB, hint, result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	o := newObject(ClassExternal, nil)
	o.external = data
	if finalizeCB != 0 {
		o.finalizers = append(o.finalizers, &Finalizer{Callback: finalizeCB, Data: data, Hint: hint})
	}
	e.track(o)
	return e.setValue(result, ObjectValue(o))
}

func (e *Env) typeOf(value, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusInvalidArg
	}
	e.views().SetI32(result, int32(v.Type()))
	return StatusOK
}

func (e *Env) number(value uint32) (float64, Status) {
	v, st := e.get(value)
	if st != StatusOK {
		return 0, st
	}
	if v.kind != KindNumber {
		return 0, StatusNumberExpected
	}
	return v.num, StatusOK
}

func (e *Env) getValueDouble(value, result uint32) Status {
	f, st := e.number(value)
	if st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusInvalidArg
	}
	e.views().SetF64(result, f)
	return StatusOK
}

func (e *Env) getValueInt32(value, result uint32) Status {
	f, st := e.number(value)
	if st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusInvalidArg
	}
	e.views().SetI32(result, ToInt32(f))
	return StatusOK
}

func (e *Env) getValueUint32(value, result uint32) Status {
	f, st := e.number(value)
	if st != StatusOK {
		return st
	}
	return e.setU32(result, ToUint32(f))
}

func (e *Env) getValueInt64(value, result uint32) Status {
	f, st := e.number(value)
	if st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusInvalidArg
	}
	e.views().SetI64(result, ToInt64(f))
	return StatusOK
}

func (e *Env) getValueBool(value, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if v.kind != KindBoolean {
		return StatusBooleanExpected
	}
	return e.setBool(result, v.b)
}

func (e *Env) bigint(value uint32) (*big.Int, Status) {
	v, st := e.get(value)
	if st != StatusOK {
		return nil, st
	}
	if v.kind != KindBigInt {
		return nil, StatusBigintExpected
	}
	return v.big, StatusOK
}

func (e *Env) getValueBigintInt64(value, result, lossless uint32) Status {
	x, st := e.bigint(value)
	if st != StatusOK {
		return st
	}
	if result == 0 || lossless == 0 {
		return StatusInvalidArg
	}
	e.views().SetI64(result, int64(bigToUint64(x)))
	return e.setBool(lossless, x.IsInt64())
}

func (e *Env) getValueBigintUint64(value, result, lossless uint32) Status {
	x, st := e.bigint(value)
	if st != StatusOK {
		return st
	}
	if result == 0 || lossless == 0 {
		return StatusInvalidArg
	}
	e.views().SetU64(result, bigToUint64(x))
	return e.setBool(lossless, x.IsUint64())
}

// getValueBigintWords reports the word count when both sign and words are
// NULL; otherwise it writes as many magnitude words as fit.
func (e *Env) getValueBigintWords(value, signBit, wordCount, words uint32) Status {
	x, st := e.bigint(value)
	if st != StatusOK {
		return st
	}
	if wordCount == 0 {
		return StatusInvalidArg
	}
	mag := new(big.Int).Abs(x)
	need := uint32((mag.BitLen() + 63) / 64)
	v := e.views()
	if signBit == 0 && words == 0 {
		v.SetU32(wordCount, need)
		return StatusOK
	}
	if signBit == 0 || words == 0 {
		return StatusInvalidArg
	}
	n := min(v.U32(wordCount), need)
	mask := new(big.Int).SetUint64(math.MaxUint64)
	for i := range n {
		w := new(big.Int).Rsh(mag, uint(i)*64)
		v.SetU64(words+i*8, w.And(w, mask).Uint64())
	}
	var sign int32
	if x.Sign() < 0 {
		sign = 1
	}
	v.SetI32(signBit, sign)
	v.SetU32(wordCount, need)
	return StatusOK
}

// getValueString covers napi_get_value_string_*. With a NULL buffer it
// reports the full length in code units; otherwise it copies what fits
// and NUL-terminates.
func (e *Env) getValueString(enc encoding, value, buf, bufsize, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if v.kind != KindString {
		return StatusStringExpected
	}
	mem := e.views()
	if buf == 0 {
		if result == 0 {
			return StatusInvalidArg
		}
		var n int
		switch enc {
		case encLatin1:
			n = utf8.RuneCountInString(v.str)
		case encUTF8:
			n = len(v.str)
		case encUTF16:
			n = utf16Len(v.str)
		}
		mem.SetU32(result, uint32(n))
		return StatusOK
	}
	var copied uint32
	if bufsize > 0 {
		switch enc {
		case encLatin1:
			rs := []rune(v.str)
			n := min(uint32(len(rs)), bufsize-1)
			out := make([]byte, n+1)
			for i := range n {
				out[i] = byte(rs[i])
			}
			mem.Write(buf, out)
			copied = n
		case encUTF8:
			s := truncateUTF8(v.str, int(bufsize-1))
			copied = mem.WriteCString(buf, s, bufsize)
		case encUTF16:
			copied = mem.WriteUTF16(buf, v.str, bufsize)
		}
	}
	if result != 0 {
		mem.SetU32(result, copied)
	}
	return StatusOK
}

func (e *Env) getValueExternal(value, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if v.kind != KindExternal {
		return StatusInvalidArg
	}
	return e.setU32(result, v.obj.external)
}

func (e *Env) getDateValue(value, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if v.obj == nil || v.obj.class != ClassDate {
		return StatusDateExpected
	}
	if result == 0 {
		return StatusInvalidArg
	}
	e.views().SetF64(result, v.obj.date)
	return StatusOK
}

func (e *Env) coerceToBool(value, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	return e.setValue(result, Bool(ToBoolean(v)))
}

func (e *Env) coerceToNumber(value, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusInvalidArg
	}
	f, ok := ToNumber(v)
	if !ok {
		return e.throwNew("TypeError", "Cannot convert a "+v.kind.String()+" value to a number")
	}
	return e.setValue(result, Number(f))
}

func (e *Env) coerceToString(value, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusInvalidArg
	}
	s, ok := ToString(v)
	if !ok {
		return e.throwNew("TypeError", "Cannot convert a Symbol value to a string")
	}
	return e.setValue(result, String(s))
}

func (e *Env) coerceToObject(value, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusInvalidArg
	}
	switch v.kind {
	case KindUndefined, KindNull:
		return e.throwNew("TypeError", "Cannot convert undefined or null to object")
	case KindExternal:
		return e.setValue(result, v)
	}
	o, st := e.toObject(v)
	if st != StatusOK {
		return st
	}
	return e.setValue(result, ObjectValue(o))
}
