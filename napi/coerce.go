package napi

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// ToNumber implements the abstract ToNumber operation. ok is false for
// symbols and bigints, which throw a TypeError.
func ToNumber(v Value) (f float64, ok bool) {
	switch v.kind {
	case KindUndefined:
		return math.NaN(), true
	case KindNull:
		return 0, true
	case KindBoolean:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindNumber:
		return v.num, true
	case KindString:
		return StringToNumber(v.str), true
	case KindObject, KindFunction, KindExternal:
		switch v.obj.class {
		case ClassDate:
			return v.obj.date, true
		case ClassPrimitive:
			return ToNumber(v.obj.primitive)
		}
		s, _ := ToString(v)
		return StringToNumber(s), true
	}
	return 0, false
}

// StringToNumber parses s with the StringNumericLiteral grammar.
func StringToNumber(s string) float64 {
	s = strings.TrimFunc(s, isJSSpace)
	if s == "" {
		return 0
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, ok := new(big.Int).SetString(s[2:], base)
			if !ok || n.Sign() < 0 || strings.ContainsAny(s[2:], "_+-") {
				return math.NaN()
			}
			f, _ := new(big.Float).SetInt(n).Float64()
			return f
		}
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune("0123456789.eE+-", rune(s[i])) {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !math.IsInf(f, 0) {
		return math.NaN()
	}
	return f
}

func isJSSpace(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', ' ', 0xa0, 0x1680, 0x2028, 0x2029, 0x202f, 0x205f, 0x3000, 0xfeff:
		return true
	}
	return r >= 0x2000 && r <= 0x200a
}

// NumberToString formats f the way Number.prototype.toString() does.
func NumberToString(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	sign := ""
	if f < 0 {
		sign, f = "-", -f
	}
	mant, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	digits := strings.Replace(mant, ".", "", 1)
	x, _ := strconv.Atoi(exp)
	k, n := len(digits), x+1
	switch {
	case k <= n && n <= 21:
		return sign + digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		return sign + digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		return sign + "0." + strings.Repeat("0", -n) + digits
	}
	m := digits[:1]
	if k > 1 {
		m += "." + digits[1:]
	}
	if n-1 < 0 {
		return sign + m + "e-" + strconv.Itoa(1-n)
	}
	return sign + m + "e+" + strconv.Itoa(n-1)
}

// ToString implements the abstract ToString operation. ok is false for
// symbols.
func ToString(v Value) (string, bool) {
	switch v.kind {
	case KindUndefined:
		return "undefined", true
	case KindNull:
		return "null", true
	case KindBoolean:
		return strconv.FormatBool(v.b), true
	case KindNumber:
		return NumberToString(v.num), true
	case KindString:
		return v.str, true
	case KindBigInt:
		return v.big.String(), true
	case KindSymbol:
		return "", false
	}
	o := v.obj
	switch o.class {
	case ClassPrimitive:
		return ToString(o.primitive)
	case ClassArray:
		parts := make([]string, o.length)
		for i := range o.length {
			if p := o.own(indexKey(i)); p != nil && !p.isAccessor() && !p.value.IsNullish() {
				parts[i], _ = ToString(p.value)
			}
		}
		return strings.Join(parts, ","), true
	case ClassError:
		msg := ""
		if p := o.lookup(StringKey("message")); p != nil && !p.isAccessor() {
			msg, _ = ToString(p.value)
		}
		if msg == "" {
			return o.errName, true
		}
		return o.errName + ": " + msg, true
	case ClassDate:
		if math.IsNaN(o.date) {
			return "Invalid Date", true
		}
		return time.UnixMilli(int64(o.date)).UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)"), true
	case ClassFunction:
		return "function " + o.fn.Name + "() { [native code] }", true
	}
	return "[object Object]", true
}

// ToInt32 implements ToInt32: modular conversion, non-finite values map to 0.
func ToInt32(f float64) int32 { return int32(ToUint32(f)) }

// ToUint32 implements ToUint32.
func ToUint32(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	m := math.Mod(math.Trunc(f), 1<<32)
	if m < 0 {
		m += 1 << 32
	}
	return uint32(m)
}

// ToInt64 truncates f, saturating at the int64 range. Non-finite values
// map to 0.
func ToInt64(f float64) int64 {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}
