package wasmgen

import "github.com/tetratelabs/wazero/api"

func appendULEB(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

func appendSLEB(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

func appendName(b []byte, s string) []byte {
	b = appendULEB(b, uint64(len(s)))
	return append(b, s...)
}

// readULEB decodes an unsigned LEB128 value, returning the bytes consumed
// or 0 when data ends early or the value overflows 64 bits.
func readULEB(data []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i, c := range data {
		if shift >= 64 {
			return 0, 0
		}
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, i + 1
		}
		shift += 7
	}
	return 0, 0
}

func valType(t api.ValueType) byte {
	switch t {
	case api.ValueTypeI64:
		return 0x7e
	case api.ValueTypeF32:
		return 0x7d
	case api.ValueTypeF64:
		return 0x7c
	case api.ValueTypeExternref:
		return 0x6f
	}
	return 0x7f
}

func parseValType(b byte) (api.ValueType, bool) {
	switch b {
	case 0x7f, 0x7e, 0x7d, 0x7c, 0x6f:
		return b, true
	}
	return 0, false
}
