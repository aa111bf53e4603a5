package memory

import (
	"encoding/binary"
	"math"
	"unicode/utf16"

	"github.com/lovell/sharp-sub001/errors"
)

var le = binary.LittleEndian

// Views is the only sanctioned way to touch linear memory. The buffer is
// re-fetched whenever the manager's generation moves, so a Views value may
// be held across calls that allocate.
//
// Out of bounds accesses panic with an *errors.Error, mirroring a wasm trap.
// Host function boundaries recover it (see Guard).
type Views struct {
	m   *Manager
	buf []byte
	gen uint64
}

func (v *Views) bytes() []byte {
	if g := v.m.gen.Load(); g != v.gen || v.buf == nil {
		v.buf = v.m.backing.Bytes()
		v.gen = g
	}
	return v.buf
}

func (v *Views) span(off, n uint32) []byte {
	buf := v.bytes()
	end := uint64(off) + uint64(n)
	if end > uint64(len(buf)) {
		panic(errors.MemoryAccess(off, n, uint64(len(buf))))
	}
	return buf[off:end:end]
}

// Manager returns the manager the views are bound to.
func (v *Views) Manager() *Manager { return v.m }

// Len returns the current memory size in bytes.
func (v *Views) Len() uint32 { return uint32(len(v.bytes())) }

// InBounds reports whether [off, off+n) lies within memory.
func (v *Views) InBounds(off, n uint32) bool {
	return uint64(off)+uint64(n) <= uint64(len(v.bytes()))
}

func (v *Views) U8(off uint32) uint8         { return v.span(off, 1)[0] }
func (v *Views) SetU8(off uint32, x uint8)   { v.span(off, 1)[0] = x }
func (v *Views) I8(off uint32) int8          { return int8(v.U8(off)) }
func (v *Views) SetI8(off uint32, x int8)    { v.SetU8(off, uint8(x)) }
func (v *Views) U16(off uint32) uint16       { return le.Uint16(v.span(off, 2)) }
func (v *Views) SetU16(off uint32, x uint16) { le.PutUint16(v.span(off, 2), x) }
func (v *Views) I16(off uint32) int16        { return int16(v.U16(off)) }
func (v *Views) SetI16(off uint32, x int16)  { v.SetU16(off, uint16(x)) }
func (v *Views) U32(off uint32) uint32       { return le.Uint32(v.span(off, 4)) }
func (v *Views) SetU32(off uint32, x uint32) { le.PutUint32(v.span(off, 4), x) }
func (v *Views) I32(off uint32) int32        { return int32(v.U32(off)) }
func (v *Views) SetI32(off uint32, x int32)  { v.SetU32(off, uint32(x)) }
func (v *Views) U64(off uint32) uint64       { return le.Uint64(v.span(off, 8)) }
func (v *Views) SetU64(off uint32, x uint64) { le.PutUint64(v.span(off, 8), x) }
func (v *Views) I64(off uint32) int64        { return int64(v.U64(off)) }
func (v *Views) SetI64(off uint32, x int64)  { v.SetU64(off, uint64(x)) }

func (v *Views) F32(off uint32) float32 { return math.Float32frombits(v.U32(off)) }

func (v *Views) SetF32(off uint32, x float32) { v.SetU32(off, math.Float32bits(x)) }

func (v *Views) F64(off uint32) float64 { return math.Float64frombits(v.U64(off)) }

func (v *Views) SetF64(off uint32, x float64) { v.SetU64(off, math.Float64bits(x)) }

// Slice returns a live window into memory. The result must not be retained
// past the next call that can allocate.
func (v *Views) Slice(off, n uint32) []byte { return v.span(off, n) }

// Read returns a copy of [off, off+n).
func (v *Views) Read(off, n uint32) []byte {
	out := make([]byte, n)
	copy(out, v.span(off, n))
	return out
}

// Write copies data to off.
func (v *Views) Write(off uint32, data []byte) {
	copy(v.span(off, uint32(len(data))), data)
}

// Fill sets n bytes at off to b.
func (v *Views) Fill(off, n uint32, b byte) {
	s := v.span(off, n)
	for i := range s {
		s[i] = b
	}
}

// Copy moves n bytes from src to dst; the ranges may overlap.
func (v *Views) Copy(dst, src, n uint32) {
	v.span(dst, n)
	copy(v.bytes()[dst:], v.span(src, n))
}

// CString reads a NUL-terminated string at off.
func (v *Views) CString(off uint32) string {
	buf := v.bytes()
	if uint64(off) >= uint64(len(buf)) {
		panic(errors.MemoryAccess(off, 1, uint64(len(buf))))
	}
	end := off
	for end < uint32(len(buf)) && buf[end] != 0 {
		end++
	}
	return string(buf[off:end])
}

// CStringN reads at most max bytes, stopping at NUL.
func (v *Views) CStringN(off, max uint32) string {
	s := v.span(off, max)
	for i, b := range s {
		if b == 0 {
			return string(s[:i])
		}
	}
	return string(s)
}

// WriteCString writes s followed by a NUL and returns the number of bytes
// written excluding the terminator. When max is non-zero the output is
// truncated to fit max bytes including the terminator.
func (v *Views) WriteCString(off uint32, s string, max uint32) uint32 {
	n := uint32(len(s))
	if max > 0 && n+1 > max {
		n = max - 1
	}
	dst := v.span(off, n+1)
	copy(dst, s[:n])
	dst[n] = 0
	return n
}

// UTF16 reads n code units at off.
func (v *Views) UTF16(off, n uint32) string {
	raw := v.span(off, n*2)
	units := make([]uint16, n)
	for i := range units {
		units[i] = le.Uint16(raw[i*2:])
	}
	return string(utf16.Decode(units))
}

// UTF16Z reads a NUL-terminated UTF-16 string.
func (v *Views) UTF16Z(off uint32) string {
	n := uint32(0)
	for v.U16(off+n*2) != 0 {
		n++
	}
	return v.UTF16(off, n)
}

// WriteUTF16 writes s as UTF-16 code units followed by a NUL unit, truncated
// to max units including the terminator when max is non-zero. It returns the
// number of units written excluding the terminator.
func (v *Views) WriteUTF16(off uint32, s string, max uint32) uint32 {
	units := utf16.Encode([]rune(s))
	n := uint32(len(units))
	if max > 0 && n+1 > max {
		n = max - 1
	}
	dst := v.span(off, (n+1)*2)
	for i := uint32(0); i < n; i++ {
		le.PutUint16(dst[i*2:], units[i])
	}
	le.PutUint16(dst[n*2:], 0)
	return n
}

// Region names a window of linear memory by position rather than by slice,
// so it survives a grow.
type Region struct {
	Offset uint32
	Length uint32
}

// Bytes re-derives the region's live bytes.
func (r Region) Bytes(v *Views) []byte { return v.Slice(r.Offset, r.Length) }

// End returns the first offset past the region.
func (r Region) End() uint64 { return uint64(r.Offset) + uint64(r.Length) }

// Guard converts a memory access panic into an error. Other panics propagate.
//
//	defer memory.Guard(&err)
func Guard(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(*errors.Error); ok && e.Phase == errors.PhaseMemory {
		*errp = e
		return
	}
	panic(r)
}
