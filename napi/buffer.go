package napi

import (
	"encoding/binary"
	"math"
	"math/big"

	wasmbridge "github.com/lovell/sharp-sub001"
	"github.com/lovell/sharp-sub001/memory"
)

// Backing says where an ArrayBuffer's bytes live.
type Backing uint8

const (
	BackingHost   Backing = iota // a Go slice
	BackingLinear                // a region of linear memory
)

// ArrayBuffer holds the bytes of an ArrayBuffer object. Linear-backed
// buffers remember only their region and re-derive the slice on every
// access, so they stay valid across memory growth.
type ArrayBuffer struct {
	backing  Backing
	host     []byte
	region   memory.Region
	mem      *memory.Manager
	detached bool
	owned    bool // region was allocated by the bridge
}

func newHostBuffer(n uint32) *ArrayBuffer {
	return &ArrayBuffer{backing: BackingHost, host: make([]byte, n)}
}

func newLinearBuffer(mem *memory.Manager, off, n uint32, owned bool) *ArrayBuffer {
	return &ArrayBuffer{
		backing: BackingLinear,
		region:  memory.Region{Offset: off, Length: n},
		mem:     mem,
		owned:   owned,
	}
}

func (b *ArrayBuffer) Backing() Backing { return b.backing }
func (b *ArrayBuffer) Detached() bool   { return b.detached }

// Region returns the linear memory window of a linear-backed buffer.
func (b *ArrayBuffer) Region() (memory.Region, bool) {
	return b.region, b.backing == BackingLinear && !b.detached
}

func (b *ArrayBuffer) Len() uint32 {
	switch {
	case b.detached:
		return 0
	case b.backing == BackingHost:
		return uint32(len(b.host))
	}
	return b.region.Length
}

// Bytes returns the current contents. The slice must not be held across
// anything that can grow linear memory.
func (b *ArrayBuffer) Bytes() []byte {
	switch {
	case b.detached:
		return nil
	case b.backing == BackingHost:
		return b.host
	}
	b.mem.Sync()
	return b.region.Bytes(b.mem.Views())
}

// pin returns the buffer's address in linear memory, first moving
// host-backed contents into a fresh allocation.
func (b *ArrayBuffer) pin(mem *memory.Manager, alloc wasmbridge.Allocator) (uint32, error) {
	if b.backing == BackingLinear || b.detached {
		return b.region.Offset, nil
	}
	n := uint32(len(b.host))
	if n == 0 {
		return 0, nil
	}
	ptr, err := alloc.Alloc(n, 16)
	if err != nil {
		return 0, err
	}
	mem.Sync()
	mem.Views().Write(ptr, b.host)
	*b = ArrayBuffer{
		backing: BackingLinear,
		region:  memory.Region{Offset: ptr, Length: n},
		mem:     mem,
		owned:   true,
	}
	return ptr, nil
}

// Detach drops the contents; owned linear regions are returned to alloc.
func (b *ArrayBuffer) detach(alloc wasmbridge.Allocator) {
	if b.detached {
		return
	}
	b.release(alloc)
	b.detached = true
	b.host = nil
}

func (b *ArrayBuffer) release(alloc wasmbridge.Allocator) {
	if b.backing == BackingLinear && b.owned && alloc != nil && b.region.Length > 0 {
		alloc.Free(b.region.Offset, b.region.Length, 16)
		b.owned = false
	}
}

// View is a typed array or DataView over an ArrayBuffer object.
type View struct {
	Type     TypedArrayType
	DataView bool
	IsBuffer bool // a Node Buffer, which is also a Uint8Array
	buffer   *Object
	offset   uint32 // bytes
	length   uint32 // elements, or bytes for a DataView
}

func (v *View) Buffer() *Object    { return v.buffer }
func (v *View) ByteOffset() uint32 { return v.offset }

// Len returns the element count, 0 once the buffer is detached.
func (v *View) Len() uint32 {
	if v.buffer.buffer.detached {
		return 0
	}
	return v.length
}

func (v *View) ByteLength() uint32 {
	if v.DataView {
		return v.Len()
	}
	return v.Len() * v.Type.ElementSize()
}

// Bytes returns the viewed window of the buffer.
func (v *View) Bytes() []byte {
	all := v.buffer.buffer.Bytes()
	if all == nil {
		return nil
	}
	return all[v.offset : v.offset+v.ByteLength()]
}

// Get reads element i as a value.
func (v *View) Get(i uint32) Value {
	sz := v.Type.ElementSize()
	b := v.Bytes()[i*sz:]
	le := binary.LittleEndian
	switch v.Type {
	case Int8Array:
		return Number(float64(int8(b[0])))
	case Uint8Array, Uint8ClampedArray:
		return Number(float64(b[0]))
	case Int16Array:
		return Number(float64(int16(le.Uint16(b))))
	case Uint16Array:
		return Number(float64(le.Uint16(b)))
	case Int32Array:
		return Number(float64(int32(le.Uint32(b))))
	case Uint32Array:
		return Number(float64(le.Uint32(b)))
	case Float32Array:
		return Number(float64(math.Float32frombits(le.Uint32(b))))
	case Float64Array:
		return Number(math.Float64frombits(le.Uint64(b)))
	case BigInt64Array:
		return Value{kind: KindBigInt, big: big.NewInt(int64(le.Uint64(b)))}
	case BigUint64Array:
		return Value{kind: KindBigInt, big: new(big.Int).SetUint64(le.Uint64(b))}
	}
	return Undefined()
}

// Set converts x to the element type and stores it at i.
func (v *View) Set(i uint32, x Value) {
	sz := v.Type.ElementSize()
	b := v.Bytes()[i*sz:]
	le := binary.LittleEndian
	if v.Type == BigInt64Array || v.Type == BigUint64Array {
		if x.kind == KindBigInt {
			le.PutUint64(b, bigToUint64(x.big))
		}
		return
	}
	f, _ := ToNumber(x)
	switch v.Type {
	case Int8Array, Uint8Array:
		b[0] = uint8(ToUint32(f))
	case Uint8ClampedArray:
		b[0] = clampUint8(f)
	case Int16Array, Uint16Array:
		le.PutUint16(b, uint16(ToUint32(f)))
	case Int32Array, Uint32Array:
		le.PutUint32(b, ToUint32(f))
	case Float32Array:
		le.PutUint32(b, math.Float32bits(float32(f)))
	case Float64Array:
		le.PutUint64(b, math.Float64bits(f))
	}
}

func clampUint8(f float64) uint8 {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= 255:
		return 255
	}
	return uint8(math.RoundToEven(f))
}

// bigToUint64 returns the low 64 bits of x in two's complement.
func bigToUint64(x *big.Int) uint64 {
	m := new(big.Int).And(x, new(big.Int).SetUint64(math.MaxUint64))
	return m.Uint64()
}
