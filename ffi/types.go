package ffi

import (
	"fmt"

	"github.com/lovell/sharp-sub001/memory"
)

// TypeTag is the ffi_type.type field.
type TypeTag uint16

const (
	Void       TypeTag = 0
	Int        TypeTag = 1
	Float      TypeTag = 2
	Double     TypeTag = 3
	LongDouble TypeTag = 4
	Uint8      TypeTag = 5
	Sint8      TypeTag = 6
	Uint16     TypeTag = 7
	Sint16     TypeTag = 8
	Uint32     TypeTag = 9
	Sint32     TypeTag = 10
	Uint64     TypeTag = 11
	Sint64     TypeTag = 12
	Struct     TypeTag = 13
	Pointer    TypeTag = 14
	Complex    TypeTag = 15
)

var tagNames = [...]string{
	Void:       "void",
	Int:        "int",
	Float:      "float",
	Double:     "double",
	LongDouble: "longdouble",
	Uint8:      "uint8",
	Sint8:      "sint8",
	Uint16:     "uint16",
	Sint16:     "sint16",
	Uint32:     "uint32",
	Sint32:     "sint32",
	Uint64:     "uint64",
	Sint64:     "sint64",
	Struct:     "struct",
	Pointer:    "pointer",
	Complex:    "complex",
}

func (t TypeTag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", uint16(t))
}

// isI32 reports whether values of t travel as a single i32.
func (t TypeTag) isI32() bool {
	switch t {
	case Int, Uint8, Sint8, Uint16, Sint16, Uint32, Sint32, Pointer:
		return true
	}
	return false
}

func (t TypeTag) is64() bool { return t == Uint64 || t == Sint64 }

// ABI identifiers and ffi_status values.
const (
	ABIWasm32Emscripten = 2

	StatusOK         = 0
	StatusBadTypedef = 1
	StatusBadABI     = 2
	StatusBadArgType = 3
)

const (
	typeSize      = 12
	closureSize   = 16
	cifSize       = 28
	longDoubleLen = 16
)

// Type is a decoded ffi_type.
type Type struct {
	Ptr       uint32
	Size      uint32
	Alignment uint16
	Tag       TypeTag
	Elements  uint32 // ffi_type** terminated by NULL
}

// ReadType decodes the ffi_type at ptr.
func ReadType(v *memory.Views, ptr uint32) Type {
	return Type{
		Ptr:       ptr,
		Size:      v.U32(ptr),
		Alignment: v.U16(ptr + 4),
		Tag:       TypeTag(v.U16(ptr + 6)),
		Elements:  v.U32(ptr + 8),
	}
}

// Element returns the i-th member pointer of a struct type, 0 past the end.
func (t Type) Element(v *memory.Views, i uint32) uint32 {
	if t.Elements == 0 {
		return 0
	}
	return v.U32(t.Elements + 4*i)
}

// Unbox strips struct wrappers the way emscripten passes them: an empty
// struct is void, a struct with exactly one member is that member, anything
// larger stays a struct. It returns the innermost descriptor and its tag.
func Unbox(v *memory.Views, ptr uint32) (uint32, TypeTag) {
	tag := TypeTag(v.U16(ptr + 6))
	for tag == Struct {
		elements := v.U32(ptr + 8)
		first := v.U32(elements)
		if first == 0 {
			tag = Void
			break
		}
		if v.U32(elements+4) != 0 {
			break
		}
		ptr = first
		tag = TypeTag(v.U16(ptr + 6))
	}
	return ptr, tag
}

// CIF is a decoded ffi_cif.
type CIF struct {
	Ptr        uint32
	ABI        uint32
	NArgs      uint32
	ArgTypes   uint32 // ffi_type*[NArgs]
	RType      uint32
	Bytes      uint32
	Flags      uint32
	NFixedArgs uint32
}

// ReadCIF decodes the ffi_cif at ptr.
func ReadCIF(v *memory.Views, ptr uint32) CIF {
	return CIF{
		Ptr:        ptr,
		ABI:        v.U32(ptr),
		NArgs:      v.U32(ptr + 4),
		ArgTypes:   v.U32(ptr + 8),
		RType:      v.U32(ptr + 12),
		Bytes:      v.U32(ptr + 16),
		Flags:      v.U32(ptr + 20),
		NFixedArgs: v.U32(ptr + 24),
	}
}

// ArgType returns the descriptor pointer of argument i.
func (c CIF) ArgType(v *memory.Views, i uint32) uint32 {
	return v.U32(c.ArgTypes + 4*i)
}

// Variadic reports whether the cif was prepared with ffi_prep_cif_var.
func (c CIF) Variadic() bool { return c.NFixedArgs < c.NArgs }
