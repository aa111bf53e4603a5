package wasmgen

import (
	"encoding/binary"
	"math"
)

const (
	opUnreachable    = 0x00
	opBlock          = 0x02
	opLoop           = 0x03
	opIf             = 0x04
	opElse           = 0x05
	opEnd            = 0x0b
	opBr             = 0x0c
	opBrIf           = 0x0d
	opReturn         = 0x0f
	opCall           = 0x10
	opCallIndirect   = 0x11
	opDrop           = 0x1a
	opLocalGet       = 0x20
	opLocalSet       = 0x21
	opLocalTee       = 0x22
	opGlobalGet      = 0x23
	opGlobalSet      = 0x24
	opI32Load        = 0x28
	opI64Load        = 0x29
	opF64Load        = 0x2b
	opI32Load8U      = 0x2d
	opI32Store       = 0x36
	opI64Store       = 0x37
	opF64Store       = 0x39
	opI32Store8      = 0x3a
	opMemorySize     = 0x3f
	opMemoryGrow     = 0x40
	opI32Const       = 0x41
	opI64Const       = 0x42
	opF64Const       = 0x44
	opI32Eqz         = 0x45
	opI32Eq          = 0x46
	opI32Ne          = 0x47
	opI32LtU         = 0x49
	opI32GtU         = 0x4b
	opI32Add         = 0x6a
	opI32Sub         = 0x6b
	opI32Mul         = 0x6c
	opI32And         = 0x71
	opI64Add         = 0x7c
	opF64Add         = 0xa0
	opF64Mul         = 0xa2
	opF64ConvertI32S = 0xb7
	opRefNull        = 0xd0
	opRefFunc        = 0xd2
	opPrefixFC       = 0xfc

	// 0xFC sub-opcodes
	fcTableGrow = 0x0f
	fcTableSize = 0x10
	fcTableFill = 0x11
)

// BlockVoid is the empty block type.
const BlockVoid = 0x40

// Code builds a function body one instruction at a time.
type Code struct {
	b []byte
}

// Bytes returns the encoded instructions.
func (c *Code) Bytes() []byte { return c.b }

func (c *Code) op(op byte, imm ...uint32) *Code {
	c.b = append(c.b, op)
	for _, v := range imm {
		c.b = appendULEB(c.b, uint64(v))
	}
	return c
}

func (c *Code) LocalGet(i uint32) *Code  { return c.op(opLocalGet, i) }
func (c *Code) LocalSet(i uint32) *Code  { return c.op(opLocalSet, i) }
func (c *Code) LocalTee(i uint32) *Code  { return c.op(opLocalTee, i) }
func (c *Code) GlobalGet(i uint32) *Code { return c.op(opGlobalGet, i) }
func (c *Code) GlobalSet(i uint32) *Code { return c.op(opGlobalSet, i) }
func (c *Code) Call(fn uint32) *Code     { return c.op(opCall, fn) }
func (c *Code) Drop() *Code              { return c.op(opDrop) }
func (c *Code) Return() *Code            { return c.op(opReturn) }
func (c *Code) Unreachable() *Code       { return c.op(opUnreachable) }
func (c *Code) End() *Code               { return c.op(opEnd) }
func (c *Code) Else() *Code              { return c.op(opElse) }
func (c *Code) Br(depth uint32) *Code    { return c.op(opBr, depth) }
func (c *Code) BrIf(depth uint32) *Code  { return c.op(opBrIf, depth) }

// Block, Loop and If open a structured block of the given block type:
// BlockVoid or a value type byte.
func (c *Code) Block(bt byte) *Code { c.b = append(c.b, opBlock, bt); return c }
func (c *Code) Loop(bt byte) *Code  { c.b = append(c.b, opLoop, bt); return c }
func (c *Code) If(bt byte) *Code    { c.b = append(c.b, opIf, bt); return c }

// CallIndirect calls through table with the signature at typeIdx.
func (c *Code) CallIndirect(typeIdx, table uint32) *Code {
	return c.op(opCallIndirect, typeIdx, table)
}

func (c *Code) I32Const(v int32) *Code {
	c.b = appendSLEB(append(c.b, opI32Const), int64(v))
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.b = appendSLEB(append(c.b, opI64Const), v)
	return c
}

func (c *Code) F64Const(v float64) *Code {
	c.b = binary.LittleEndian.AppendUint64(append(c.b, opF64Const), math.Float64bits(v))
	return c
}

// Memory access takes the log2 alignment and the static offset.
func (c *Code) I32Load(align, offset uint32) *Code   { return c.op(opI32Load, align, offset) }
func (c *Code) I32Load8U(align, offset uint32) *Code { return c.op(opI32Load8U, align, offset) }
func (c *Code) I64Load(align, offset uint32) *Code   { return c.op(opI64Load, align, offset) }
func (c *Code) F64Load(align, offset uint32) *Code   { return c.op(opF64Load, align, offset) }
func (c *Code) I32Store(align, offset uint32) *Code  { return c.op(opI32Store, align, offset) }
func (c *Code) I32Store8(align, offset uint32) *Code { return c.op(opI32Store8, align, offset) }
func (c *Code) I64Store(align, offset uint32) *Code  { return c.op(opI64Store, align, offset) }
func (c *Code) F64Store(align, offset uint32) *Code  { return c.op(opF64Store, align, offset) }
func (c *Code) MemorySize() *Code                    { return c.op(opMemorySize, 0) }
func (c *Code) MemoryGrow() *Code                    { return c.op(opMemoryGrow, 0) }

func (c *Code) I32Eqz() *Code         { return c.op(opI32Eqz) }
func (c *Code) I32Eq() *Code          { return c.op(opI32Eq) }
func (c *Code) I32Ne() *Code          { return c.op(opI32Ne) }
func (c *Code) I32LtU() *Code         { return c.op(opI32LtU) }
func (c *Code) I32GtU() *Code         { return c.op(opI32GtU) }
func (c *Code) I32Add() *Code         { return c.op(opI32Add) }
func (c *Code) I32Sub() *Code         { return c.op(opI32Sub) }
func (c *Code) I32Mul() *Code         { return c.op(opI32Mul) }
func (c *Code) I32And() *Code         { return c.op(opI32And) }
func (c *Code) I64Add() *Code         { return c.op(opI64Add) }
func (c *Code) F64Add() *Code         { return c.op(opF64Add) }
func (c *Code) F64Mul() *Code         { return c.op(opF64Mul) }
func (c *Code) F64ConvertI32S() *Code { return c.op(opF64ConvertI32S) }

// RefNullFunc pushes a null funcref.
func (c *Code) RefNullFunc() *Code { c.b = append(c.b, opRefNull, funcref); return c }

// RefFunc pushes a reference to fn, which must be declared.
func (c *Code) RefFunc(fn uint32) *Code { return c.op(opRefFunc, fn) }

// TableGrow pops an initial value and a delta, pushing the old size or -1.
func (c *Code) TableGrow(table uint32) *Code {
	c.b = append(c.b, opPrefixFC)
	c.b = appendULEB(c.b, fcTableGrow)
	c.b = appendULEB(c.b, uint64(table))
	return c
}

// TableSize pushes the current size of table.
func (c *Code) TableSize(table uint32) *Code {
	c.b = append(c.b, opPrefixFC)
	c.b = appendULEB(c.b, fcTableSize)
	c.b = appendULEB(c.b, uint64(table))
	return c
}

// TableFill pops an offset, a value and a count.
func (c *Code) TableFill(table uint32) *Code {
	c.b = append(c.b, opPrefixFC)
	c.b = appendULEB(c.b, fcTableFill)
	c.b = appendULEB(c.b, uint64(table))
	return c
}
