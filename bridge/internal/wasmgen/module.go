package wasmgen

import (
	"slices"

	"github.com/tetratelabs/wazero/api"
)

// External kinds as they appear in import and export entries.
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
)

const funcref = 0x70

// FuncType is a function signature.
type FuncType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Equal reports whether both types have the same shape.
func (t FuncType) Equal(o FuncType) bool {
	return slices.Equal(t.Params, o.Params) && slices.Equal(t.Results, o.Results)
}

// Limits are memory limits in pages or table limits in elements.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
	// Shared marks a memory shared between threads. It needs HasMax.
	Shared bool
}

func (l Limits) append(b []byte) []byte {
	flags := byte(0)
	if l.HasMax {
		flags |= 0x01
	}
	if l.Shared {
		flags |= 0x02
	}
	b = append(b, flags)
	b = appendULEB(b, uint64(l.Min))
	if l.HasMax {
		b = appendULEB(b, uint64(l.Max))
	}
	return b
}

type imported struct {
	module, name string
	kind         byte
	typeIdx      uint32
	limits       Limits
	global       globalType
}

type globalType struct {
	typ     api.ValueType
	mutable bool
}

type function struct {
	typeIdx uint32
	locals  []api.ValueType
	body    []byte
}

type global struct {
	globalType
	init int64
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type elem struct {
	table  uint32
	offset uint32
	funcs  []uint32
}

type data struct {
	offset uint32
	bytes  []byte
}

// Module accumulates the sections of one module. Imports of a kind must be
// added before definitions of the same kind so indices stay stable.
type Module struct {
	types    []FuncType
	imports  []imported
	funcs    []function
	tables   []Limits
	memories []Limits
	globals  []global
	exports  []export
	elems    []elem
	data     []data
	declared []uint32

	nFuncImports, nTableImports, nMemImports, nGlobalImports uint32
}

// New returns an empty module.
func New() *Module { return &Module{} }

// Type returns the index of t, adding it when new.
func (m *Module) Type(t FuncType) uint32 {
	for i, have := range m.types {
		if have.Equal(t) {
			return uint32(i)
		}
	}
	m.types = append(m.types, t)
	return uint32(len(m.types) - 1)
}

// ImportFunc imports a function and returns its index.
func (m *Module) ImportFunc(module, name string, t FuncType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmgen: function import after definition")
	}
	m.imports = append(m.imports, imported{module: module, name: name, kind: KindFunc, typeIdx: m.Type(t)})
	m.nFuncImports++
	return m.nFuncImports - 1
}

// ImportTable imports a funcref table with at least min elements.
func (m *Module) ImportTable(module, name string, min uint32) uint32 {
	if len(m.tables) > 0 {
		panic("wasmgen: table import after definition")
	}
	m.imports = append(m.imports, imported{module: module, name: name, kind: KindTable, limits: Limits{Min: min}})
	m.nTableImports++
	return m.nTableImports - 1
}

// ImportMemory imports a memory with the given limits.
func (m *Module) ImportMemory(module, name string, l Limits) uint32 {
	if len(m.memories) > 0 {
		panic("wasmgen: memory import after definition")
	}
	m.imports = append(m.imports, imported{module: module, name: name, kind: KindMemory, limits: l})
	m.nMemImports++
	return m.nMemImports - 1
}

// ImportGlobal imports a global.
func (m *Module) ImportGlobal(module, name string, t api.ValueType, mutable bool) uint32 {
	if len(m.globals) > 0 {
		panic("wasmgen: global import after definition")
	}
	m.imports = append(m.imports, imported{module: module, name: name, kind: KindGlobal, global: globalType{t, mutable}})
	m.nGlobalImports++
	return m.nGlobalImports - 1
}

// Func defines a function. body holds instructions without the locals
// header or the final end.
func (m *Module) Func(t FuncType, locals []api.ValueType, body []byte) uint32 {
	m.funcs = append(m.funcs, function{typeIdx: m.Type(t), locals: locals, body: body})
	return m.nFuncImports + uint32(len(m.funcs)-1)
}

// Table defines a funcref table.
func (m *Module) Table(l Limits) uint32 {
	m.tables = append(m.tables, l)
	return m.nTableImports + uint32(len(m.tables)-1)
}

// Memory defines a memory.
func (m *Module) Memory(l Limits) uint32 {
	m.memories = append(m.memories, l)
	return m.nMemImports + uint32(len(m.memories)-1)
}

// Global defines an integer global with a constant initializer.
func (m *Module) Global(t api.ValueType, mutable bool, init int64) uint32 {
	m.globals = append(m.globals, global{globalType: globalType{t, mutable}, init: init})
	return m.nGlobalImports + uint32(len(m.globals)-1)
}

// Export exports the item of kind at idx under name.
func (m *Module) Export(name string, kind byte, idx uint32) {
	m.exports = append(m.exports, export{name: name, kind: kind, idx: idx})
}

// Elem adds an active segment writing funcs into table from offset on.
func (m *Module) Elem(table, offset uint32, funcs ...uint32) {
	m.elems = append(m.elems, elem{table: table, offset: offset, funcs: funcs})
}

// Declare makes funcs valid operands of ref.func.
func (m *Module) Declare(funcs ...uint32) {
	m.declared = append(m.declared, funcs...)
}

// Data adds an active segment initializing memory 0 at offset.
func (m *Module) Data(offset uint32, b []byte) {
	m.data = append(m.data, data{offset: offset, bytes: b})
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	section := func(id byte, n int, enc func(b []byte) []byte) {
		if n == 0 {
			return
		}
		body := appendULEB(nil, uint64(n))
		body = enc(body)
		out = append(out, id)
		out = appendULEB(out, uint64(len(body)))
		out = append(out, body...)
	}

	section(0x01, len(m.types), func(b []byte) []byte {
		for _, t := range m.types {
			b = append(b, 0x60)
			b = appendULEB(b, uint64(len(t.Params)))
			for _, p := range t.Params {
				b = append(b, valType(p))
			}
			b = appendULEB(b, uint64(len(t.Results)))
			for _, r := range t.Results {
				b = append(b, valType(r))
			}
		}
		return b
	})
	section(0x02, len(m.imports), func(b []byte) []byte {
		for _, im := range m.imports {
			b = appendName(b, im.module)
			b = appendName(b, im.name)
			b = append(b, im.kind)
			switch im.kind {
			case KindFunc:
				b = appendULEB(b, uint64(im.typeIdx))
			case KindTable:
				b = append(b, funcref)
				b = im.limits.append(b)
			case KindMemory:
				b = im.limits.append(b)
			case KindGlobal:
				b = append(b, valType(im.global.typ), boolByte(im.global.mutable))
			}
		}
		return b
	})
	section(0x03, len(m.funcs), func(b []byte) []byte {
		for _, f := range m.funcs {
			b = appendULEB(b, uint64(f.typeIdx))
		}
		return b
	})
	section(0x04, len(m.tables), func(b []byte) []byte {
		for _, l := range m.tables {
			b = append(b, funcref)
			b = l.append(b)
		}
		return b
	})
	section(0x05, len(m.memories), func(b []byte) []byte {
		for _, l := range m.memories {
			b = l.append(b)
		}
		return b
	})
	section(0x06, len(m.globals), func(b []byte) []byte {
		for _, g := range m.globals {
			b = append(b, valType(g.typ), boolByte(g.mutable))
			if g.typ == api.ValueTypeI64 {
				b = append(b, opI64Const)
			} else {
				b = append(b, opI32Const)
			}
			b = appendSLEB(b, g.init)
			b = append(b, opEnd)
		}
		return b
	})
	section(0x07, len(m.exports), func(b []byte) []byte {
		for _, e := range m.exports {
			b = appendName(b, e.name)
			b = append(b, e.kind)
			b = appendULEB(b, uint64(e.idx))
		}
		return b
	})

	nElems := len(m.elems)
	if len(m.declared) > 0 {
		nElems++
	}
	section(0x09, nElems, func(b []byte) []byte {
		for _, e := range m.elems {
			if e.table == 0 {
				b = append(b, 0x00)
			} else {
				// active with explicit table index, elemkind funcref
				b = append(b, 0x02)
				b = appendULEB(b, uint64(e.table))
			}
			b = append(b, opI32Const)
			b = appendSLEB(b, int64(int32(e.offset)))
			b = append(b, opEnd)
			if e.table != 0 {
				b = append(b, 0x00)
			}
			b = appendULEB(b, uint64(len(e.funcs)))
			for _, f := range e.funcs {
				b = appendULEB(b, uint64(f))
			}
		}
		if len(m.declared) > 0 {
			// declarative, elemkind funcref
			b = append(b, 0x03, 0x00)
			b = appendULEB(b, uint64(len(m.declared)))
			for _, f := range m.declared {
				b = appendULEB(b, uint64(f))
			}
		}
		return b
	})
	section(0x0a, len(m.funcs), func(b []byte) []byte {
		for _, f := range m.funcs {
			body := appendLocals(nil, f.locals)
			body = append(body, f.body...)
			body = append(body, opEnd)
			b = appendULEB(b, uint64(len(body)))
			b = append(b, body...)
		}
		return b
	})
	section(0x0b, len(m.data), func(b []byte) []byte {
		for _, d := range m.data {
			b = append(b, 0x00, opI32Const)
			b = appendSLEB(b, int64(int32(d.offset)))
			b = append(b, opEnd)
			b = appendULEB(b, uint64(len(d.bytes)))
			b = append(b, d.bytes...)
		}
		return b
	})
	return out
}

// appendLocals run-length encodes locals.
func appendLocals(b []byte, locals []api.ValueType) []byte {
	var groups [][2]uint64
	for _, l := range locals {
		if n := len(groups); n > 0 && groups[n-1][1] == uint64(l) {
			groups[n-1][0]++
			continue
		}
		groups = append(groups, [2]uint64{1, uint64(l)})
	}
	b = appendULEB(b, uint64(len(groups)))
	for _, g := range groups {
		b = appendULEB(b, g[0])
		b = append(b, valType(api.ValueType(g[1])))
	}
	return b
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
