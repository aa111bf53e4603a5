package wasmgen

import (
	"bytes"

	"github.com/tetratelabs/wazero/api"

	"github.com/lovell/sharp-sub001/errors"
)

// Import is one entry of a module's import section.
type Import struct {
	Module string
	Name   string
	Kind   byte
	// Type is set for function imports.
	Type FuncType
	// Limits is set for table and memory imports.
	Limits Limits
	// Global is set for global imports.
	Global  api.ValueType
	Mutable bool
}

// Export is one entry of a module's export section.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Info is what Parse learns about a module.
type Info struct {
	Types   []FuncType
	Imports []Import
	Exports []Export
}

// Import returns the import of kind from module.name.
func (in *Info) Import(module, name string, kind byte) (Import, bool) {
	for _, im := range in.Imports {
		if im.Module == module && im.Name == name && im.Kind == kind {
			return im, true
		}
	}
	return Import{}, false
}

// Exported reports whether the module exports name with kind.
func (in *Info) Exported(name string, kind byte) bool {
	for _, e := range in.Exports {
		if e.Name == name && e.Kind == kind {
			return true
		}
	}
	return false
}

var magic = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Parse reads the type, import and export sections of a core module.
func Parse(bin []byte) (*Info, error) {
	if !bytes.HasPrefix(bin, magic) {
		return nil, errors.InvalidData(errors.PhaseLoad, "not a core wasm module")
	}
	info := &Info{}
	r := &reader{b: bin, pos: len(magic)}
	for r.pos < len(r.b) && r.err == nil {
		id := r.byte()
		size := int(r.uleb())
		end := r.pos + size
		if r.err != nil || end > len(r.b) {
			return nil, r.fail("section %d overruns the module", id)
		}
		switch id {
		case 0x01:
			info.Types = r.types()
		case 0x02:
			info.Imports = r.imports(info.Types)
		case 0x07:
			info.Exports = r.exports()
		}
		r.pos = end
	}
	if r.err != nil {
		return nil, r.err
	}
	return info, nil
}

type reader struct {
	b   []byte
	pos int
	err error
}

func (r *reader) fail(format string, args ...any) error {
	if r.err == nil {
		r.err = errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Detail("offset %#x: "+format, append([]any{r.pos}, args...)...).Build()
	}
	return r.err
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.b) {
		r.fail("unexpected end")
		return 0
	}
	c := r.b[r.pos]
	r.pos++
	return c
}

func (r *reader) uleb() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := readULEB(r.b[r.pos:])
	if n == 0 {
		r.fail("bad LEB128")
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) name() string {
	n := int(r.uleb())
	if r.err != nil {
		return ""
	}
	if r.pos+n > len(r.b) {
		r.fail("name overruns the module")
		return ""
	}
	s := string(r.b[r.pos : r.pos+n])
	r.pos += n
	return s
}

func (r *reader) valTypes() []api.ValueType {
	n := r.uleb()
	var out []api.ValueType
	for range n {
		t, ok := parseValType(r.byte())
		if !ok {
			r.fail("bad value type")
			return nil
		}
		out = append(out, t)
	}
	return out
}

func (r *reader) limits() Limits {
	flags := r.byte()
	l := Limits{Min: uint32(r.uleb())}
	if flags&0x01 != 0 {
		l.HasMax = true
		l.Max = uint32(r.uleb())
	}
	l.Shared = flags&0x02 != 0
	return l
}

func (r *reader) types() []FuncType {
	n := r.uleb()
	var out []FuncType
	for range n {
		if r.byte() != 0x60 {
			r.fail("expected func type")
			return nil
		}
		out = append(out, FuncType{Params: r.valTypes(), Results: r.valTypes()})
	}
	return out
}

func (r *reader) imports(types []FuncType) []Import {
	n := r.uleb()
	var out []Import
	for range n {
		im := Import{Module: r.name(), Name: r.name(), Kind: r.byte()}
		switch im.Kind {
		case KindFunc:
			idx := r.uleb()
			if idx >= uint64(len(types)) {
				r.fail("import %s.%s: type %d out of range", im.Module, im.Name, idx)
				return nil
			}
			im.Type = types[idx]
		case KindTable:
			r.byte()
			im.Limits = r.limits()
		case KindMemory:
			im.Limits = r.limits()
		case KindGlobal:
			im.Global, _ = parseValType(r.byte())
			im.Mutable = r.byte() == 1
		default:
			r.fail("import %s.%s: unknown kind %d", im.Module, im.Name, im.Kind)
			return nil
		}
		if r.err != nil {
			return nil
		}
		out = append(out, im)
	}
	return out
}

func (r *reader) exports() []Export {
	n := r.uleb()
	var out []Export
	for range n {
		out = append(out, Export{Name: r.name(), Kind: r.byte(), Index: uint32(r.uleb())})
	}
	return out
}
