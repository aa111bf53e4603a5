package ffi

import (
	"slices"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/memory"
)

// Signature is the flattened wasm shape of a cif.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// String renders the signature in dynCall notation: the result letter, or
// 'v', followed by one letter per parameter.
func (s Signature) String() string {
	var b strings.Builder
	if len(s.Results) == 0 {
		b.WriteByte('v')
	}
	for _, r := range s.Results {
		b.WriteByte(letter(r))
	}
	for _, p := range s.Params {
		b.WriteByte(letter(p))
	}
	return b.String()
}

// Equal reports whether both signatures have the same shape.
func (s Signature) Equal(o Signature) bool {
	return slices.Equal(s.Params, o.Params) && slices.Equal(s.Results, o.Results)
}

func letter(t api.ValueType) byte {
	switch t {
	case api.ValueTypeI32:
		return 'i'
	case api.ValueTypeI64:
		return 'j'
	case api.ValueTypeF32:
		return 'f'
	case api.ValueTypeF64:
		return 'd'
	}
	return '?'
}

// SignatureOf flattens cif. retByArg reports that the result is written
// through a leading pointer parameter instead of returned.
func SignatureOf(v *memory.Views, cif CIF) (sig Signature, retByArg bool, err error) {
	_, rtag := Unbox(v, cif.RType)
	switch {
	case rtag == Void:
	case rtag == Struct, rtag == LongDouble:
		retByArg = true
		sig.Params = append(sig.Params, api.ValueTypeI32)
	case rtag.isI32():
		sig.Results = []api.ValueType{api.ValueTypeI32}
	case rtag == Float:
		sig.Results = []api.ValueType{api.ValueTypeF32}
	case rtag == Double:
		sig.Results = []api.ValueType{api.ValueTypeF64}
	case rtag.is64():
		sig.Results = []api.ValueType{api.ValueTypeI64}
	default:
		return Signature{}, false, unsupportedTag("return", rtag)
	}

	for i := range cif.NFixedArgs {
		_, tag := Unbox(v, cif.ArgType(v, i))
		switch {
		case tag.isI32(), tag == Struct:
			sig.Params = append(sig.Params, api.ValueTypeI32)
		case tag == Float:
			sig.Params = append(sig.Params, api.ValueTypeF32)
		case tag == Double:
			sig.Params = append(sig.Params, api.ValueTypeF64)
		case tag == LongDouble:
			sig.Params = append(sig.Params, api.ValueTypeI64, api.ValueTypeI64)
		case tag.is64():
			sig.Params = append(sig.Params, api.ValueTypeI64)
		default:
			return Signature{}, false, unsupportedTag("argument", tag)
		}
	}
	if cif.Variadic() {
		sig.Params = append(sig.Params, api.ValueTypeI32)
	}
	return sig, retByArg, nil
}

func unsupportedTag(where string, tag TypeTag) error {
	if tag == Complex {
		return errors.NotImplemented(errors.PhaseFFI, "complex "+where+" types")
	}
	return errors.New(errors.PhaseFFI, errors.KindInvalidData).
		Detail("unexpected %s type %s", where, tag).Build()
}
