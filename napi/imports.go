package napi

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/lovell/sharp-sub001/memory"
)

// Import is one host function an Env contributes to the guest's import
// module.
type Import struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Fn      api.GoFunction
}

type entryFlags uint8

const (
	// refused with napi_pending_exception while an exception is pending
	flagPreamble entryFlags = 1 << iota
	// leaves the last error status alone
	flagKeepLast
)

const (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f64 = api.ValueTypeF64
)

type entryFunc func(ctx context.Context, a args) Status

// args decodes the parameters that follow napi_env.
type args []uint64

func (a args) u(i int) uint32    { return api.DecodeU32(a[i]) }
func (a args) i(i int) int32     { return api.DecodeI32(a[i]) }
func (a args) l(i int) int64     { return int64(a[i]) }
func (a args) d(i int) float64   { return api.DecodeF64(a[i]) }
func (a args) ul(i int) uint64   { return a[i] }
func i32s(n int) []api.ValueType { return repeat(i32, n) }

func repeat(t api.ValueType, n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = t
	}
	return out
}

// entry builds an import taking napi_env followed by params and returning
// napi_status.
func (e *Env) entry(name string, flags entryFlags, params []api.ValueType, fn entryFunc) Import {
	return Import{
		Name:    name,
		Params:  append([]api.ValueType{i32}, params...),
		Results: []api.ValueType{i32},
		Fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
			stack[0] = api.EncodeI32(int32(e.dispatch(ctx, name, flags, stack, fn)))
		}),
	}
}

// dispatch checks env and the pending exception, runs fn and records its
// status. Faults on guest pointers become napi_generic_failure.
func (e *Env) dispatch(ctx context.Context, name string, flags entryFlags, stack []uint64, fn entryFunc) (st Status) {
	defer func() {
		if flags&flagKeepLast == 0 {
			e.lastError = st
		}
	}()
	if api.DecodeU32(stack[0]) != e.id || e.closed {
		return StatusInvalidArg
	}
	if flags&flagPreamble != 0 && e.pending != nil {
		return StatusPendingException
	}
	var err error
	func() {
		defer memory.Guard(&err)
		st = fn(ctx, args(stack[1:]))
	}()
	if err != nil {
		Logger().Debug("napi call faulted", zap.String("name", name), zap.Error(err))
		return StatusGenericFailure
	}
	return st
}

// Imports returns the napi_* and node_api_* host functions bound to e.
func (e *Env) Imports() []Import {
	const (
		pre  = flagPreamble
		none = entryFlags(0)
	)
	str := func(enc encoding) entryFunc {
		return func(_ context.Context, a args) Status { return e.createString(enc, a.u(0), a.u(1), a.u(2)) }
	}
	getStr := func(enc encoding) entryFunc {
		return func(_ context.Context, a args) Status {
			return e.getValueString(enc, a.u(0), a.u(1), a.u(2), a.u(3))
		}
	}
	newErr := func(name string) entryFunc {
		return func(_ context.Context, a args) Status { return e.createError(name, a.u(0), a.u(1), a.u(2)) }
	}
	throwErr := func(name string) entryFunc {
		return func(_ context.Context, a args) Status { return e.throwError(name, a.u(0), a.u(1)) }
	}

	imports := []Import{
		// scopes and references
		e.entry("napi_open_handle_scope", none, i32s(1), func(_ context.Context, a args) Status {
			return e.openHandleScope(a.u(0))
		}),
		e.entry("napi_close_handle_scope", none, i32s(1), func(_ context.Context, a args) Status {
			return e.closeHandleScope(a.u(0))
		}),
		e.entry("napi_open_escapable_handle_scope", none, i32s(1), func(_ context.Context, a args) Status {
			return e.openEscapableHandleScope(a.u(0))
		}),
		e.entry("napi_close_escapable_handle_scope", none, i32s(1), func(_ context.Context, a args) Status {
			return e.closeHandleScope(a.u(0))
		}),
		e.entry("napi_escape_handle", none, i32s(3), func(_ context.Context, a args) Status {
			return e.escapeHandle(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_create_reference", none, i32s(3), func(_ context.Context, a args) Status {
			return e.createReference(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_delete_reference", none, i32s(1), func(ctx context.Context, a args) Status {
			return e.deleteReference(ctx, a.u(0))
		}),
		e.entry("napi_reference_ref", none, i32s(2), func(_ context.Context, a args) Status {
			return e.referenceRef(a.u(0), a.u(1))
		}),
		e.entry("napi_reference_unref", none, i32s(2), func(_ context.Context, a args) Status {
			return e.referenceUnref(a.u(0), a.u(1))
		}),
		e.entry("napi_get_reference_value", none, i32s(2), func(_ context.Context, a args) Status {
			return e.getReferenceValue(a.u(0), a.u(1))
		}),

		// singletons and primitives
		e.entry("napi_get_undefined", none, i32s(1), func(_ context.Context, a args) Status { return e.getUndefined(a.u(0)) }),
		e.entry("napi_get_null", none, i32s(1), func(_ context.Context, a args) Status { return e.getNull(a.u(0)) }),
		e.entry("napi_get_global", none, i32s(1), func(_ context.Context, a args) Status { return e.getGlobal(a.u(0)) }),
		e.entry("napi_get_boolean", none, i32s(2), func(_ context.Context, a args) Status {
			return e.getBoolean(a.u(0), a.u(1))
		}),
		e.entry("napi_create_int32", none, i32s(2), func(_ context.Context, a args) Status {
			return e.createInt32(a.i(0), a.u(1))
		}),
		e.entry("napi_create_uint32", none, i32s(2), func(_ context.Context, a args) Status {
			return e.createUint32(a.u(0), a.u(1))
		}),
		e.entry("napi_create_int64", none, []api.ValueType{i64, i32}, func(_ context.Context, a args) Status {
			return e.createInt64(a.l(0), a.u(1))
		}),
		e.entry("napi_create_double", none, []api.ValueType{f64, i32}, func(_ context.Context, a args) Status {
			return e.createDouble(a.d(0), a.u(1))
		}),
		e.entry("napi_create_bigint_int64", none, []api.ValueType{i64, i32}, func(_ context.Context, a args) Status {
			return e.createBigintInt64(a.l(0), a.u(1))
		}),
		e.entry("napi_create_bigint_uint64", none, []api.ValueType{i64, i32}, func(_ context.Context, a args) Status {
			return e.createBigintUint64(a.ul(0), a.u(1))
		}),
		e.entry("napi_create_bigint_words", pre, i32s(4), func(_ context.Context, a args) Status {
			return e.createBigintWords(a.i(0), a.u(1), a.u(2), a.u(3))
		}),
		e.entry("napi_create_string_latin1", none, i32s(3), str(encLatin1)),
		e.entry("napi_create_string_utf8", none, i32s(3), str(encUTF8)),
		e.entry("napi_create_string_utf16", none, i32s(3), str(encUTF16)),
		e.entry("node_api_create_property_key_latin1", none, i32s(3), str(encLatin1)),
		e.entry("node_api_create_property_key_utf8", none, i32s(3), str(encUTF8)),
		e.entry("node_api_create_property_key_utf16", none, i32s(3), str(encUTF16)),
		e.entry("napi_create_symbol", none, i32s(2), func(_ context.Context, a args) Status {
			return e.createSymbol(a.u(0), a.u(1))
		}),
		e.entry("node_api_symbol_for", none, i32s(3), func(_ context.Context, a args) Status {
			return e.symbolFor(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_create_date", pre, []api.ValueType{f64, i32}, func(_ context.Context, a args) Status {
			return e.createDate(a.d(0), a.u(1))
		}),
		e.entry("napi_create_external", none, i32s(4), func(_ context.Context, a args) Status {
			return e.createExternal(a.u(0), a.u(1), a.u(2), a.u(3))
		}),

		// reading values
		e.entry("napi_typeof", none, i32s(2), func(_ context.Context, a args) Status { return e.typeOf(a.u(0), a.u(1)) }),
		e.entry("napi_get_value_double", none, i32s(2), func(_ context.Context, a args) Status {
			return e.getValueDouble(a.u(0), a.u(1))
		}),
		e.entry("napi_get_value_int32", none, i32s(2), func(_ context.Context, a args) Status {
			return e.getValueInt32(a.u(0), a.u(1))
		}),
		e.entry("napi_get_value_uint32", none, i32s(2), func(_ context.Context, a args) Status {
			return e.getValueUint32(a.u(0), a.u(1))
		}),
		e.entry("napi_get_value_int64", none, i32s(2), func(_ context.Context, a args) Status {
			return e.getValueInt64(a.u(0), a.u(1))
		}),
		e.entry("napi_get_value_bool", none, i32s(2), func(_ context.Context, a args) Status {
			return e.getValueBool(a.u(0), a.u(1))
		}),
		e.entry("napi_get_value_bigint_int64", none, i32s(3), func(_ context.Context, a args) Status {
			return e.getValueBigintInt64(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_get_value_bigint_uint64", none, i32s(3), func(_ context.Context, a args) Status {
			return e.getValueBigintUint64(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_get_value_bigint_words", none, i32s(4), func(_ context.Context, a args) Status {
			return e.getValueBigintWords(a.u(0), a.u(1), a.u(2), a.u(3))
		}),
		e.entry("napi_get_value_string_latin1", none, i32s(4), getStr(encLatin1)),
		e.entry("napi_get_value_string_utf8", none, i32s(4), getStr(encUTF8)),
		e.entry("napi_get_value_string_utf16", none, i32s(4), getStr(encUTF16)),
		e.entry("napi_get_value_external", none, i32s(2), func(_ context.Context, a args) Status {
			return e.getValueExternal(a.u(0), a.u(1))
		}),
		e.entry("napi_get_date_value", pre, i32s(2), func(_ context.Context, a args) Status {
			return e.getDateValue(a.u(0), a.u(1))
		}),
		e.entry("napi_coerce_to_bool", pre, i32s(2), func(_ context.Context, a args) Status {
			return e.coerceToBool(a.u(0), a.u(1))
		}),
		e.entry("napi_coerce_to_number", pre, i32s(2), func(_ context.Context, a args) Status {
			return e.coerceToNumber(a.u(0), a.u(1))
		}),
		e.entry("napi_coerce_to_object", pre, i32s(2), func(_ context.Context, a args) Status {
			return e.coerceToObject(a.u(0), a.u(1))
		}),
		e.entry("napi_coerce_to_string", pre, i32s(2), func(_ context.Context, a args) Status {
			return e.coerceToString(a.u(0), a.u(1))
		}),

		// objects
		e.entry("napi_create_object", none, i32s(1), func(_ context.Context, a args) Status { return e.createObject(a.u(0)) }),
		e.entry("napi_create_array", none, i32s(1), func(_ context.Context, a args) Status { return e.createArray(a.u(0)) }),
		e.entry("napi_create_array_with_length", none, i32s(2), func(_ context.Context, a args) Status {
			return e.createArrayWithLength(a.u(0), a.u(1))
		}),
		e.entry("napi_set_property", pre, i32s(3), func(ctx context.Context, a args) Status {
			return e.setProperty(ctx, a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_get_property", pre, i32s(3), func(ctx context.Context, a args) Status {
			return e.getProperty(ctx, a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_has_property", pre, i32s(3), func(_ context.Context, a args) Status {
			return e.hasProperty(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_has_own_property", pre, i32s(3), func(_ context.Context, a args) Status {
			return e.hasOwnProperty(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_delete_property", pre, i32s(3), func(_ context.Context, a args) Status {
			return e.deleteProperty(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_set_named_property", pre, i32s(3), func(ctx context.Context, a args) Status {
			return e.setNamedProperty(ctx, a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_get_named_property", pre, i32s(3), func(ctx context.Context, a args) Status {
			return e.getNamedProperty(ctx, a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_has_named_property", pre, i32s(3), func(_ context.Context, a args) Status {
			return e.hasNamedProperty(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_set_element", pre, i32s(3), func(ctx context.Context, a args) Status {
			return e.setElement(ctx, a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_get_element", pre, i32s(3), func(ctx context.Context, a args) Status {
			return e.getElement(ctx, a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_has_element", pre, i32s(3), func(_ context.Context, a args) Status {
			return e.hasElement(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_delete_element", pre, i32s(3), func(_ context.Context, a args) Status {
			return e.deleteElement(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_get_property_names", pre, i32s(2), func(_ context.Context, a args) Status {
			return e.getPropertyNames(a.u(0), a.u(1))
		}),
		e.entry("napi_get_all_property_names", pre, i32s(5), func(_ context.Context, a args) Status {
			return e.getAllPropertyNames(a.u(0), a.i(1), a.i(2), a.i(3), a.u(4))
		}),
		e.entry("napi_get_array_length", pre, i32s(2), func(_ context.Context, a args) Status {
			return e.getArrayLength(a.u(0), a.u(1))
		}),
		e.entry("napi_is_array", none, i32s(2), func(_ context.Context, a args) Status {
			return e.isArray(a.u(0), a.u(1))
		}),
		e.entry("napi_get_prototype", pre, i32s(2), func(_ context.Context, a args) Status {
			return e.getPrototype(a.u(0), a.u(1))
		}),
		e.entry("napi_strict_equals", pre, i32s(3), func(_ context.Context, a args) Status {
			return e.strictEquals(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_instanceof", pre, i32s(3), func(_ context.Context, a args) Status {
			return e.instanceOf(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_object_freeze", pre, i32s(1), func(_ context.Context, a args) Status {
			return e.objectFreeze(a.u(0))
		}),
		e.entry("napi_object_seal", pre, i32s(1), func(_ context.Context, a args) Status {
			return e.objectSeal(a.u(0))
		}),
		e.entry("napi_define_properties", pre, i32s(3), func(_ context.Context, a args) Status {
			return e.defineProperties(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_define_class", none, i32s(7), func(_ context.Context, a args) Status {
			return e.defineClass(a.u(0), a.u(1), a.u(2), a.u(3), a.u(4), a.u(5), a.u(6))
		}),
		e.entry("napi_wrap", pre, i32s(5), func(_ context.Context, a args) Status {
			return e.wrap(a.u(0), a.u(1), a.u(2), a.u(3), a.u(4))
		}),
		e.entry("napi_unwrap", pre, i32s(2), func(_ context.Context, a args) Status {
			return e.unwrap(a.u(0), a.u(1))
		}),
		e.entry("napi_remove_wrap", pre, i32s(2), func(_ context.Context, a args) Status {
			return e.removeWrap(a.u(0), a.u(1))
		}),
		e.entry("napi_add_finalizer", none, i32s(5), func(_ context.Context, a args) Status {
			return e.addFinalizer(a.u(0), a.u(1), a.u(2), a.u(3), a.u(4))
		}),
		e.entry("napi_type_tag_object", pre, i32s(2), func(_ context.Context, a args) Status {
			return e.typeTagObject(a.u(0), a.u(1))
		}),
		e.entry("napi_check_object_type_tag", pre, i32s(3), func(_ context.Context, a args) Status {
			return e.checkObjectTypeTag(a.u(0), a.u(1), a.u(2))
		}),

		// functions
		e.entry("napi_create_function", none, i32s(5), func(_ context.Context, a args) Status {
			return e.createFunction(a.u(0), a.u(1), a.u(2), a.u(3), a.u(4))
		}),
		e.entry("napi_call_function", pre, i32s(5), func(ctx context.Context, a args) Status {
			return e.callFunction(ctx, a.u(0), a.u(1), a.u(2), a.u(3), a.u(4))
		}),
		e.entry("napi_new_instance", pre, i32s(4), func(ctx context.Context, a args) Status {
			return e.newInstance(ctx, a.u(0), a.u(1), a.u(2), a.u(3))
		}),
		e.entry("napi_get_cb_info", none, i32s(5), func(_ context.Context, a args) Status {
			return e.getCbInfo(a.u(0), a.u(1), a.u(2), a.u(3), a.u(4))
		}),
		e.entry("napi_get_new_target", none, i32s(2), func(_ context.Context, a args) Status {
			return e.getNewTarget(a.u(0), a.u(1))
		}),
		e.entry("napi_make_callback", pre, i32s(6), func(ctx context.Context, a args) Status {
			return e.makeCallback(ctx, a.u(0), a.u(1), a.u(2), a.u(3), a.u(4), a.u(5))
		}),
		e.entry("napi_async_init", none, i32s(3), func(_ context.Context, a args) Status {
			return e.asyncInit(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_async_destroy", none, i32s(1), func(_ context.Context, a args) Status {
			return e.asyncDestroy(a.u(0))
		}),
		e.entry("napi_open_callback_scope", none, i32s(3), func(_ context.Context, a args) Status {
			return e.openCallbackScope(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_close_callback_scope", none, i32s(1), func(_ context.Context, a args) Status {
			return e.closeCallbackScope(a.u(0))
		}),

		// errors
		e.entry("napi_create_error", none, i32s(3), newErr("Error")),
		e.entry("napi_create_type_error", none, i32s(3), newErr("TypeError")),
		e.entry("napi_create_range_error", none, i32s(3), newErr("RangeError")),
		e.entry("node_api_create_syntax_error", none, i32s(3), newErr("SyntaxError")),
		e.entry("napi_throw", pre, i32s(1), func(_ context.Context, a args) Status { return e.throwValue(a.u(0)) }),
		e.entry("napi_throw_error", pre, i32s(2), throwErr("Error")),
		e.entry("napi_throw_type_error", pre, i32s(2), throwErr("TypeError")),
		e.entry("napi_throw_range_error", pre, i32s(2), throwErr("RangeError")),
		e.entry("node_api_throw_syntax_error", pre, i32s(2), throwErr("SyntaxError")),
		e.entry("napi_is_error", none, i32s(2), func(_ context.Context, a args) Status { return e.isError(a.u(0), a.u(1)) }),
		e.entry("napi_is_exception_pending", none, i32s(1), func(_ context.Context, a args) Status {
			return e.isExceptionPending(a.u(0))
		}),
		e.entry("napi_get_and_clear_last_exception", none, i32s(1), func(_ context.Context, a args) Status {
			return e.getAndClearLastException(a.u(0))
		}),
		e.entry("napi_get_last_error_info", flagKeepLast, i32s(1), func(_ context.Context, a args) Status {
			return e.getLastErrorInfo(a.u(0))
		}),
		e.entry("napi_fatal_exception", none, i32s(1), func(_ context.Context, a args) Status {
			return e.fatalException(a.u(0))
		}),

		// buffers
		e.entry("napi_create_arraybuffer", pre, i32s(3), func(_ context.Context, a args) Status {
			return e.createArrayBuffer(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_create_external_arraybuffer", pre, i32s(5), func(_ context.Context, a args) Status {
			return e.createExternalArrayBuffer(a.u(0), a.u(1), a.u(2), a.u(3), a.u(4))
		}),
		e.entry("napi_create_buffer", pre, i32s(3), func(_ context.Context, a args) Status {
			return e.createBuffer(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_create_buffer_copy", pre, i32s(4), func(_ context.Context, a args) Status {
			return e.createBufferCopy(a.u(0), a.u(1), a.u(2), a.u(3))
		}),
		e.entry("napi_create_external_buffer", pre, i32s(5), func(_ context.Context, a args) Status {
			return e.createExternalBuffer(a.u(0), a.u(1), a.u(2), a.u(3), a.u(4))
		}),
		e.entry("napi_create_typedarray", pre, i32s(5), func(_ context.Context, a args) Status {
			return e.createTypedArray(a.i(0), a.u(1), a.u(2), a.u(3), a.u(4))
		}),
		e.entry("napi_create_dataview", pre, i32s(4), func(_ context.Context, a args) Status {
			return e.createDataView(a.u(0), a.u(1), a.u(2), a.u(3))
		}),
		e.entry("napi_is_arraybuffer", none, i32s(2), func(_ context.Context, a args) Status {
			return e.isArrayBuffer(a.u(0), a.u(1))
		}),
		e.entry("napi_is_typedarray", none, i32s(2), func(_ context.Context, a args) Status {
			return e.isTypedArray(a.u(0), a.u(1))
		}),
		e.entry("napi_is_dataview", none, i32s(2), func(_ context.Context, a args) Status {
			return e.isDataView(a.u(0), a.u(1))
		}),
		e.entry("napi_is_buffer", none, i32s(2), func(_ context.Context, a args) Status {
			return e.isBuffer(a.u(0), a.u(1))
		}),
		e.entry("napi_is_date", none, i32s(2), func(_ context.Context, a args) Status {
			return e.isDate(a.u(0), a.u(1))
		}),
		e.entry("napi_is_promise", none, i32s(2), func(_ context.Context, a args) Status {
			return e.isPromise(a.u(0), a.u(1))
		}),
		e.entry("napi_is_detached_arraybuffer", none, i32s(2), func(_ context.Context, a args) Status {
			return e.isDetachedArrayBuffer(a.u(0), a.u(1))
		}),
		e.entry("napi_detach_arraybuffer", none, i32s(1), func(_ context.Context, a args) Status {
			return e.detachArrayBuffer(a.u(0))
		}),
		e.entry("napi_get_arraybuffer_info", none, i32s(3), func(_ context.Context, a args) Status {
			return e.getArrayBufferInfo(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_get_typedarray_info", none, i32s(6), func(_ context.Context, a args) Status {
			return e.getTypedArrayInfo(a.u(0), a.u(1), a.u(2), a.u(3), a.u(4), a.u(5))
		}),
		e.entry("napi_get_dataview_info", none, i32s(5), func(_ context.Context, a args) Status {
			return e.getDataViewInfo(a.u(0), a.u(1), a.u(2), a.u(3), a.u(4))
		}),
		e.entry("napi_get_buffer_info", none, i32s(3), func(_ context.Context, a args) Status {
			return e.getBufferInfo(a.u(0), a.u(1), a.u(2))
		}),

		// promises and async work
		e.entry("napi_create_promise", none, i32s(2), func(_ context.Context, a args) Status {
			return e.createPromise(a.u(0), a.u(1))
		}),
		e.entry("napi_resolve_deferred", none, i32s(2), func(_ context.Context, a args) Status {
			return e.settleDeferred(a.u(0), a.u(1), false)
		}),
		e.entry("napi_reject_deferred", none, i32s(2), func(_ context.Context, a args) Status {
			return e.settleDeferred(a.u(0), a.u(1), true)
		}),
		e.entry("napi_create_async_work", none, i32s(6), func(_ context.Context, a args) Status {
			return e.createAsyncWork(a.u(0), a.u(1), a.u(2), a.u(3), a.u(4), a.u(5))
		}),
		e.entry("napi_delete_async_work", none, i32s(1), func(_ context.Context, a args) Status {
			return e.DeleteAsyncWork(a.u(0))
		}),
		e.entry("napi_queue_async_work", none, i32s(1), func(_ context.Context, a args) Status {
			return e.QueueAsyncWork(a.u(0))
		}),
		e.entry("napi_cancel_async_work", none, i32s(1), func(_ context.Context, a args) Status {
			return e.CancelAsyncWork(a.u(0))
		}),

		// environment
		e.entry("napi_get_version", none, i32s(1), func(_ context.Context, a args) Status { return e.getVersion(a.u(0)) }),
		e.entry("napi_get_node_version", none, i32s(1), func(_ context.Context, a args) Status {
			return e.getNodeVersion(a.u(0))
		}),
		e.entry("node_api_get_module_file_name", none, i32s(1), func(_ context.Context, a args) Status {
			return e.getModuleFileName(a.u(0))
		}),
		e.entry("napi_set_instance_data", none, i32s(3), func(_ context.Context, a args) Status {
			return e.setInstanceData(a.u(0), a.u(1), a.u(2))
		}),
		e.entry("napi_get_instance_data", none, i32s(1), func(_ context.Context, a args) Status {
			return e.getInstanceData(a.u(0))
		}),
		e.entry("napi_adjust_external_memory", none, []api.ValueType{i64, i32}, func(_ context.Context, a args) Status {
			return e.adjustExternalMemory(a.l(0), a.u(1))
		}),
		e.entry("napi_run_script", pre, i32s(2), func(_ context.Context, a args) Status {
			return e.runScript(a.u(0), a.u(1))
		}),
	}

	// napi_fatal_error takes no env and does not return.
	imports = append(imports, Import{
		Name:   "napi_fatal_error",
		Params: i32s(4),
		Fn: api.GoFunc(func(_ context.Context, stack []uint64) {
			e.fatalError(api.DecodeU32(stack[0]), api.DecodeU32(stack[1]),
				api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))
		}),
	})
	return imports
}
