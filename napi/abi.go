package napi

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lovell/sharp-sub001/memory"
)

// The entry points below take guest addresses and handles and report
// through out pointers. They are reached through Imports.

// statusOf turns an invoke error into a status. Anything else is a trap in
// code called from here and unwinds the host call.
func statusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if st, ok := err.(Status); ok {
		return st
	}
	panic(err)
}

func (e *Env) get(h uint32) (Value, Status) {
	v, ok := e.store.Get(h)
	if !ok {
		return Value{}, StatusInvalidArg
	}
	return v, StatusOK
}

// object resolves a handle that must be an object or function.
func (e *Env) object(h uint32) (*Object, Status) {
	v, st := e.get(h)
	if st != StatusOK {
		return nil, st
	}
	if v.kind != KindObject && v.kind != KindFunction {
		return nil, StatusObjectExpected
	}
	return v.obj, StatusOK
}

// coerceObject resolves a handle for property access, boxing primitives.
func (e *Env) coerceObject(h uint32) (*Object, Status) {
	v, st := e.get(h)
	if st != StatusOK {
		return nil, st
	}
	return e.toObject(v)
}

// key converts a handle to a property key with ToPropertyKey.
func (e *Env) key(h uint32) (Key, Status) {
	v, st := e.get(h)
	if st != StatusOK {
		return Key{}, st
	}
	switch v.kind {
	case KindString:
		return StringKey(v.str), StatusOK
	case KindSymbol:
		return SymbolKey(v.sym), StatusOK
	}
	s, ok := ToString(v)
	if !ok {
		return Key{}, StatusNameExpected
	}
	return StringKey(s), StatusOK
}

func (e *Env) setValue(result uint32, v Value) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	e.views().SetU32(result, e.store.Push(v))
	return StatusOK
}

func (e *Env) setU32(ptr, x uint32) Status {
	if ptr == 0 {
		return StatusInvalidArg
	}
	e.views().SetU32(ptr, x)
	return StatusOK
}

func (e *Env) setBool(ptr uint32, b bool) Status {
	if ptr == 0 {
		return StatusInvalidArg
	}
	var x uint8
	if b {
		x = 1
	}
	e.views().SetU8(ptr, x)
	return StatusOK
}

// cstring reads a guest string of length n, or NUL-terminated when n is
// NAPI_AUTO_LENGTH.
func cstring(v *memory.Views, ptr, n uint32) string {
	if n == autoLength {
		return v.CString(ptr)
	}
	return string(v.Read(ptr, n))
}

// truncateUTF8 cuts s to at most n bytes without splitting a character.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (e *Env) openHandleScope(result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	return e.setU32(result, e.store.OpenScope(false).id)
}

func (e *Env) openEscapableHandleScope(result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	return e.setU32(result, e.store.OpenScope(true).id)
}

func (e *Env) closeHandleScope(scope uint32) Status {
	if scope == 0 {
		return StatusInvalidArg
	}
	return e.store.CloseScope(scope)
}

func (e *Env) escapeHandle(scope, escapee, result uint32) Status {
	if scope == 0 || escapee == 0 || result == 0 {
		return StatusInvalidArg
	}
	h, st := e.store.Escape(scope, escapee)
	if st != StatusOK {
		return st
	}
	return e.setU32(result, h)
}

func (e *Env) createReference(value, initial, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusInvalidArg
	}
	r, st := e.CreateReference(v, initial, OwnershipUserland, nil)
	if st != StatusOK {
		return st
	}
	return e.setU32(result, r.id)
}

func (e *Env) deleteReference(ctx context.Context, ref uint32) Status {
	st, err := e.DeleteReference(ctx, ref)
	if err != nil {
		panic(err)
	}
	return st
}

func (e *Env) referenceRef(ref, result uint32) Status {
	n, st := e.Ref(ref)
	if st != StatusOK || result == 0 {
		return st
	}
	return e.setU32(result, n)
}

func (e *Env) referenceUnref(ref, result uint32) Status {
	n, st := e.Unref(ref)
	if st != StatusOK || result == 0 {
		return st
	}
	return e.setU32(result, n)
}

// getReferenceValue writes NULL once the value was collected.
func (e *Env) getReferenceValue(ref, result uint32) Status {
	r, ok := e.Reference(ref)
	if !ok || result == 0 {
		return StatusInvalidArg
	}
	v, ok := r.Value()
	if !ok {
		return e.setU32(result, HandleEmpty)
	}
	return e.setValue(result, v)
}

func (e *Env) setInstanceData(data, finalizeCB, hint uint32) Status {
	in := &instanceData{data: data}
	if finalizeCB != 0 {
		in.fin = &Finalizer{Callback: finalizeCB, Data: data, Hint: hint}
	}
	e.instance = in
	return StatusOK
}

func (e *Env) getInstanceData(result uint32) Status {
	var data uint32
	if e.instance != nil {
		data = e.instance.data
	}
	return e.setU32(result, data)
}

func (e *Env) getVersion(result uint32) Status { return e.setU32(result, Version) }

// staticString copies s into linear memory once per call site.
func (e *Env) staticString(s string) (uint32, error) {
	ptr, err := e.alloc.Alloc(uint32(len(s))+1, 1)
	if err != nil {
		return 0, err
	}
	e.views().WriteCString(ptr, s, 0)
	return ptr, nil
}

// getNodeVersion hands out a napi_node_version that lives as long as the
// env.
func (e *Env) getNodeVersion(result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	if e.version == 0 {
		if e.alloc == nil {
			return StatusGenericFailure
		}
		release, err := e.staticString(NodeVersion.Release)
		if err != nil {
			return StatusGenericFailure
		}
		ptr, err := e.alloc.Alloc(16, 4)
		if err != nil {
			return StatusGenericFailure
		}
		v := e.views()
		v.SetU32(ptr, NodeVersion.Major)
		v.SetU32(ptr+4, NodeVersion.Minor)
		v.SetU32(ptr+8, NodeVersion.Patch)
		v.SetU32(ptr+12, release)
		e.version = ptr
	}
	return e.setU32(result, e.version)
}

func (e *Env) getModuleFileName(result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	if e.alloc == nil {
		return StatusGenericFailure
	}
	ptr, err := e.staticString(e.filename)
	if err != nil {
		return StatusGenericFailure
	}
	return e.setU32(result, ptr)
}

// getLastErrorInfo fills a napi_extended_error_info for the previous call:
// error_message @0, engine_reserved @4, engine_error_code @8, error_code @12.
func (e *Env) getLastErrorInfo(result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	if e.alloc == nil {
		return StatusGenericFailure
	}
	if e.errorInfo == 0 {
		ptr, err := e.alloc.Alloc(16, 4)
		if err != nil {
			return StatusGenericFailure
		}
		e.errorInfo = ptr
	}
	var msg uint32
	if st := e.lastError; st != StatusOK && int(st) < len(statusMessages) {
		msg = e.messages[st]
		if msg == 0 {
			p, err := e.staticString(statusMessages[st])
			if err != nil {
				return StatusGenericFailure
			}
			e.messages[st], msg = p, p
		}
	}
	v := e.views()
	v.SetU32(e.errorInfo, msg)
	v.SetU32(e.errorInfo+4, 0)
	v.SetU32(e.errorInfo+8, 0)
	v.SetI32(e.errorInfo+12, int32(e.lastError))
	v.SetU32(result, e.errorInfo)
	return StatusOK
}

func (e *Env) adjustExternalMemory(change int64, result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	e.externalMemory += change
	e.views().SetI64(result, e.externalMemory)
	return StatusOK
}

// ExternalMemory returns the total reported through
// napi_adjust_external_memory.
func (e *Env) ExternalMemory() int64 { return e.externalMemory }

func (e *Env) runScript(script, result uint32) Status {
	Logger().Warn("napi_run_script is not supported", zap.Uint32("script", script))
	return StatusGenericFailure
}

func (e *Env) fatalError(location, locationLen, message, messageLen uint32) {
	v := e.views()
	var loc, msg string
	if location != 0 {
		loc = cstring(v, location, locationLen)
	}
	if message != 0 {
		msg = cstring(v, message, messageLen)
	}
	Logger().Error("napi_fatal_error", zap.String("location", loc), zap.String("message", msg))
	e.onFatal(loc, msg)
}

func (e *Env) fatalException(err uint32) Status {
	v, st := e.get(err)
	if st != StatusOK {
		return st
	}
	msg, _ := ToString(v)
	e.onFatal("uncaught exception", msg)
	return StatusOK
}
