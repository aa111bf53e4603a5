package errors

import (
	"fmt"
	"slices"
	"strings"
)

// Phase names the bridge layer an error came from.
type Phase string

const (
	PhaseLoad    Phase = "load"    // module compilation and import resolution
	PhaseLinking Phase = "linking" // env namespace assembly
	PhaseRuntime Phase = "runtime" // calls into the module
	PhaseMemory  Phase = "memory"  // linear memory growth and access
	PhaseFS      Phase = "fs"      // virtual filesystem
	PhaseFFI     Phase = "ffi"     // call and closure marshalling
	PhaseABI     Phase = "abi"     // handle, scope and reference emulation
	PhaseThread  Phase = "thread"  // worker pool and mailbox
	PhaseConfig  Phase = "config"  // configuration loading
)

// Kind categorizes the error.
type Kind string

const (
	KindTypeMismatch       Kind = "type_mismatch"
	KindOutOfBounds        Kind = "out_of_bounds"
	KindInvalidData        Kind = "invalid_data"
	KindUnsupported        Kind = "unsupported"
	KindNotImplemented     Kind = "not_implemented"
	KindAllocation         Kind = "allocation"
	KindMissingImport      Kind = "missing_import"
	KindNotFound           Kind = "not_found"
	KindNotInitialized     Kind = "not_initialized"
	KindInvalidInput       Kind = "invalid_input"
	KindRegistration       Kind = "registration"
	KindInstantiation      Kind = "instantiation"
	KindPendingException   Kind = "pending_exception"
	KindThreadsUnsupported Kind = "threads_unsupported"
	KindFatal              Kind = "fatal"
)

// Error is the error type returned across package boundaries.
type Error struct {
	Value  any // offending value, if one helps diagnosis
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Phase, e.Kind)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error with the same phase and kind. A zero phase in
// target matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Phase == "" || e.Phase == t.Phase)
}

// Builder assembles an Error field by field.
type Builder struct {
	err Error
}

func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind}}
}

func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the message, formatting it when args are given.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	b.err.Detail = msg
	return b
}

func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

func newError(phase Phase, kind Kind, detail string, cause error) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail, Cause: cause}
}

// Wrap attaches phase, kind and a message to cause.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return newError(phase, kind, detail, cause)
}

func AllocationFailed(phase Phase, size, align uint32) *Error {
	e := newError(phase, KindAllocation, fmt.Sprintf("malloc(%d) with alignment %d returned null", size, align), nil)
	e.Value = size
	return e
}

// GrowFailed reports a memory grow that would pass the configured maximum.
func GrowFailed(requested, current, limit uint64) *Error {
	e := newError(PhaseMemory, KindAllocation,
		fmt.Sprintf("grow %d -> %d bytes exceeds maximum %d", current, requested, limit), nil)
	e.Value = requested
	return e
}

// MemoryAccess reports a guest pointer range outside linear memory.
func MemoryAccess(offset, length uint32, size uint64) *Error {
	e := newError(PhaseMemory, KindOutOfBounds,
		fmt.Sprintf("[%#x, %#x) past end of memory (%d bytes)", offset, uint64(offset)+uint64(length), size), nil)
	e.Value = offset
	return e
}

func Unsupported(phase Phase, what string) *Error {
	return newError(phase, KindUnsupported, what, nil)
}

func NotImplemented(phase Phase, what string) *Error {
	return newError(phase, KindNotImplemented, what, nil)
}

func InvalidData(phase Phase, detail string) *Error {
	return newError(phase, KindInvalidData, detail, nil)
}

func InvalidInput(phase Phase, detail string) *Error {
	return newError(phase, KindInvalidInput, detail, nil)
}

func NotInitialized(phase Phase, what string) *Error {
	return newError(phase, KindNotInitialized, what+" is not initialized", nil)
}

func NotFound(phase Phase, what, name string) *Error {
	return newError(phase, KindNotFound, fmt.Sprintf("no %s named %q", what, name), nil)
}

func Instantiation(cause error) *Error {
	return newError(PhaseRuntime, KindInstantiation, "instantiate module", cause)
}

func Load(detail string, cause error) *Error {
	return newError(PhaseLoad, KindInvalidData, detail, cause)
}

// Fatal is for failures the addon cannot recover from: abort(), failed
// assertions, napi_fatal_error and exceptions nobody caught.
func Fatal(detail string, cause error) *Error {
	return newError(PhaseRuntime, KindFatal, detail, cause)
}

// MissingImportsError lists module imports the bridge has no host function
// for, as "namespace#name" keys.
type MissingImportsError struct {
	Imports []string
}

func NewMissingImportsError(imports []string) *MissingImportsError {
	return &MissingImportsError{Imports: slices.Clone(imports)}
}

// Namespaces groups the missing names by import module, sorted.
func (e *MissingImportsError) Namespaces() map[string][]string {
	out := make(map[string][]string)
	for _, key := range e.Imports {
		ns, name, ok := strings.Cut(key, "#")
		if !ok {
			ns, name = "", key
		}
		out[ns] = append(out[ns], name)
	}
	for _, names := range out {
		slices.Sort(names)
	}
	return out
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "linking: missing_import: none"
	}
	groups := e.Namespaces()
	namespaces := make([]string, 0, len(groups))
	for ns := range groups {
		namespaces = append(namespaces, ns)
	}
	slices.Sort(namespaces)

	parts := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		parts = append(parts, fmt.Sprintf("%s{%s}", ns, strings.Join(groups[ns], ",")))
	}
	return fmt.Sprintf("linking: missing_import: %d host function(s): %s", len(e.Imports), strings.Join(parts, " "))
}

func (e *MissingImportsError) Is(target error) bool {
	if _, ok := target.(*MissingImportsError); ok {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Kind == KindMissingImport
}
