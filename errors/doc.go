// Package errors provides the structured error type shared by the bridge
// packages.
//
// An Error carries the Phase it came from (memory, fs, ffi, abi, thread...)
// and a Kind. errors.Is matches on both, or on Kind alone when the target
// leaves Phase empty:
//
//	if errors.Is(err, &errors.Error{Kind: errors.KindFatal}) {
//		// the addon aborted
//	}
//
// Errno values and napi_status codes are not errors of this package; they
// are returned to the guest as plain integers.
package errors
