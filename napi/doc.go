// Package napi emulates the Node-API surface an addon compiled to wasm
// expects from its host.
//
// Host values never cross into linear memory. The guest sees napi_value
// handles, small integers indexing the Store's handle stack, and every
// entry point resolves them back to Values before acting:
//
//	handle   value
//	─────────────────
//	0        empty (invalid)
//	1        undefined
//	2        null
//	3        false
//	4        true
//	5        global object
//	6..      pushed by the current scope chain
//
// Handle scopes bracket the lifetime of pushed handles. Closing a scope
// truncates the stack to where the scope began; an escapable scope reserves
// one slot in its parent before it opens, and Escape copies a single
// handle into it.
//
// References outlive scopes. A reference with a positive count keeps its
// value alive; at zero it is weak and Collect may finalize the value once
// nothing else reaches it. Finalizers run exactly once per value.
//
// Every ABI entry point is a method on Env returning a Status. Imports
// adapts them to wazero host functions: it decodes the flat parameters,
// refuses calls that may run code while an exception is pending, records
// the last error and converts linear memory faults into
// napi_generic_failure.
package napi
