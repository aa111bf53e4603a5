// Package ffi marshals libffi calls and closures across the sandbox boundary.
//
// The guest links a libffi build for the wasm32-emscripten ABI. Its ffi_call
// and ffi_prep_closure_loc defer to host imports, because a wasm module
// cannot build a call with an arbitrary signature by itself. The Marshaller
// reads the guest's ffi_cif and ffi_type descriptors out of linear memory,
// flattens them to a wasm signature and then either:
//
//   - calls a function table entry with the flattened arguments (Call), or
//   - installs a host trampoline in a table slot that re-packs its wasm
//     arguments into the void** layout libffi closures expect (PrepareClosure).
//
// Descriptor layouts on wasm32:
//
//	ffi_type    size u32 @0, alignment u16 @4, type u16 @6, elements u32 @8
//	ffi_cif     abi @0, nargs @4, arg_types @8, rtype @12, bytes @16,
//	            flags @20, nfixedargs @24
//	ffi_closure trampoline index @0, cif @4, fun @8, user_data @12
//
// Flattening:
//
//	libffi type                  param           result
//	─────────────────────────────────────────────────────────
//	int, (u)int8..32, pointer    i32             i32
//	(u)int64                     i64             i64
//	float                        f32             f32
//	double                       f64             f64
//	long double                  i64 i64         by reference
//	struct                       i32 (pointer)   by reference
//	varargs                      i32 (pointer)   -
//
// By-reference results become a leading i32 parameter. Single-member structs
// are unboxed to their member first, and empty structs behave as void.
package ffi
