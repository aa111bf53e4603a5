// Package bridge instantiates an addon's wasm module on wazero and supplies
// the `env` namespace it was linked against.
//
// A Bridge owns one wazero runtime and everything the addon sees as its
// process: linear memory (imported from the host, shared when the module
// was built with pthreads), the function table used by ffi and napi
// callbacks, the virtual filesystem, the napi environment and the worker
// pool. New builds that state from a Config; Instantiate links and starts
// the main module, runs its constructors and calls napi_register_wasm_v1;
// Call invokes a registered export.
//
// Imports are resolved by name against the host functions of the napi,
// ffi, vfs, process and thread layers. Anything the module imports that the
// bridge does not provide is linked to a stub that aborts the addon when
// reached, and is reported by MissingImports.
//
// The main context is whichever goroutine holds the bridge's main lock:
// Call, Export and Instantiate take it. Workers reach the main context only
// through the threads mailbox.
package bridge
