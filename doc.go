// Package wasmbridge hosts a single compiled native addon inside a wazero
// sandbox and makes it behave like an in-process native extension.
//
// The bridge is organized into packages with distinct responsibilities:
//
//	wasmbridge/          Root package with Memory, Allocator and Stack interfaces
//	├── memory/          Growable linear memory, typed views, scratch stacks
//	├── vfs/             Virtual filesystem, devices, descriptor table, syscalls
//	├── ffi/             libffi-compatible call and closure marshalling
//	├── napi/            Handle store, scopes, references and the ABI entry points
//	├── threads/         Worker pool, mailbox protocol and main-context proxying
//	├── bridge/          wazero wiring of all of the above into an `env` namespace
//	├── resource/        Integer-indexed arenas shared by the packages above
//	├── errors/          Structured error types for debugging
//	└── cmd/sharpwasm/   CLI that loads an addon and calls its exports
//
// # Quick Start
//
//	cfg := bridge.Default()
//	b, err := bridge.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close(ctx)
//
//	if err := b.Instantiate(ctx, wasmBytes); err != nil {
//	    log.Fatal(err)
//	}
//
//	out, err := b.Call(ctx, "version")
//
// # Concurrency
//
// Every execution context (the main instance and each worker instance) runs
// one call at a time. The node tree, descriptor table and handle store are
// shared across contexts and rely on that discipline: filesystem syscalls
// issued from workers are proxied to the main context instead of locking.
//
// # Memory Model
//
// Linear memory only grows. A grow replaces the backing buffer, so nothing in
// the bridge holds a raw slice of memory across a call that may allocate;
// every access goes through memory.Views which re-derives its buffer when the
// manager's generation changes.
package wasmbridge
