// Package wasmgen emits and inspects small wasm binaries.
//
// The bridge uses it for modules wazero cannot express as host modules:
// the linear memory the guest imports, the re-exporting env namespace,
// and the helpers that grow, fill and call through a function table.
//
//	m := wasmgen.New()
//	tbl := m.ImportTable("guest", "__indirect_function_table", 0)
//	fn := m.ImportFunc("host", "tramp", sig)
//	m.Elem(tbl, 12, fn)
//	bin := m.Bytes()
//
// Parse reads back a guest's import and export sections, enough to decide
// how to lay out its env namespace.
package wasmgen
