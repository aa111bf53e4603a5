package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/lovell/sharp-sub001/bridge/internal/wasmgen"
	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/ffi"
	"github.com/lovell/sharp-sub001/threads"
)

const tableExport = "__indirect_function_table"

// tableRef names a function table by the module that exports it.
type tableRef struct {
	module string
	name   string
}

type slotEntry struct {
	sig ffi.Signature
	fn  api.GoFunction
}

// guestTable implements ffi.Table over the function tables of every
// instance. wazero has no host API for tables, so each operation runs a
// small generated module importing the table: a grow/size helper, one
// call_indirect dispatcher per signature, and one module per installed
// slot whose active element segment writes a trampoline into place.
//
// Installed slots are replayed into the table of every worker that loads
// later, so a function pointer means the same thing on every thread.
type guestTable struct {
	rt      wazero.Runtime
	current func(ctx context.Context) *instance
	metrics *Metrics

	mu      sync.Mutex
	size    uint32
	free    []uint32
	entries map[uint32]slotEntry
	targets map[tableRef]*tableTarget
	tramps  map[string]string
}

// tableTarget is one concrete table and the helpers bound to it.
type tableTarget struct {
	ref      tableRef
	users    int
	helper   api.Module
	dispatch map[string]api.Module
	installs []api.Module
}

func newGuestTable(rt wazero.Runtime, m *Metrics, current func(ctx context.Context) *instance) *guestTable {
	return &guestTable{
		rt:      rt,
		current: current,
		metrics: m,
		entries: make(map[uint32]slotEntry),
		targets: make(map[tableRef]*tableTarget),
		tramps:  make(map[string]string),
	}
}

// attach binds ref for a newly loaded instance and brings it up to date
// with the slots installed so far. The first attach fixes the table size.
func (g *guestTable) attach(ctx context.Context, ref tableRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.targets[ref]; ok {
		t.users++
		return nil
	}
	t := &tableTarget{ref: ref, users: 1, dispatch: make(map[string]api.Module)}
	if err := g.loadHelper(ctx, t); err != nil {
		return err
	}
	size, err := t.tableSize(ctx)
	if err != nil {
		return err
	}
	if len(g.targets) == 0 {
		g.size = size
	} else if size < g.size {
		if err := t.growBy(ctx, g.size-size); err != nil {
			return err
		}
	}
	for slot, e := range g.entries {
		if err := g.installAt(ctx, t, slot, e.sig); err != nil {
			return err
		}
	}
	g.targets[ref] = t
	return nil
}

// detach drops ref once no instance uses it.
func (g *guestTable) detach(ctx context.Context, ref tableRef) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.targets[ref]
	if !ok {
		return
	}
	if t.users--; t.users > 0 {
		return
	}
	delete(g.targets, ref)
	t.close(ctx)
}

func (g *guestTable) close(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ref, t := range g.targets {
		t.close(ctx)
		delete(g.targets, ref)
	}
}

func (t *tableTarget) close(ctx context.Context) {
	for _, m := range t.installs {
		m.Close(ctx)
	}
	for _, m := range t.dispatch {
		m.Close(ctx)
	}
	if t.helper != nil {
		t.helper.Close(ctx)
	}
}

var (
	growType = wasmgen.FuncType{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
	sizeType = wasmgen.FuncType{Results: []api.ValueType{api.ValueTypeI32}}
)

func (g *guestTable) loadHelper(ctx context.Context, t *tableTarget) error {
	m := wasmgen.New()
	m.ImportTable(t.ref.module, t.ref.name, 0)
	var grow, size wasmgen.Code
	grow.RefNullFunc().LocalGet(0).TableGrow(0)
	size.TableSize(0)
	m.Export("grow", wasmgen.KindFunc, m.Func(growType, nil, grow.Bytes()))
	m.Export("size", wasmgen.KindFunc, m.Func(sizeType, nil, size.Bytes()))
	mod, err := g.instantiate(ctx, m.Bytes())
	if err != nil {
		return errors.Wrap(errors.PhaseLinking, errors.KindInstantiation, err, "table helper for "+t.ref.module)
	}
	t.helper = mod
	return nil
}

func (t *tableTarget) tableSize(ctx context.Context) (uint32, error) {
	res, err := t.helper.ExportedFunction("size").Call(ctx)
	if err != nil {
		return 0, err
	}
	return api.DecodeU32(res[0]), nil
}

// growBy appends delta null entries.
func (t *tableTarget) growBy(ctx context.Context, delta uint32) error {
	res, err := t.helper.ExportedFunction("grow").Call(ctx, api.EncodeU32(delta))
	if err != nil {
		return err
	}
	if api.DecodeI32(res[0]) < 0 {
		return errors.New(errors.PhaseFFI, errors.KindAllocation).
			Detail("table %s.%s cannot grow by %d", t.ref.module, t.ref.name, delta).Build()
	}
	return nil
}

func (g *guestTable) instantiate(ctx context.Context, bin []byte) (api.Module, error) {
	compiled, err := g.rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, err
	}
	return g.rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
}

func (g *guestTable) target(ctx context.Context) (*tableTarget, error) {
	in := g.current(ctx)
	if in == nil || in.table == (tableRef{}) {
		return nil, errors.NotInitialized(errors.PhaseFFI, "function table")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.targets[in.table]
	if !ok {
		return nil, errors.NotFound(errors.PhaseFFI, "function table", in.table.module)
	}
	return t, nil
}

// CallIndirect calls table[index] of the calling instance's table.
func (g *guestTable) CallIndirect(ctx context.Context, sig ffi.Signature, index uint32, args []uint64) ([]uint64, error) {
	t, err := g.target(ctx)
	if err != nil {
		return nil, err
	}
	mod, err := g.dispatcher(ctx, t, sig)
	if err != nil {
		return nil, err
	}
	params := make([]uint64, 0, len(args)+1)
	params = append(params, api.EncodeU32(index))
	params = append(params, args...)
	return mod.ExportedFunction("call").Call(ctx, params...)
}

func (g *guestTable) dispatcher(ctx context.Context, t *tableTarget, sig ffi.Signature) (api.Module, error) {
	key := sig.String()
	g.mu.Lock()
	defer g.mu.Unlock()
	if mod, ok := t.dispatch[key]; ok {
		return mod, nil
	}
	m := wasmgen.New()
	m.ImportTable(t.ref.module, t.ref.name, 0)
	target := m.Type(wasmgen.FuncType{Params: sig.Params, Results: sig.Results})
	var body wasmgen.Code
	for i := range sig.Params {
		body.LocalGet(uint32(i + 1))
	}
	body.LocalGet(0).CallIndirect(target, 0)
	outer := wasmgen.FuncType{
		Params:  append([]api.ValueType{api.ValueTypeI32}, sig.Params...),
		Results: sig.Results,
	}
	m.Export("call", wasmgen.KindFunc, m.Func(outer, nil, body.Bytes()))
	mod, err := g.instantiate(ctx, m.Bytes())
	if err != nil {
		return nil, errors.Wrap(errors.PhaseFFI, errors.KindInstantiation, err, "dispatcher "+key)
	}
	t.dispatch[key] = mod
	return mod, nil
}

// AllocateSlot reuses a freed slot or grows every table by one.
func (g *guestTable) AllocateSlot(ctx context.Context) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := len(g.free); n > 0 {
		slot := g.free[n-1]
		g.free = g.free[:n-1]
		return slot, nil
	}
	if len(g.targets) == 0 {
		return 0, errors.NotInitialized(errors.PhaseFFI, "function table")
	}
	for _, t := range g.targets {
		if err := t.growBy(ctx, 1); err != nil {
			return 0, err
		}
	}
	g.size++
	return g.size - 1, nil
}

// FreeSlot forgets the function at slot. The stale trampoline stays in the
// tables until the slot is installed again.
func (g *guestTable) FreeSlot(slot uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, slot)
	g.free = append(g.free, slot)
}

// Install writes fn into slot of every table.
func (g *guestTable) Install(ctx context.Context, sig ffi.Signature, slot uint32, fn api.GoFunction) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.targets) == 0 {
		return errors.NotInitialized(errors.PhaseFFI, "function table")
	}
	if slot >= g.size {
		return errors.New(errors.PhaseFFI, errors.KindOutOfBounds).
			Detail("slot %d beyond table size %d", slot, g.size).Build()
	}
	g.entries[slot] = slotEntry{sig: sig, fn: fn}
	for _, t := range g.targets {
		if err := g.installAt(ctx, t, slot, sig); err != nil {
			return err
		}
	}
	g.metrics.TableInstalls.Inc()
	return nil
}

// installAt writes a function calling the signature's trampoline with slot
// into t. Callers hold g.mu.
func (g *guestTable) installAt(ctx context.Context, t *tableTarget, slot uint32, sig ffi.Signature) error {
	tramp, err := g.trampoline(ctx, sig)
	if err != nil {
		return err
	}
	m := wasmgen.New()
	inner := m.ImportFunc(tramp, "call", wasmgen.FuncType{
		Params:  append([]api.ValueType{api.ValueTypeI32}, sig.Params...),
		Results: sig.Results,
	})
	tbl := m.ImportTable(t.ref.module, t.ref.name, 0)
	var body wasmgen.Code
	body.I32Const(int32(slot))
	for i := range sig.Params {
		body.LocalGet(uint32(i))
	}
	body.Call(inner)
	fn := m.Func(wasmgen.FuncType{Params: sig.Params, Results: sig.Results}, nil, body.Bytes())
	m.Elem(tbl, slot, fn)
	mod, err := g.instantiate(ctx, m.Bytes())
	if err != nil {
		return errors.Wrap(errors.PhaseFFI, errors.KindInstantiation, err, fmt.Sprintf("install slot %d", slot))
	}
	t.installs = append(t.installs, mod)
	Logger().Debug("table slot installed",
		zap.String("table", t.ref.module), zap.Uint32("slot", slot), zap.Stringer("sig", sig))
	return nil
}

// trampoline returns the name of the host module that routes calls of sig
// to the Go function installed at the slot passed first. Callers hold g.mu.
func (g *guestTable) trampoline(ctx context.Context, sig ffi.Signature) (string, error) {
	key := sig.String()
	if name, ok := g.tramps[key]; ok {
		return name, nil
	}
	name := "env:tramp:" + key
	params := append([]api.ValueType{api.ValueTypeI32}, sig.Params...)
	fn := api.GoFunc(func(ctx context.Context, stack []uint64) {
		slot := api.DecodeU32(stack[0])
		g.mu.Lock()
		e, ok := g.entries[slot]
		g.mu.Unlock()
		if !ok {
			panic(errors.NotFound(errors.PhaseFFI, "table slot", fmt.Sprint(slot)))
		}
		buf := make([]uint64, max(len(sig.Params), len(sig.Results)))
		copy(buf, stack[1:1+len(sig.Params)])
		e.fn.Call(ctx, buf)
		copy(stack, buf[:len(sig.Results)])
	})
	_, err := g.rt.NewHostModuleBuilder(name).
		NewFunctionBuilder().WithGoFunction(fn, params, sig.Results).Export("call").
		Instantiate(ctx)
	if err != nil {
		return "", errors.Wrap(errors.PhaseFFI, errors.KindRegistration, err, "trampoline "+key)
	}
	g.tramps[key] = name
	return name, nil
}

var _ ffi.Table = (*guestTable)(nil)

// instanceFor resolves the instance ctx runs on: the worker's, or main.
func (b *Bridge) instanceFor(ctx context.Context) *instance {
	if w := threads.Current(ctx); w != nil {
		if in, ok := w.Data.(*instance); ok {
			return in
		}
		return nil
	}
	return b.main.Load()
}
