package bridge

import (
	"context"
	"math"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/lovell/sharp-sub001/bridge/internal/wasmgen"
	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/threads"
)

const (
	hostModule   = "env:host"
	memoryModule = "env:memory"
	wasiModule   = wasi_snapshot_preview1.ModuleName
)

const (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f64 = api.ValueTypeF64
)

func types(t ...api.ValueType) []api.ValueType { return t }

// hostFunc is one function the bridge can satisfy a guest import with.
type hostFunc struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
	fn      api.GoFunction
	// proxied functions run on the main context when a worker calls them
	proxied bool
}

func (h hostFunc) funcType() wasmgen.FuncType {
	return wasmgen.FuncType{Params: h.params, Results: h.results}
}

// proxyOpBase numbers the main-context operations behind proxied imports,
// clear of the small indices guests pass to _emscripten_run_on_main_thread_js.
const proxyOpBase int32 = 1 << 16

// proxy makes h run on the main context. The arguments and the result
// travel as float64 words holding the raw bits of each value.
func (b *Bridge) proxy(op int32, h hostFunc) hostFunc {
	main := b.pool.Main()
	inner := h.fn
	n := max(len(h.params), len(h.results))
	main.Register(op, func(ctx context.Context, args []float64) (float64, error) {
		stack := make([]uint64, n)
		for i, a := range args {
			stack[i] = math.Float64bits(a)
		}
		inner.Call(ctx, stack)
		if len(h.results) == 0 {
			return 0, nil
		}
		return math.Float64frombits(stack[0]), nil
	})
	h.fn = api.GoFunc(func(ctx context.Context, stack []uint64) {
		if threads.Current(ctx) == nil {
			inner.Call(ctx, stack)
			return
		}
		args := make([]float64, len(h.params))
		for i := range args {
			args[i] = math.Float64frombits(stack[i])
		}
		r, err := main.Proxy(ctx, op, true, args...)
		if err != nil {
			panic(err)
		}
		if len(h.results) > 0 {
			stack[0] = math.Float64bits(r)
		}
	})
	return h
}

// hostFuncs gathers every function the bridge provides, keyed by import
// name, and the WASI functions it overrides. Namespaces are not
// significant: emscripten puts everything in env, wasi-sdk builds of the
// same addon use napi and emnapi.
func (b *Bridge) hostFuncs() (map[string]hostFunc, []hostFunc) {
	b.funcsOnce.Do(func() {
		var all []hostFunc
		all = append(all, b.napiImports()...)
		all = append(all, b.fsImports()...)
		all = append(all, b.ffiImports()...)
		all = append(all, b.threadImports()...)
		all = append(all, b.procImports()...)

		op := proxyOpBase
		wrap := func(h hostFunc) hostFunc {
			if h.proxied {
				h = b.proxy(op, h)
				op++
			}
			return h
		}
		b.funcs = make(map[string]hostFunc, len(all))
		for _, h := range all {
			b.funcs[h.name] = wrap(h)
		}
		for _, h := range b.wasiOverrides() {
			b.wasi = append(b.wasi, wrap(h))
		}
	})
	return b.funcs, b.wasi
}

// linkPlan is what the linker learned about the guest's imports and what
// it instantiated to satisfy them.
type linkPlan struct {
	info *wasmgen.Info

	importsMemory bool
	memory        wasmgen.Limits

	importsTable bool
	tableMin     uint32

	exportsTable bool

	// module#name of imports satisfied by aborting stubs
	missing []string

	memoryMod api.Module
	modules   []api.Module
}

// shared reports whether instances can run concurrently on one memory.
func (p *linkPlan) shared() bool { return p != nil && p.importsMemory && p.memory.Shared }

func (p *linkPlan) close(ctx context.Context) {
	for i := len(p.modules) - 1; i >= 0; i-- {
		p.modules[i].Close(ctx)
	}
	p.modules = nil
}

func linkError(kind errors.Kind, format string, args ...any) error {
	return errors.New(errors.PhaseLinking, kind).Detail(format, args...).Build()
}

// plan inspects the guest's imports.
func (b *Bridge) plan(info *wasmgen.Info) (*linkPlan, error) {
	p := &linkPlan{info: info, exportsTable: info.Exported(tableExport, wasmgen.KindTable)}
	initial, maxPages := b.cfg.pages()
	for _, imp := range info.Imports {
		switch imp.Kind {
		case wasmgen.KindMemory:
			l := imp.Limits
			p.importsMemory = true
			p.memory = wasmgen.Limits{Min: max(l.Min, initial), Max: maxPages, HasMax: true, Shared: l.Shared}
			if l.HasMax {
				p.memory.Max = min(l.Max, maxPages)
			}
			if p.memory.Min > p.memory.Max {
				return nil, linkError(errors.KindInvalidInput,
					"memory %s.%s needs %d pages, limit is %d", imp.Module, imp.Name, p.memory.Min, p.memory.Max)
			}
			if l.Shared && !b.cfg.Threads.Enabled {
				return nil, linkError(errors.KindThreadsUnsupported,
					"memory %s.%s is shared but threads are disabled", imp.Module, imp.Name)
			}
		case wasmgen.KindTable:
			p.importsTable = true
			p.tableMin = imp.Limits.Min
		case wasmgen.KindGlobal:
			return nil, linkError(errors.KindUnsupported, "global import %s.%s", imp.Module, imp.Name)
		}
	}
	return p, nil
}

// linkImports instantiates everything the guest imports: the memory module, the
// host module, one re-export module per namespace, and WASI.
func (b *Bridge) linkImports(ctx context.Context, p *linkPlan) error {
	if p.importsMemory || p.importsTable {
		m := wasmgen.New()
		if p.importsMemory {
			m.Export("memory", wasmgen.KindMemory, m.Memory(p.memory))
		}
		if p.importsTable {
			m.Export(tableExport, wasmgen.KindTable, m.Table(wasmgen.Limits{Min: p.tableMin}))
		}
		if err := b.instantiateSynth(ctx, p, memoryModule, m); err != nil {
			return err
		}
	}

	funcs, wasi := b.hostFuncs()
	host := b.rt.NewHostModuleBuilder(hostModule)
	exported := make(map[string]wasmgen.FuncType)
	namespaces := make(map[string][]int)
	var order []string
	usesWASI := false
	for i, imp := range p.info.Imports {
		if imp.Module == wasiModule {
			usesWASI = true
			continue
		}
		if _, ok := namespaces[imp.Module]; !ok {
			order = append(order, imp.Module)
		}
		namespaces[imp.Module] = append(namespaces[imp.Module], i)
		if imp.Kind != wasmgen.KindFunc {
			continue
		}
		if t, ok := exported[imp.Name]; ok {
			if !t.Equal(imp.Type) {
				return linkError(errors.KindTypeMismatch,
					"%s.%s is imported with two signatures", imp.Module, imp.Name)
			}
			continue
		}
		h, ok := funcs[imp.Name]
		switch {
		case !ok:
			p.missing = append(p.missing, imp.Module+"#"+imp.Name)
			h = hostFunc{name: imp.Name, params: imp.Type.Params, results: imp.Type.Results,
				fn: missingImport(imp.Module, imp.Name)}
		case !h.funcType().Equal(imp.Type):
			return linkError(errors.KindTypeMismatch, "%s.%s: guest expects %v -> %v, host provides %v -> %v",
				imp.Module, imp.Name, imp.Type.Params, imp.Type.Results, h.params, h.results)
		}
		host.NewFunctionBuilder().WithGoFunction(h.fn, h.params, h.results).Export(imp.Name)
		exported[imp.Name] = imp.Type
	}
	if len(p.missing) > 0 {
		Logger().Warn("guest imports stubbed; calling them aborts",
			zap.Error(errors.NewMissingImportsError(p.missing)))
	}
	mod, err := host.Instantiate(ctx)
	if err != nil {
		return errors.Wrap(errors.PhaseLinking, errors.KindInstantiation, err, hostModule)
	}
	p.modules = append(p.modules, mod)

	for _, ns := range order {
		m := wasmgen.New()
		for _, i := range namespaces[ns] {
			imp := p.info.Imports[i]
			switch imp.Kind {
			case wasmgen.KindFunc:
				m.Export(imp.Name, wasmgen.KindFunc, m.ImportFunc(hostModule, imp.Name, imp.Type))
			case wasmgen.KindMemory:
				m.Export(imp.Name, wasmgen.KindMemory, m.ImportMemory(memoryModule, "memory", p.memory))
			case wasmgen.KindTable:
				m.Export(imp.Name, wasmgen.KindTable, m.ImportTable(memoryModule, tableExport, p.tableMin))
			}
		}
		if err := b.instantiateSynth(ctx, p, ns, m); err != nil {
			return err
		}
	}

	if usesWASI {
		builder := b.rt.NewHostModuleBuilder(wasiModule)
		wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
		for _, h := range wasi {
			builder.NewFunctionBuilder().WithGoFunction(h.fn, h.params, h.results).Export(h.name)
		}
		mod, err := builder.Instantiate(ctx)
		if err != nil {
			return errors.Wrap(errors.PhaseLinking, errors.KindInstantiation, err, wasiModule)
		}
		p.modules = append(p.modules, mod)
	}
	return nil
}

func (b *Bridge) instantiateSynth(ctx context.Context, p *linkPlan, name string, m *wasmgen.Module) error {
	compiled, err := b.rt.CompileModule(ctx, m.Bytes())
	if err != nil {
		return errors.Wrap(errors.PhaseLinking, errors.KindInstantiation, err, "compile "+name)
	}
	mod, err := b.rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name).WithStartFunctions())
	if err != nil {
		return errors.Wrap(errors.PhaseLinking, errors.KindInstantiation, err, name)
	}
	if name == memoryModule {
		p.memoryMod = mod
	}
	p.modules = append(p.modules, mod)
	return nil
}

// missingImport stands in for an import the host does not implement. The
// guest links; calling it aborts.
func missingImport(module, name string) api.GoFunction {
	return api.GoFunc(func(context.Context, []uint64) {
		panic(errors.New(errors.PhaseLinking, errors.KindMissingImport).
			Detail("%s.%s is not provided by the host", module, name).Build())
	})
}

// importNames lists what the bridge provides, sorted.
func (b *Bridge) importNames() []string {
	funcs, _ := b.hostFuncs()
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
