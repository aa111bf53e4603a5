package bridge

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/lovell/sharp-sub001/bridge/internal/wasmgen"
	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/memory"
	"github.com/lovell/sharp-sub001/napi"
	"github.com/lovell/sharp-sub001/threads"
	"github.com/lovell/sharp-sub001/vfs"
)

const mainName = "main"

// ExitError reports that the guest called exit or proc_exit.
type ExitError struct {
	Code int32
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("guest exited with code %d", e.Code)
}

// Option configures New.
type Option func(*options)

type options struct {
	registry prometheus.Registerer
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
}

// WithRegistry registers the bridge metrics with reg when metrics are
// enabled. The default is prometheus.DefaultRegisterer.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithStdio replaces the process streams the guest sees. A nil argument
// keeps the default for that stream.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdin, o.stdout, o.stderr = stdin, stdout, stderr
	}
}

// Bridge hosts one addon: a wazero runtime, the memory every instance
// shares, the filesystem, the napi environment and the worker pool.
type Bridge struct {
	cfg     *Config
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	served chan struct{}

	rt      wazero.Runtime
	backing *lateBacking
	mem     *memory.Manager
	alloc   lateAllocator
	fs      *vfs.FS
	sys     *vfs.Syscalls
	env     *napi.Env
	pool    *threads.Pool
	table   *guestTable
	metrics *Metrics

	stdout, stderr io.Writer
	stdinCloser    io.Closer

	funcsOnce sync.Once
	funcs     map[string]hostFunc
	wasi      []hostFunc

	// set by Instantiate
	link       *linkPlan
	compiled   wazero.CompiledModule
	main       atomic.Pointer[instance]
	mainThread atomic.Uint32
	exports    *napi.Reference

	// held while the main instance runs
	mainMu sync.Mutex

	stateMu sync.Mutex
	exit    *ExitError
	fatal   error
	closed  bool
}

// New creates a bridge. cfg may be nil for Default.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		cfg = Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	b := &Bridge{cfg: cfg, started: time.Now(), stdout: o.stdout, stderr: o.stderr, served: make(chan struct{})}
	if b.stdout == nil {
		b.stdout = os.Stdout
	}
	if b.stderr == nil {
		b.stderr = os.Stderr
	}
	stdin, closer, err := openStdin(cfg.Process.Stdin, o.stdin)
	if err != nil {
		return nil, err
	}
	b.stdinCloser = closer

	_, maxPages := cfg.pages()
	rc := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(maxPages).
		WithCloseOnContextDone(true)
	if cfg.Threads.Enabled {
		rc = rc.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}
	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.rt = wazero.NewRuntimeWithConfig(b.ctx, rc)

	b.backing = newLateBacking(maxPages)
	b.mem = memory.NewManager(b.backing, memory.WithMaxBytes(cfg.Memory.Max))

	if b.fs, err = vfs.New(vfs.Options{
		Stdin:             stdin,
		Stdout:            b.stdout,
		Stderr:            b.stderr,
		IgnorePermissions: cfg.FS.IgnorePermissions,
	}); err != nil {
		b.abandon()
		return nil, errors.Wrap(errors.PhaseFS, errors.KindInstantiation, err, "filesystem")
	}
	if err := b.mount(); err != nil {
		b.abandon()
		return nil, err
	}
	b.sys = vfs.NewSyscalls(b.fs, b.mem)
	b.sys.Alloc = &b.alloc

	b.table = newGuestTable(b.rt, nil, b.instanceFor)
	b.env = napi.NewEnv(b.mem, b.table, &b.alloc, napi.WithFatalHandler(b.napiFatal))

	popts := []threads.Option{
		threads.WithMemory(b.mem),
		threads.WithOutput(b.stdout, b.stderr),
	}
	if cfg.Threads.MaxWorkers > 0 {
		popts = append(popts, threads.WithMaxWorkers(cfg.Threads.MaxWorkers))
	}
	b.pool = threads.NewPool(&runner{b: b}, popts...)

	var reg prometheus.Registerer
	if cfg.Metrics.Enabled {
		reg = o.registry
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
	}
	b.metrics = NewMetrics(reg, b.pool)
	b.table.metrics = b.metrics
	b.mem.OnGrow(func(_, newBytes uint64) {
		b.metrics.MemoryGrows.Inc()
		b.metrics.MemoryBytes.Set(float64(newBytes))
	})

	main := b.pool.Main()
	main.OnCheckMailbox(b.checkMainMailbox)
	main.Register(opExit, b.exitFromWorker)
	go b.serveMain()
	return b, nil
}

// abandon releases what New built before failing.
func (b *Bridge) abandon() {
	b.cancel()
	b.rt.Close(context.Background())
	if b.stdinCloser != nil {
		b.stdinCloser.Close()
	}
}

func openStdin(path string, override io.Reader) (io.Reader, io.Closer, error) {
	switch {
	case override != nil:
		return override, nil, nil
	case path == "":
		return nil, nil, nil
	case path == "-":
		return os.Stdin, nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "stdin "+path)
	}
	return f, f, nil
}

func (b *Bridge) mount() error {
	mounts, err := b.cfg.FS.ParseMounts()
	if err != nil {
		return err
	}
	for _, m := range mounts {
		if err := b.fs.MkdirAll(m.Guest, 0o777); err != nil {
			return errors.Wrap(errors.PhaseFS, errors.KindInvalidInput, err, "mountpoint "+m.Guest)
		}
		if _, err := b.fs.Mount(vfs.HostFS{}, vfs.MountOptions{Root: m.Host, ReadOnly: m.ReadOnly}, m.Guest); err != nil {
			return errors.Wrap(errors.PhaseFS, errors.KindInvalidInput, err, "mount "+m.Host+" at "+m.Guest)
		}
		Logger().Debug("host directory mounted",
			zap.String("host", m.Host),
			zap.String("guest", m.Guest),
			zap.Bool("readonly", m.ReadOnly))
	}
	return nil
}

// serveMain runs main-context messages while no call holds the main
// instance. During a call the guest drains them itself when it yields.
func (b *Bridge) serveMain() {
	defer close(b.served)
	main := b.pool.Main()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-main.Mailbox().Wait():
			b.mainMu.Lock()
			main.Drain(b.ctx)
			b.mainMu.Unlock()
		}
	}
}

func (b *Bridge) checkMainMailbox(ctx context.Context) {
	in := b.main.Load()
	if in == nil {
		return
	}
	if err := callPadded(ctx, in.mod, "_emscripten_check_mailbox"); err != nil {
		Logger().Warn("main mailbox check failed", zap.Error(err))
	}
}

func (b *Bridge) moduleConfig(name string) wazero.ModuleConfig {
	mc := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions().
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithArgs(append([]string{progName}, b.cfg.Process.Args...)...)
	for _, kv := range b.cfg.Process.Env {
		k, v, _ := strings.Cut(kv, "=")
		mc = mc.WithEnv(k, v)
	}
	return mc
}

// Instantiate links and starts the guest, then registers the addon.
func (b *Bridge) Instantiate(ctx context.Context, wasm []byte) error {
	b.mainMu.Lock()
	defer b.mainMu.Unlock()
	if b.compiled != nil {
		return errors.InvalidInput(errors.PhaseLoad, "a guest is already instantiated")
	}

	info, err := wasmgen.Parse(wasm)
	if err != nil {
		return err
	}
	p, err := b.plan(info)
	if err != nil {
		return err
	}
	compiled, err := b.rt.CompileModule(ctx, wasm)
	if err != nil {
		return errors.Load("compile guest", err)
	}
	b.link = p
	if err := b.linkImports(ctx, p); err != nil {
		return err
	}

	mod, err := b.rt.InstantiateModule(ctx, compiled, b.moduleConfig(mainName))
	if err != nil {
		return errors.Instantiation(err)
	}
	mem := mod.Memory()
	if p.importsMemory {
		mem = p.memoryMod.ExportedMemory("memory")
	}
	if mem == nil {
		return errors.NotFound(errors.PhaseLinking, "memory", mainName)
	}
	b.backing.bind(mem)
	b.mem.Sync()
	b.metrics.MemoryBytes.Set(float64(b.mem.Size()))
	b.compiled = compiled

	in := b.newInstance(b.ctx, mainName, mod)
	if in.alloc != nil {
		b.alloc.bind(in.alloc)
	}
	if in.table != (tableRef{}) {
		if err := b.table.attach(ctx, in.table); err != nil {
			return err
		}
	}
	b.main.Store(in)

	init := "_initialize"
	if mod.ExportedFunction(init) == nil {
		init = "__wasm_call_ctors"
	}
	if err := callPadded(ctx, mod, init); err != nil {
		return b.outcome(err, init)
	}
	if b.mainThread.Load() == 0 {
		if err := callPadded(ctx, mod, "_emscripten_init_main_thread"); err != nil {
			return b.outcome(err, "_emscripten_init_main_thread")
		}
	}
	if err := in.carve(b, nil); err != nil {
		return err
	}

	if n := b.cfg.Threads.PoolSize; n > 0 && b.threaded() {
		if err := b.pool.Preallocate(ctx, n); err != nil {
			return err
		}
	}
	return b.register(ctx, in)
}

// register calls the addon's napi entry point and keeps its exports.
func (b *Bridge) register(ctx context.Context, in *instance) error {
	sc := b.env.OpenScope()
	defer b.env.CloseScope(sc)

	exports := napi.ObjectValue(b.env.NewObject())
	name := "napi_register_wasm_v1"
	fn := in.mod.ExportedFunction(name)
	if fn == nil {
		name = "napi_register_module_v1"
		fn = in.mod.ExportedFunction(name)
	}
	if fn == nil {
		Logger().Warn("guest has no napi registration entry point")
	} else {
		res, err := fn.Call(ctx, api.EncodeU32(b.env.ID()), api.EncodeU32(b.env.Push(exports)))
		if err != nil {
			return b.outcome(err, name)
		}
		if x, ok := b.env.TakeException(); ok {
			return napi.Throw(x)
		}
		if len(res) > 0 && api.DecodeU32(res[0]) != 0 {
			if v, ok := b.env.Value(api.DecodeU32(res[0])); ok && !v.IsUndefined() {
				exports = v
			}
		}
	}
	ref, st := b.env.CreateReference(exports, 1, napi.OwnershipUserland, nil)
	if st != napi.StatusOK {
		return errors.New(errors.PhaseABI, errors.KindRegistration).Detail("exports reference: %v", st).Build()
	}
	b.exports = ref
	Logger().Info("addon registered", zap.Int("exports", len(b.exportNames())))
	return nil
}

// Exports returns the addon's exports, or undefined before Instantiate.
func (b *Bridge) Exports() napi.Value {
	if b.exports == nil {
		return napi.Undefined()
	}
	v, ok := b.exports.Value()
	if !ok {
		return napi.Undefined()
	}
	return v
}

// ExportNames lists the own enumerable keys of the exports object.
func (b *Bridge) ExportNames() []string {
	b.mainMu.Lock()
	defer b.mainMu.Unlock()
	return b.exportNames()
}

func (b *Bridge) exportNames() []string {
	o := b.Exports().Object()
	if o == nil {
		return nil
	}
	keys := o.Keys(napi.KeyOwnOnly, napi.KeyEnumerable|napi.KeySkipSymbols, napi.KeyNumbersToStrings)
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.Str())
	}
	return names
}

// Export reads one property of the exports object, running getters.
func (b *Bridge) Export(ctx context.Context, name string) (napi.Value, error) {
	b.mainMu.Lock()
	defer b.mainMu.Unlock()
	obj := b.Exports().Object()
	if obj == nil {
		return napi.Undefined(), errors.NotInitialized(errors.PhaseRuntime, "addon exports")
	}
	v, err := b.env.GetProperty(ctx, obj, napi.StringKey(name))
	return v, b.outcome(err, name)
}

// Call invokes the exported function name with args inside a fresh handle
// scope. A JS exception thrown by the addon is returned as *napi.Exception;
// exit as *ExitError.
func (b *Bridge) Call(ctx context.Context, name string, args ...napi.Value) (napi.Value, error) {
	b.mainMu.Lock()
	defer b.mainMu.Unlock()
	if err := b.failed(); err != nil {
		return napi.Undefined(), err
	}
	if b.exports == nil {
		return napi.Undefined(), errors.NotInitialized(errors.PhaseRuntime, "addon exports")
	}
	b.pool.Main().Drain(ctx)

	sc := b.env.OpenScope()
	defer b.env.CloseScope(sc)
	exports := b.Exports()
	obj := exports.Object()
	if obj == nil {
		return napi.Undefined(), errors.InvalidInput(errors.PhaseRuntime, "exports is not an object")
	}
	fn, err := b.env.GetProperty(ctx, obj, napi.StringKey(name))
	if err == nil && fn.Kind() != napi.KindFunction {
		err = errors.NotFound(errors.PhaseRuntime, "exported function", name)
	}
	var result napi.Value
	if err == nil {
		result, err = b.env.Call(ctx, fn, exports, args...)
	}
	if err == nil {
		err = b.env.RunQueuedWork(ctx)
	}
	err = b.outcome(err, name)
	if err == nil {
		err = b.failed()
	}
	b.observe(name, err)
	return result, err
}

func (b *Bridge) observe(name string, err error) {
	outcome := "ok"
	var (
		exit *ExitError
		exc  *napi.Exception
	)
	switch {
	case err == nil:
	case stderrors.As(err, &exit):
		outcome = "exit"
	case stderrors.As(err, &exc):
		outcome = "exception"
	default:
		outcome = "error"
	}
	b.metrics.Calls.WithLabelValues(name, outcome).Inc()
	b.metrics.OpenFDs.Set(float64(b.fs.OpenFDs()))
	b.metrics.LiveHandles.Set(float64(b.env.Store().Handles()))
	b.metrics.References.Set(float64(b.env.References()))
}

// outcome turns an error from a guest call into what the caller sees.
func (b *Bridge) outcome(err error, what string) error {
	if err == nil {
		return nil
	}
	var (
		exit *ExitError
		exc  *napi.Exception
		e    *errors.Error
	)
	switch {
	case stderrors.As(err, &exit):
		return exit
	case stderrors.As(err, &exc):
		return exc
	case stderrors.As(err, &e):
		return e
	}
	return errors.Wrap(errors.PhaseRuntime, errors.KindFatal, err, what)
}

func (b *Bridge) setExit(code int32) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.exit == nil {
		b.exit = &ExitError{Code: code}
	}
}

func (b *Bridge) setFatal(err error) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.fatal == nil {
		b.fatal = err
	}
}

// failed returns the exit or fatal error that ended the guest, if any.
func (b *Bridge) failed() error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.exit != nil {
		return b.exit
	}
	return b.fatal
}

// threaded reports whether guest threads can run: threads are enabled and
// every instance imports the same shared memory.
func (b *Bridge) threaded() bool {
	return b.cfg.Threads.Enabled && b.link.shared()
}

func (b *Bridge) napiFatal(location, message string) {
	b.abort(b.ctx, "FATAL ERROR: "+location+" "+message)
}

// Close shuts the addon down, stops every worker and releases the runtime.
func (b *Bridge) Close(ctx context.Context) error {
	b.mainMu.Lock()
	b.stateMu.Lock()
	if b.closed {
		b.stateMu.Unlock()
		b.mainMu.Unlock()
		return nil
	}
	b.closed = true
	b.stateMu.Unlock()

	var errs []error
	if in := b.main.Load(); in != nil && b.failed() == nil {
		for _, name := range []string{"emnapi_shutdown", "_shutdown"} {
			if in.mod.ExportedFunction(name) != nil {
				if err := callPadded(ctx, in.mod, name); err != nil {
					errs = append(errs, b.outcome(err, name))
				}
				break
			}
		}
	}
	if err := b.env.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	b.mainMu.Unlock()

	if err := b.pool.TerminateAll(ctx); err != nil {
		errs = append(errs, err)
	}
	b.cancel()
	<-b.served
	b.table.close(ctx)
	if b.link != nil {
		b.link.close(ctx)
	}
	if err := b.rt.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if b.stdinCloser != nil {
		b.stdinCloser.Close()
	}
	return stderrors.Join(errs...)
}

// Config returns the configuration the bridge was built with.
func (b *Bridge) Config() *Config { return b.cfg }

// Env returns the napi environment.
func (b *Bridge) Env() *napi.Env { return b.env }

// FS returns the virtual filesystem.
func (b *Bridge) FS() *vfs.FS { return b.fs }

// Memory returns the linear memory manager.
func (b *Bridge) Memory() *memory.Manager { return b.mem }

// Pool returns the worker pool.
func (b *Bridge) Pool() *threads.Pool { return b.pool }

// Metrics returns the bridge collectors.
func (b *Bridge) Metrics() *Metrics { return b.metrics }

// MissingImports lists the guest imports, as module#name, that the host
// does not provide.
func (b *Bridge) MissingImports() []string {
	if b.link == nil {
		return nil
	}
	return slices.Clone(b.link.missing)
}

// Imports lists the host functions the bridge can provide.
func (b *Bridge) Imports() []string { return b.importNames() }
