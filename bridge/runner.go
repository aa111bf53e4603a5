package bridge

import (
	"context"
	stderrors "errors"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/ffi"
	"github.com/lovell/sharp-sub001/threads"
)

// startSig is the type of a pthread start routine: void *(*)(void *).
var startSig = ffi.Signature{Params: types(i32), Results: types(i32)}

// runner gives each worker its own instance of the guest over the shared
// memory.
type runner struct {
	b *Bridge
}

func (r *runner) SharedMemory() bool { return r.b.threaded() }

func (r *runner) Load(ctx context.Context, w *threads.Worker) error {
	b := r.b
	if b.compiled == nil {
		return errors.NotInitialized(errors.PhaseThread, "guest module")
	}
	name := "worker-" + w.ID.String()
	mod, err := b.rt.InstantiateModule(ctx, b.compiled, b.moduleConfig(name))
	if err != nil {
		return errors.Wrap(errors.PhaseThread, errors.KindInstantiation, err, name)
	}
	// The worker's guest has no thread identity until Run, so its stacks
	// come from the main heap. The main instance is parked while a worker
	// loads: it is waiting in Preallocate or in pthread_create.
	in := b.newInstance(ctx, name, mod)
	if err := in.carve(b, &b.alloc); err != nil {
		mod.Close(ctx)
		return err
	}
	if size := b.cfg.Threads.StackSize; size > 0 {
		if in.threadStack, err = b.alloc.Alloc(size, 16); err != nil {
			mod.Close(ctx)
			return err
		}
	}
	if in.table != (tableRef{}) {
		if err := b.table.attach(ctx, in.table); err != nil {
			mod.Close(ctx)
			return err
		}
	}
	w.Data = in
	if in.stack != nil {
		w.Stack = in.stack
	}
	Logger().Debug("worker instance loaded", zap.String("instance", name))
	return nil
}

func (r *runner) Run(ctx context.Context, w *threads.Worker, req threads.SpawnRequest) (int32, error) {
	in, ok := w.Data.(*instance)
	if !ok {
		return 0, errors.NotInitialized(errors.PhaseThread, "worker instance")
	}
	mod := in.mod
	// pthread_ptr, is_main, is_runtime, can_block, default_stacksize, start_profiling
	if err := callPadded(ctx, mod, "_emscripten_thread_init", uint64(req.ThreadPtr), 0, 0, 1, 0, 0); err != nil {
		return 0, err
	}
	if in.threadStack != 0 {
		high := uint64(in.threadStack + r.b.cfg.Threads.StackSize)
		if err := callPadded(ctx, mod, "emscripten_stack_set_limits", high, uint64(in.threadStack)); err != nil {
			return 0, err
		}
		restore := "_emscripten_stack_restore"
		if mod.ExportedFunction(restore) == nil {
			restore = "stackRestore"
		}
		if err := callPadded(ctx, mod, restore, high); err != nil {
			return 0, err
		}
	}
	if err := callPadded(ctx, mod, "_emscripten_tls_init"); err != nil {
		return 0, err
	}

	res, err := r.b.table.CallIndirect(ctx, startSig, req.StartRoutine, []uint64{uint64(req.Arg)})
	if err != nil {
		return 0, err
	}
	code := api.DecodeI32(res[0])
	err = callPadded(ctx, mod, "_emscripten_thread_exit", uint64(uint32(code)))
	var exit *threads.Exit
	if err != nil && !stderrors.As(err, &exit) {
		return code, err
	}
	return code, nil
}

func (r *runner) Unload(ctx context.Context, w *threads.Worker) error {
	in, ok := w.Data.(*instance)
	if !ok {
		return nil
	}
	// the stacks stay allocated: the main instance may be running now
	if in.table != (tableRef{}) {
		r.b.table.detach(ctx, in.table)
	}
	w.Data = nil
	return in.mod.Close(ctx)
}

// CheckGuestMailbox lets the worker's guest run its queued calls.
func (r *runner) CheckGuestMailbox(ctx context.Context, w *threads.Worker) {
	in, ok := w.Data.(*instance)
	if !ok {
		return
	}
	if err := callPadded(ctx, in.mod, "_emscripten_check_mailbox"); err != nil {
		Logger().Warn("guest mailbox check failed", zap.Stringer("worker", w.ID), zap.Error(err))
	}
}

// callPadded calls the export name if the guest has it, passing the
// leading args it declares and zero for any it declares beyond them.
func callPadded(ctx context.Context, mod api.Module, name string, args ...uint64) error {
	fn := mod.ExportedFunction(name)
	if fn == nil {
		return nil
	}
	params := make([]uint64, len(fn.Definition().ParamTypes()))
	copy(params, args)
	_, err := fn.Call(ctx, params...)
	return err
}

var (
	_ threads.Runner         = (*runner)(nil)
	_ threads.MailboxChecker = (*runner)(nil)
)
