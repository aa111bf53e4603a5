package bridge

import (
	"context"
	"runtime"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmbridge "github.com/lovell/sharp-sub001"
	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/memory"
	"github.com/lovell/sharp-sub001/threads"
)

// offset of pthread_attr_t's detach state on wasm32 musl
const attrDetachState = 12

func noop(name string, params ...api.ValueType) hostFunc {
	return hostFunc{name: name, params: params, fn: api.GoFunc(func(context.Context, []uint64) {})}
}

// threadImports back emscripten's pthread library with the worker pool.
func (b *Bridge) threadImports() []hostFunc {
	pool := b.pool
	return []hostFunc{
		{
			name:    "__pthread_create_js",
			params:  types(i32, i32, i32, i32),
			results: types(i32),
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				ptr, attr := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
				req := threads.SpawnRequest{
					ThreadPtr:    ptr,
					StartRoutine: api.DecodeU32(stack[2]),
					Arg:          api.DecodeU32(stack[3]),
				}
				if attr != 0 {
					detached, err := b.mem.ReadU32(attr + attrDetachState)
					if err != nil {
						stack[0] = api.EncodeI32(int32(wasmbridge.EFAULT))
						return
					}
					req.Detached = detached != 0
				}
				stack[0] = api.EncodeI32(int32(pool.Spawn(ctx, req)))
			}),
		},
		noop("_emscripten_thread_cleanup", i32),
		noop("_emscripten_thread_set_strongref", i32),
		noop("_emscripten_thread_mailbox_await", i32),
		noop("emscripten_check_blocking_allowed"),
		{
			name:   "_emscripten_notify_mailbox_postmessage",
			params: types(i32, i32, i32),
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				b.notifyMailbox(api.DecodeU32(stack[0]))
			}),
		},
		{
			name:   "__emscripten_init_main_thread_js",
			params: types(i32),
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				tb := api.DecodeU32(stack[0])
				b.mainThread.Store(tb)
				in := b.instanceFor(ctx)
				if in == nil {
					return
				}
				// pthread_ptr, is_main, is_runtime, can_block, default_stacksize, start_profiling
				err := callPadded(ctx, in.mod, "_emscripten_thread_init",
					uint64(tb), 1, 1, 1, uint64(b.cfg.Threads.StackSize), 0)
				if err != nil {
					panic(err)
				}
			}),
		},
		{
			name:    "emscripten_num_logical_cores",
			results: types(i32),
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				stack[0] = api.EncodeI32(int32(runtime.NumCPU()))
			}),
		},
		{
			name:    "_emscripten_default_pthread_stack_size",
			results: types(i32),
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				stack[0] = api.EncodeU32(b.cfg.Threads.StackSize)
			}),
		},
		{
			name:    "_emscripten_run_on_main_thread_js",
			params:  types(i32, i32, i32, i32, i32),
			results: types(f64),
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				op, sync := api.DecodeI32(stack[0]), stack[2] != 0
				n, argsPtr := api.DecodeU32(stack[3]), api.DecodeU32(stack[4])
				args, err := readWords(b.mem, argsPtr, n)
				if err != nil {
					panic(err)
				}
				r, err := pool.Main().Proxy(ctx, op, sync, args...)
				if err != nil {
					panic(err)
				}
				stack[0] = api.EncodeF64(r)
			}),
		},
		{
			name:   "_emscripten_yield",
			params: types(f64),
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				if threads.Current(ctx) == nil {
					pool.Main().Drain(ctx)
					return
				}
				threads.CheckMailbox(ctx)
			}),
		},
		{
			name: "emscripten_unwind_to_js_event_loop",
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				if threads.Current(ctx) == nil {
					panic(errors.Unsupported(errors.PhaseThread, "unwinding the main thread"))
				}
				threads.ExitThread(0)
			}),
		},
	}
}

// readWords reads n f64 words at ptr.
func readWords(mem *memory.Manager, ptr, n uint32) (args []float64, err error) {
	defer memory.Guard(&err)
	mem.Sync()
	v := mem.Views()
	args = make([]float64, n)
	for i := range n {
		args[i] = v.F64(ptr + 8*i)
	}
	return args, nil
}

// notifyMailbox tells the thread at target to look at its guest mailbox.
func (b *Bridge) notifyMailbox(target uint32) {
	if target != 0 && target != b.mainThread.Load() {
		if w, ok := b.pool.Lookup(target); ok {
			w.Mailbox().Post(threads.Message{Kind: threads.MsgCheckMailbox, Worker: w})
			return
		}
		Logger().Debug("mailbox notification for unknown thread", zap.Uint32("thread", target))
	}
	b.pool.Main().Post(threads.Message{Kind: threads.MsgCheckMailbox})
}
