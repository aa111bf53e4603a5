package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/memory"
	"github.com/lovell/sharp-sub001/threads"
)

// opExit is the main-context operation a worker's exit is proxied as.
const opExit int32 = proxyOpBase - 1

const progName = "this.program"

func readCString(mem *memory.Manager, ptr uint32) (s string, err error) {
	if ptr == 0 {
		return "", nil
	}
	defer memory.Guard(&err)
	mem.Sync()
	return mem.Views().CString(ptr), nil
}

// str reads a guest string for a diagnostic; unreadable pointers print as
// the address.
func (b *Bridge) str(ptr uint32) string {
	s, err := readCString(b.mem, ptr)
	if err != nil {
		return fmt.Sprintf("<%#x>", ptr)
	}
	return s
}

// abort records a fatal error, reports it on stderr and unwinds the
// calling context. On a worker only that worker dies.
func (b *Bridge) abort(ctx context.Context, msg string) {
	err := errors.Fatal(msg, nil)
	b.setFatal(err)
	b.metrics.FatalErrors.Inc()
	Logger().Error("guest aborted",
		zap.String("message", msg),
		zap.Uint32("tid", threads.CurrentTID(ctx)))
	b.pool.Main().PrintErr(ctx, "Aborted("+msg+")")
	panic(err)
}

// procExit builds exit and proc_exit. On the main context the call unwinds
// with ExitError; on a worker the exit is handed to main, which stops the
// other threads, and the worker leaves through the thread exit path.
func (b *Bridge) procExit(name string) hostFunc {
	return hostFunc{
		name:   name,
		params: types(i32),
		fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
			code := api.DecodeI32(stack[0])
			if threads.Current(ctx) != nil {
				if _, err := b.pool.Main().Proxy(ctx, opExit, false, float64(code)); err != nil {
					Logger().Warn("exit not delivered to main", zap.Error(err))
				}
				threads.ExitThread(code)
			}
			b.setExit(code)
			panic(&ExitError{Code: code})
		}),
	}
}

// exitFromWorker runs on main for a worker's exit.
func (b *Bridge) exitFromWorker(ctx context.Context, args []float64) (float64, error) {
	code := int32(args[0])
	b.setExit(code)
	Logger().Info("guest exited from a worker", zap.Int32("code", code))
	go func() {
		if err := b.pool.TerminateAll(context.WithoutCancel(ctx)); err != nil {
			Logger().Warn("terminate workers", zap.Error(err))
		}
	}()
	return 0, nil
}

func (b *Bridge) procImports() []hostFunc {
	abort := func(name string) hostFunc {
		return hostFunc{name: name, fn: api.GoFunc(func(ctx context.Context, _ []uint64) {
			b.abort(ctx, "native code called abort()")
		})}
	}
	console := func(name string, stderr bool) hostFunc {
		return hostFunc{name: name, params: types(i32), fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
			s := b.str(api.DecodeU32(stack[0]))
			if stderr {
				b.pool.Main().PrintErr(ctx, s)
				return
			}
			b.pool.Main().Print(ctx, s)
		})}
	}
	memcpy := func(name string) hostFunc {
		return hostFunc{name: name, params: types(i32, i32, i32), fn: api.GoFunc(func(_ context.Context, stack []uint64) {
			dst, src, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
			if err := copyWithin(b.mem, dst, src, n); err != nil {
				panic(err)
			}
		})}
	}
	return []hostFunc{
		abort("abort"),
		abort("_abort_js"),
		{
			name:   "__assert_fail",
			params: types(i32, i32, i32, i32),
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				b.abort(ctx, fmt.Sprintf("Assertion failed: %s, at: %s,%d,%s",
					b.str(api.DecodeU32(stack[0])), b.str(api.DecodeU32(stack[1])),
					api.DecodeI32(stack[2]), b.str(api.DecodeU32(stack[3]))))
			}),
		},
		{
			name:   "emscripten_abort",
			params: types(i32),
			fn: api.GoFunc(func(ctx context.Context, stack []uint64) {
				b.abort(ctx, b.str(api.DecodeU32(stack[0])))
			}),
		},
		b.procExit("exit"),
		{
			name:    "emscripten_resize_heap",
			params:  types(i32),
			results: types(i32),
			fn: api.GoFunc(func(_ context.Context, stack []uint64) {
				if err := b.mem.Grow(uint64(api.DecodeU32(stack[0]))); err != nil {
					stack[0] = 0
					return
				}
				stack[0] = 1
			}),
		},
		{
			name:    "emscripten_get_heap_max",
			results: types(i32),
			fn: api.GoFunc(func(_ context.Context, stack []uint64) {
				stack[0] = api.EncodeU32(uint32(min(b.mem.MaxBytes(), 1<<32-memory.PageSize)))
			}),
		},
		{
			name:    "emscripten_get_now",
			results: types(f64),
			fn: api.GoFunc(func(_ context.Context, stack []uint64) {
				stack[0] = api.EncodeF64(float64(time.Since(b.started).Nanoseconds()) / 1e6)
			}),
		},
		{
			name:    "_emscripten_get_now_is_monotonic",
			results: types(i32),
			fn: api.GoFunc(func(_ context.Context, stack []uint64) {
				stack[0] = 1
			}),
		},
		{
			name:    "emscripten_date_now",
			results: types(f64),
			fn: api.GoFunc(func(_ context.Context, stack []uint64) {
				stack[0] = api.EncodeF64(float64(time.Now().UnixMicro()) / 1e3)
			}),
		},
		memcpy("emscripten_memcpy_js"),
		memcpy("_emscripten_memcpy_js"),
		console("emscripten_console_log", false),
		console("emscripten_console_warn", true),
		console("emscripten_console_error", true),
		{
			name:   "_emscripten_get_progname",
			params: types(i32, i32),
			fn: api.GoFunc(func(_ context.Context, stack []uint64) {
				n := api.DecodeU32(stack[1])
				if n == 0 {
					return
				}
				if err := writeCString(b.mem, api.DecodeU32(stack[0]), progName, n); err != nil {
					panic(err)
				}
			}),
		},
		{
			name:   "_tzset_js",
			params: types(i32, i32, i32, i32),
			fn: api.GoFunc(func(_ context.Context, stack []uint64) {
				if err := tzset(b.mem, time.Now(), api.DecodeU32(stack[0]), api.DecodeU32(stack[1]),
					api.DecodeU32(stack[2]), api.DecodeU32(stack[3])); err != nil {
					panic(err)
				}
			}),
		},
		{
			name:   "_gmtime_js",
			params: types(i64, i32),
			fn: api.GoFunc(func(_ context.Context, stack []uint64) {
				t := time.Unix(int64(stack[0]), 0).UTC()
				if err := writeTm(b.mem, api.DecodeU32(stack[1]), t); err != nil {
					panic(err)
				}
			}),
		},
		{
			name:   "_localtime_js",
			params: types(i64, i32),
			fn: api.GoFunc(func(_ context.Context, stack []uint64) {
				t := time.Unix(int64(stack[0]), 0).Local()
				if err := writeTm(b.mem, api.DecodeU32(stack[1]), t); err != nil {
					panic(err)
				}
			}),
		},
	}
}

func copyWithin(mem *memory.Manager, dst, src, n uint32) (err error) {
	defer memory.Guard(&err)
	mem.Sync()
	mem.Views().Copy(dst, src, n)
	return nil
}

func writeCString(mem *memory.Manager, ptr uint32, s string, max uint32) (err error) {
	defer memory.Guard(&err)
	mem.Sync()
	mem.Views().WriteCString(ptr, s, max)
	return nil
}

// struct tm on wasm32
const (
	tmSec    = 0
	tmMin    = 4
	tmHour   = 8
	tmMday   = 12
	tmMon    = 16
	tmYear   = 20
	tmWday   = 24
	tmYday   = 28
	tmIsdst  = 32
	tmGmtoff = 36
)

func writeTm(mem *memory.Manager, ptr uint32, t time.Time) (err error) {
	defer memory.Guard(&err)
	mem.Sync()
	v := mem.Views()
	v.SetI32(ptr+tmSec, int32(t.Second()))
	v.SetI32(ptr+tmMin, int32(t.Minute()))
	v.SetI32(ptr+tmHour, int32(t.Hour()))
	v.SetI32(ptr+tmMday, int32(t.Day()))
	v.SetI32(ptr+tmMon, int32(t.Month())-1)
	v.SetI32(ptr+tmYear, int32(t.Year()-1900))
	v.SetI32(ptr+tmWday, int32(t.Weekday()))
	v.SetI32(ptr+tmYday, int32(t.YearDay()-1))
	_, off := t.Zone()
	var dst int32
	if t.IsDST() {
		dst = 1
	}
	v.SetI32(ptr+tmIsdst, dst)
	v.SetI32(ptr+tmGmtoff, int32(off))
	return nil
}

// tzNameLen is the size of the zone name buffers _tzset_js fills.
const tzNameLen = 17

// tzset reports the local zone the way tzset(3) sees it: seconds west of
// UTC for standard time, whether daylight time exists, and both names.
func tzset(mem *memory.Manager, now time.Time, timezone, daylight, stdName, dstName uint32) (err error) {
	defer memory.Guard(&err)
	year := now.Year()
	winterName, winterOff := time.Date(year, time.January, 1, 0, 0, 0, 0, time.Local).Zone()
	summerName, summerOff := time.Date(year, time.July, 1, 0, 0, 0, 0, time.Local).Zone()
	std, dst := winterName, summerName
	if summerOff < winterOff {
		std, dst = summerName, winterName
	}
	mem.Sync()
	v := mem.Views()
	v.SetI32(timezone, -int32(min(winterOff, summerOff)))
	var hasDST int32
	if winterOff != summerOff {
		hasDST = 1
	}
	v.SetI32(daylight, hasDST)
	v.WriteCString(stdName, std, tzNameLen)
	v.WriteCString(dstName, dst, tzNameLen)
	return nil
}
