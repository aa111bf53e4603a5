package threads

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	wasmbridge "github.com/lovell/sharp-sub001"
	"github.com/lovell/sharp-sub001/memory"
	"github.com/lovell/sharp-sub001/vfs"
)

type entry func(ctx context.Context, arg uint32) int32

// goRunner runs start routines as Go functions looked up by index.
type goRunner struct {
	shared  bool
	entries map[uint32]entry

	loads   atomic.Int32
	unloads atomic.Int32
	slots   atomic.Uint32
	checks  atomic.Int32

	// when set, Load signals loading and then waits for loadGate
	loading  chan struct{}
	loadGate chan struct{}
}

func newGoRunner() *goRunner {
	return &goRunner{shared: true, entries: make(map[uint32]entry)}
}

func (r *goRunner) SharedMemory() bool { return r.shared }

func (r *goRunner) Load(ctx context.Context, w *Worker) error {
	r.loads.Add(1)
	if r.loadGate != nil {
		r.loading <- struct{}{}
		<-r.loadGate
	}
	// 16 KiB of stack per worker, below the data area the tests use
	slot := r.slots.Add(1)
	top := (slot + 1) * 16 << 10
	w.Stack = memory.NewStack(top-16<<10, top)
	return nil
}

func (r *goRunner) Run(ctx context.Context, w *Worker, req SpawnRequest) (int32, error) {
	return r.entries[req.StartRoutine](ctx, req.Arg), nil
}

func (r *goRunner) CheckGuestMailbox(ctx context.Context, w *Worker) {
	if Current(ctx) != w {
		panic("guest mailbox checked off its worker")
	}
	r.checks.Add(1)
}

func (r *goRunner) Unload(ctx context.Context, w *Worker) error {
	r.unloads.Add(1)
	return nil
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestPool(t *testing.T, r *goRunner, opts ...Option) *Pool {
	t.Helper()
	p := NewPool(r, opts...)
	t.Cleanup(func() {
		if err := p.TerminateAll(context.Background()); err != nil {
			t.Errorf("TerminateAll: %v", err)
		}
	})
	return p
}

func mustSpawn(t *testing.T, ctx context.Context, p *Pool, req SpawnRequest) {
	t.Helper()
	if errno := p.Spawn(ctx, req); errno != wasmbridge.ESUCCESS {
		t.Fatalf("Spawn(%#x) = %v", req.ThreadPtr, errno)
	}
}

func TestSpawnReusesWorker(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	r.entries[1] = func(ctx context.Context, arg uint32) int32 { return int32(arg * 2) }
	p := newTestPool(t, r)

	for i, ptr := range []uint32{0x100, 0x200, 0x300} {
		mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: ptr, StartRoutine: 1, Arg: uint32(i + 1)})
		code, err := p.Join(ctx, ptr)
		if err != nil {
			t.Fatalf("Join: %v", err)
		}
		if code != int32(2*(i+1)) {
			t.Fatalf("thread %d returned %d", i, code)
		}
	}

	st := p.Stats()
	if r.loads.Load() != 1 || st.Workers != 1 {
		t.Fatalf("loads = %d, workers = %d; want one worker reused", r.loads.Load(), st.Workers)
	}
	if st.Reused != 2 || st.Spawned != 3 || st.Running != 0 || st.Unused != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if w := p.Unused()[0]; w.State() != StateUnused || w.ThreadPtr() != 0 {
		t.Fatalf("returned worker state %v, thread %#x", w.State(), w.ThreadPtr())
	}
}

func TestCancelExitsThroughExitPath(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	started := make(chan struct{})
	var reachedEnd atomic.Bool
	r.entries[1] = func(ctx context.Context, arg uint32) int32 {
		close(started)
		for {
			CheckMailbox(ctx)
			if ctx.Err() != nil {
				reachedEnd.Store(true)
				return 0
			}
			time.Sleep(time.Millisecond)
		}
	}
	p := newTestPool(t, r)

	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1})
	<-started
	if errno := p.Cancel(0x100); errno != wasmbridge.ESUCCESS {
		t.Fatalf("Cancel = %v", errno)
	}
	code, err := p.Join(ctx, 0x100)
	if err != nil || code != Canceled {
		t.Fatalf("Join = %d, %v; want PTHREAD_CANCELED", code, err)
	}
	if reachedEnd.Load() {
		t.Fatalf("thread ran past its cancellation point")
	}
	if len(p.Running()) != 0 || len(p.Unused()) != 1 {
		t.Fatalf("running %d, unused %d", len(p.Running()), len(p.Unused()))
	}
	if errno := p.Cancel(0x100); errno != wasmbridge.ESRCH {
		t.Fatalf("Cancel after exit = %v", errno)
	}
}

func TestCancelBeforeStart(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	var ran atomic.Int32
	r.entries[1] = func(ctx context.Context, arg uint32) int32 {
		ran.Add(1)
		return 0
	}
	p := newTestPool(t, r)
	if err := p.Preallocate(ctx, 1); err != nil {
		t.Fatalf("Preallocate: %v", err)
	}

	// hold the idle worker so the run request queues behind the cancel
	gate := make(chan struct{})
	p.Unused()[0].Dispatch(func(context.Context) { <-gate })
	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1})
	if errno := p.Cancel(0x100); errno != wasmbridge.ESUCCESS {
		t.Fatalf("Cancel = %v", errno)
	}
	close(gate)
	if code, err := p.Join(ctx, 0x100); err != nil || code != Canceled {
		t.Fatalf("Join = %d, %v", code, err)
	}
	if ran.Load() != 0 {
		t.Fatalf("cancelled thread ran its start routine")
	}

	// the stale cancel message must not hit the next thread on this worker
	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x200, StartRoutine: 1})
	if code, err := p.Join(ctx, 0x200); err != nil || code != 0 || ran.Load() != 1 {
		t.Fatalf("next thread: code %d, err %v, ran %d", code, err, ran.Load())
	}
}

func TestExitThread(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	r.entries[1] = func(ctx context.Context, arg uint32) int32 {
		ExitThread(7)
		return 0
	}
	p := newTestPool(t, r)

	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1})
	if code, err := p.Join(ctx, 0x100); err != nil || code != 7 {
		t.Fatalf("Join = %d, %v", code, err)
	}
}

// wrappedExitRunner reports the exit inside an error, the way wazero
// surfaces a host function panic.
type wrappedExitRunner struct{ *goRunner }

func (r wrappedExitRunner) Run(ctx context.Context, w *Worker, req SpawnRequest) (int32, error) {
	return 0, wrapErr{&Exit{Code: 11}}
}

type wrapErr struct{ err error }

func (e wrapErr) Error() string { return "wasm error: " + e.err.Error() }
func (e wrapErr) Unwrap() error { return e.err }

func TestExitWrappedInRunnerError(t *testing.T) {
	ctx := testContext(t)
	p := NewPool(wrappedExitRunner{newGoRunner()})
	defer p.TerminateAll(context.Background())

	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100})
	if code, err := p.Join(ctx, 0x100); err != nil || code != 11 {
		t.Fatalf("Join = %d, %v", code, err)
	}
}

func TestSpawnFailures(t *testing.T) {
	ctx := testContext(t)

	r := newGoRunner()
	r.shared = false
	p := newTestPool(t, r)
	if errno := p.Spawn(ctx, SpawnRequest{ThreadPtr: 0x100}); errno != wasmbridge.EAGAIN {
		t.Fatalf("spawn without shared memory = %v", errno)
	}
	if err := p.Preallocate(ctx, 2); err == nil {
		t.Fatalf("Preallocate without shared memory succeeded")
	}

	r = newGoRunner()
	gate := make(chan struct{})
	r.entries[1] = func(ctx context.Context, arg uint32) int32 {
		<-gate
		return 0
	}
	p = newTestPool(t, r, WithMaxWorkers(1))
	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1})
	if errno := p.Spawn(ctx, SpawnRequest{ThreadPtr: 0x200, StartRoutine: 1}); errno != wasmbridge.EAGAIN {
		t.Fatalf("spawn past the limit = %v", errno)
	}
	if errno := p.Spawn(ctx, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1}); errno != wasmbridge.EINVAL {
		t.Fatalf("spawn over a live thread = %v", errno)
	}
	close(gate)
	if _, err := p.Join(ctx, 0x100); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := p.Join(ctx, 0x100); err != wasmbridge.ESRCH {
		t.Fatalf("second Join = %v", err)
	}
}

func TestPanicKillsOnlyThatWorker(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	r.entries[1] = func(ctx context.Context, arg uint32) int32 { panic("boom") }
	r.entries[2] = func(ctx context.Context, arg uint32) int32 { return 5 }
	p := newTestPool(t, r)

	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1})
	_, err := p.Join(ctx, 0x100)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Join of a panicking thread = %v", err)
	}
	st := p.Stats()
	if st.Killed != 1 || st.Workers != 0 {
		t.Fatalf("stats after kill = %+v", st)
	}

	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x200, StartRoutine: 2})
	if code, err := p.Join(ctx, 0x200); err != nil || code != 5 {
		t.Fatalf("pool unusable after a kill: %d, %v", code, err)
	}
	if r.loads.Load() != 2 {
		t.Fatalf("loads = %d, want a fresh worker", r.loads.Load())
	}
}

func TestDetach(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	done := make(chan struct{})
	r.entries[1] = func(ctx context.Context, arg uint32) int32 {
		defer close(done)
		return 0
	}
	p := newTestPool(t, r)

	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1, Detached: true})
	if _, err := p.Join(ctx, 0x100); err != wasmbridge.EINVAL {
		t.Fatalf("Join of a detached thread = %v", err)
	}
	<-done
	for len(p.Unused()) == 0 {
		p.Main().Drain(ctx)
		time.Sleep(time.Millisecond)
	}
	if _, err := p.Join(ctx, 0x100); err != wasmbridge.ESRCH {
		t.Fatalf("detached record kept: %v", err)
	}
}

func TestProxyToMain(t *testing.T) {
	ctx := testContext(t)
	mem := memory.NewManager(memory.NewSliceBacking(2, 2))
	r := newGoRunner()
	p := newTestPool(t, r, WithMemory(mem))

	var onMain atomic.Bool
	p.Main().Register(1, func(ctx context.Context, args []float64) (float64, error) {
		onMain.Store(Current(ctx) == nil)
		var sum float64
		for _, a := range args {
			sum += a
		}
		return sum, nil
	})
	r.entries[1] = func(ctx context.Context, arg uint32) int32 {
		w := Current(ctx)
		sp := w.Stack.Save()
		v, err := p.Main().Proxy(ctx, 1, true, 1.5, 2.5, float64(arg))
		if err != nil || w.Stack.Save() != sp {
			return -2
		}
		if _, err := p.Main().Proxy(ctx, 99, true); err == nil {
			return -3
		}
		return int32(v)
	}
	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1, Arg: 6})
	code, err := p.Join(ctx, 0x100)
	if err != nil || code != 10 {
		t.Fatalf("Join = %d, %v", code, err)
	}
	if !onMain.Load() {
		t.Fatalf("proxied op ran off the main context")
	}
	if got := p.Stats().Proxied; got != 2 {
		t.Fatalf("proxied = %d", got)
	}

	// on main the call is direct
	if v, err := p.Main().Proxy(ctx, 1, true, 1, 2); err != nil || v != 3 {
		t.Fatalf("direct Proxy = %v, %v", v, err)
	}
}

func TestWorkerMessagesReachMain(t *testing.T) {
	ctx := testContext(t)
	var stdout, stderr bytes.Buffer
	r := newGoRunner()
	p := newTestPool(t, r, WithOutput(&stdout, &stderr))

	var handled []uint64
	p.Main().Handle("record", func(ctx context.Context, w *Worker, args []uint64) {
		handled = append(handled, args...)
	})
	var asyncArgs []float64
	p.Main().Register(3, func(ctx context.Context, args []float64) (float64, error) {
		asyncArgs = args
		return 0, nil
	})
	r.entries[1] = func(ctx context.Context, arg uint32) int32 {
		p.Main().Print(ctx, "hello")
		p.Main().PrintErr(ctx, "oops")
		p.Main().CallHandler(ctx, "record", 4, 2)
		p.Main().Proxy(ctx, 3, false, 8)
		return 0
	}
	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1})
	if _, err := p.Join(ctx, 0x100); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if stdout.String() != "hello\n" || stderr.String() != "oops\n" {
		t.Fatalf("stdout %q, stderr %q", stdout.String(), stderr.String())
	}
	if len(handled) != 2 || handled[0] != 4 || len(asyncArgs) != 1 || asyncArgs[0] != 8 {
		t.Fatalf("handler args %v, async args %v", handled, asyncArgs)
	}
}

func TestSpawnFromWorker(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	p := newTestPool(t, r)

	r.entries[2] = func(ctx context.Context, arg uint32) int32 { return int32(arg) }
	r.entries[1] = func(ctx context.Context, arg uint32) int32 {
		if errno := p.Spawn(ctx, SpawnRequest{ThreadPtr: 0x200, StartRoutine: 2, Arg: 33}); errno != 0 {
			return -int32(errno)
		}
		code, err := p.Join(ctx, 0x200)
		if err != nil {
			return -1
		}
		return code + 1
	}
	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1})
	if code, err := p.Join(ctx, 0x100); err != nil || code != 34 {
		t.Fatalf("Join = %d, %v", code, err)
	}
	if p.Stats().Workers != 2 {
		t.Fatalf("workers = %d", p.Stats().Workers)
	}
}

func TestJoinSelf(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	p := newTestPool(t, r)
	var got error
	r.entries[1] = func(ctx context.Context, arg uint32) int32 {
		_, got = p.Join(ctx, 0x100)
		return 0
	}
	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1})
	p.Join(ctx, 0x100)
	if got != wasmbridge.EDEADLK {
		t.Fatalf("self join = %v", got)
	}
}

func TestDispatchToIdleWorker(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	p := newTestPool(t, r)
	if err := p.Preallocate(ctx, 3); err != nil {
		t.Fatalf("Preallocate: %v", err)
	}
	if r.loads.Load() != 3 || len(p.Unused()) != 3 {
		t.Fatalf("loads %d, unused %d", r.loads.Load(), len(p.Unused()))
	}
	w := p.Unused()[0]
	got := make(chan *Worker, 1)
	w.Dispatch(func(ctx context.Context) { got <- Current(ctx) })
	select {
	case cur := <-got:
		if cur != w {
			t.Fatalf("dispatched call ran on %v", cur)
		}
	case <-ctx.Done():
		t.Fatalf("dispatched call never ran")
	}
}

func TestTerminateAll(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	r.entries[1] = func(ctx context.Context, arg uint32) int32 {
		<-ctx.Done()
		return 0
	}
	p := NewPool(r)
	if err := p.Preallocate(ctx, 2); err != nil {
		t.Fatalf("Preallocate: %v", err)
	}
	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1})
	if err := p.TerminateAll(ctx); err != nil {
		t.Fatalf("TerminateAll: %v", err)
	}
	if r.unloads.Load() != 2 {
		t.Fatalf("unloads = %d", r.unloads.Load())
	}
	if code, err := p.Join(ctx, 0x100); err != nil || code != Canceled {
		t.Fatalf("Join after terminate = %d, %v", code, err)
	}
	if errno := p.Spawn(ctx, SpawnRequest{ThreadPtr: 0x200, StartRoutine: 1}); errno != wasmbridge.EAGAIN {
		t.Fatalf("spawn after terminate = %v", errno)
	}
}

func TestTerminateRightAfterSpawn(t *testing.T) {
	for i := 0; i < 20; i++ {
		ctx := testContext(t)
		r := newGoRunner()
		r.entries[1] = func(ctx context.Context, arg uint32) int32 {
			<-ctx.Done()
			return 0
		}
		p := NewPool(r)
		mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1})

		tctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.TerminateAll(tctx)
		cancel()
		if err != nil {
			t.Fatalf("round %d: TerminateAll: %v", i, err)
		}
		if code, err := p.Join(ctx, 0x100); err != nil || code != Canceled {
			t.Fatalf("round %d: Join = %d, %v", i, code, err)
		}
	}
}

func TestTerminateDuringPreallocate(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	r.loading = make(chan struct{}, 1)
	r.loadGate = make(chan struct{})
	p := NewPool(r)

	done := make(chan error, 1)
	go func() { done <- p.Preallocate(ctx, 1) }()
	<-r.loading
	if err := p.TerminateAll(ctx); err != nil {
		t.Fatalf("TerminateAll: %v", err)
	}
	close(r.loadGate)

	if err := <-done; err == nil {
		t.Fatalf("Preallocate succeeded on a terminated pool")
	}
	if st := p.Stats(); st.Workers != 0 || st.Unused != 0 {
		t.Fatalf("stats after terminate = %+v", st)
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.unloads.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("late worker never unloaded")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSpawnSameThreadConcurrently(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	gate := make(chan struct{})
	r.entries[1] = func(ctx context.Context, arg uint32) int32 {
		<-gate
		return int32(arg)
	}
	p := newTestPool(t, r)
	if err := p.Preallocate(ctx, 4); err != nil {
		t.Fatalf("Preallocate: %v", err)
	}

	const n = 4
	errnos := make([]wasmbridge.Errno, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errnos[i] = p.Spawn(ctx, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1, Arg: 7})
		}()
	}
	wg.Wait()

	var ok int
	for i, errno := range errnos {
		switch errno {
		case wasmbridge.ESUCCESS:
			ok++
		case wasmbridge.EINVAL:
		default:
			t.Fatalf("spawn %d = %v", i, errno)
		}
	}
	if ok != 1 {
		t.Fatalf("%d spawns of one thread succeeded", ok)
	}
	if st := p.Stats(); st.Running != 1 || st.Unused != n-1 {
		t.Fatalf("stats = %+v", st)
	}

	close(gate)
	if code, err := p.Join(ctx, 0x100); err != nil || code != 7 {
		t.Fatalf("Join = %d, %v", code, err)
	}
}

// A sync call abandoned by its caller still sees the original arguments
// after the caller's stack frame is reused.
func TestAbandonedProxyKeepsArgs(t *testing.T) {
	ctx := testContext(t)
	mem := memory.NewManager(memory.NewSliceBacking(2, 2))
	r := newGoRunner()
	p := newTestPool(t, r, WithMemory(mem))

	got := make(chan []float64, 1)
	p.Main().Register(1, func(ctx context.Context, args []float64) (float64, error) {
		got <- append([]float64(nil), args...)
		return 0, nil
	})
	clobbered := make(chan struct{})
	r.entries[1] = func(ctx context.Context, arg uint32) int32 {
		w := Current(ctx)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := p.Main().Proxy(cctx, 1, true, 1.5, 2.5); err == nil {
			return -1
		}
		sp := w.Stack.Save()
		ptr, err := w.Stack.Alloc(16, 8)
		if err != nil {
			return -2
		}
		if err := writeWords(mem, ptr, []float64{-1, -1}); err != nil {
			return -3
		}
		w.Stack.Restore(sp)
		close(clobbered)
		return 0
	}
	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1})
	<-clobbered
	if code, err := p.Join(ctx, 0x100); err != nil || code != 0 {
		t.Fatalf("Join = %d, %v", code, err)
	}

	select {
	case args := <-got:
		if len(args) != 2 || args[0] != 1.5 || args[1] != 2.5 {
			t.Fatalf("proxied args = %v", args)
		}
	default:
		t.Fatalf("abandoned call never reached main")
	}
}

const opPwrite = 2

// Three threads write 1 MiB each at disjoint offsets of one MEMFS file
// through a proxied pwrite; the file must come back intact.
func TestConcurrentDisjointWrites(t *testing.T) {
	ctx := testContext(t)
	const chunk = 1 << 20
	const dataBase = 1 << 20

	mem := memory.NewManager(memory.NewSliceBacking(64, 64))
	fs, err := vfs.New(vfs.Options{})
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}
	st, err := fs.Open("/tmp/out", vfs.O_CREAT|vfs.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	r := newGoRunner()
	p := newTestPool(t, r, WithMemory(mem))
	p.Main().Register(opPwrite, func(ctx context.Context, args []float64) (float64, error) {
		s, err := fs.GetStream(int32(args[0]))
		if err != nil {
			return 0, err
		}
		buf := mem.Views().Read(uint32(args[1]), uint32(args[2]))
		pos := int64(args[3])
		n, err := fs.Write(s, buf, &pos)
		return float64(n), err
	})

	var mu sync.Mutex
	var failures []string
	r.entries[1] = func(ctx context.Context, i uint32) int32 {
		src := uint32(dataBase) + i*chunk
		v := mem.Views()
		for j := uint32(0); j < chunk; j++ {
			v.SetU8(src+j, byte(i+1)^byte(j))
		}
		n, err := p.Main().Proxy(ctx, opPwrite, true,
			float64(st.FD), float64(src), chunk, float64(i*chunk))
		if err != nil || n != chunk {
			mu.Lock()
			failures = append(failures, fmt.Sprint(n, err))
			mu.Unlock()
			return 1
		}
		return 0
	}

	for i := uint32(0); i < 3; i++ {
		mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100 * (i + 1), StartRoutine: 1, Arg: i})
	}
	for i := uint32(0); i < 3; i++ {
		if code, err := p.Join(ctx, 0x100*(i+1)); err != nil || code != 0 {
			t.Fatalf("thread %d: %d, %v (%v)", i, code, err, failures)
		}
	}

	data, err := fs.ReadFile("/tmp/out")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != 3*chunk {
		t.Fatalf("file is %d bytes", len(data))
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < chunk; j++ {
			if want := byte(i+1) ^ byte(j); data[i*chunk+j] != want {
				t.Fatalf("byte %d of chunk %d = %#x, want %#x", j, i, data[i*chunk+j], want)
			}
		}
	}
}

func TestKillInterruptsRunningThread(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	started := make(chan struct{})
	r.entries[1] = func(ctx context.Context, arg uint32) int32 {
		close(started)
		<-ctx.Done()
		return 0
	}
	p := newTestPool(t, r)
	mustSpawn(t, ctx, p, SpawnRequest{ThreadPtr: 0x100, StartRoutine: 1})
	<-started
	w, ok := p.Lookup(0x100)
	if !ok {
		t.Fatalf("running thread not found")
	}
	cause := stderrors.New("killed by test")
	p.Kill(w, cause)
	if _, err := p.Join(ctx, 0x100); err != cause {
		t.Fatalf("Join = %v", err)
	}
	if w.State() != StateTerminated {
		t.Fatalf("state = %v", w.State())
	}
}

func TestCheckMailboxReachesGuest(t *testing.T) {
	ctx := testContext(t)
	r := newGoRunner()
	p := newTestPool(t, r)
	if err := p.Preallocate(ctx, 1); err != nil {
		t.Fatalf("Preallocate: %v", err)
	}
	w := p.Unused()[0]
	w.Mailbox().Post(Message{Kind: MsgCheckMailbox})
	done := make(chan struct{})
	w.Dispatch(func(context.Context) { close(done) })
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("worker never drained its mailbox")
	}
	if r.checks.Load() != 1 {
		t.Fatalf("guest mailbox checks = %d, want 1", r.checks.Load())
	}

	var mainChecks int
	p.Main().OnCheckMailbox(func(ctx context.Context) {
		if Current(ctx) != nil {
			t.Errorf("main hook ran on a worker")
		}
		mainChecks++
	})
	p.Main().Post(Message{Kind: MsgCheckMailbox})
	p.Main().Drain(ctx)
	if mainChecks != 1 {
		t.Fatalf("main checks = %d", mainChecks)
	}
}
