package threads

import (
	"context"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	wasmbridge "github.com/lovell/sharp-sub001"
	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/memory"
)

// DefaultMaxWorkers bounds the pool when no option says otherwise.
const DefaultMaxWorkers = 64

const joinPoll = 5 * time.Millisecond

// Option configures a Pool.
type Option func(*Pool)

// WithMaxWorkers caps the number of live workers. Spawning past it fails
// with EAGAIN.
func WithMaxWorkers(n int) Option {
	return func(p *Pool) { p.maxWorkers = n }
}

// WithMemory gives the pool the shared linear memory, used to carry proxied
// call arguments on worker stacks.
func WithMemory(m *memory.Manager) Option {
	return func(p *Pool) { p.mem = m }
}

// WithOutput sets where worker prints end up.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(p *Pool) { p.stdout, p.stderr = stdout, stderr }
}

// thread is the join record of one spawned pthread.
type thread struct {
	worker   *Worker
	detached bool
	joining  bool
	done     chan struct{}
	code     int32
	err      error
}

// Pool owns all workers.
type Pool struct {
	runner     Runner
	mem        *memory.Manager
	main       *Main
	maxWorkers int

	stdout, stderr io.Writer

	ctx  context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	all     []*Worker
	unused  []*Worker
	running map[uint32]*Worker
	threads map[uint32]*thread
	nextTID uint32
	closed  bool

	spawned  atomic.Uint64
	reused   atomic.Uint64
	canceled atomic.Uint64
	killed   atomic.Uint64
	proxied  atomic.Uint64
}

// NewPool creates an empty pool driven by runner.
func NewPool(runner Runner, opts ...Option) *Pool {
	p := &Pool{
		runner:     runner,
		maxWorkers: DefaultMaxWorkers,
		running:    make(map[uint32]*Worker),
		threads:    make(map[uint32]*thread),
		nextTID:    MainTID + 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.stop = context.WithCancel(context.Background())
	p.main = newMain(p, p.stdout, p.stderr)
	return p
}

// Main returns the pool's main context.
func (p *Pool) Main() *Main { return p.main }

// Memory returns the shared memory, if configured.
func (p *Pool) Memory() *memory.Manager { return p.mem }

// newLoadedWorker starts a goroutine for a fresh worker and waits until the
// runner has loaded it.
func (p *Pool) newLoadedWorker(ctx context.Context) (*Worker, error) {
	w := newWorker(p)
	go w.loop(p.ctx)
	w.mailbox.Post(Message{Kind: MsgLoad, Worker: w})
	select {
	case err := <-w.loaded:
		if err != nil {
			w.stop()
			return nil, err
		}
	case <-ctx.Done():
		w.stop()
		return nil, ctx.Err()
	}
	return w, nil
}

// reserve claims room for one more worker.
func (p *Pool) reserve() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.all) >= p.maxWorkers {
		return false
	}
	p.all = append(p.all, nil)
	return true
}

// settle replaces one reservation with w, or drops it when w is nil. With
// park set, w also goes on the unused list. A pool terminated while w was
// loading has no reservation left: w is stopped and settle reports false.
func (p *Pool) settle(w *Worker, park bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.Index(p.all, nil)
	if p.closed || i < 0 {
		if w != nil {
			w.state = StateTerminated
			w.stop()
		}
		return false
	}
	if w == nil {
		p.all = slices.Delete(p.all, i, i+1)
		return true
	}
	p.all[i] = w
	if park {
		p.unused = append(p.unused, w)
	}
	return true
}

// Preallocate loads n workers in parallel and parks them as unused.
func (p *Pool) Preallocate(ctx context.Context, n int) error {
	if !p.runner.SharedMemory() {
		return errors.New(errors.PhaseThread, errors.KindThreadsUnsupported).
			Detail("linear memory is not shared").Build()
	}
	g, gctx := errgroup.WithContext(ctx)
	for range n {
		if !p.reserve() {
			break
		}
		g.Go(func() error {
			w, err := p.newLoadedWorker(gctx)
			if !p.settle(w, err == nil) && err == nil {
				return errors.New(errors.PhaseThread, errors.KindNotInitialized).
					Detail("pool terminated during preallocation").Build()
			}
			return err
		})
	}
	return g.Wait()
}

// acquire pops an unused worker or loads a new one.
func (p *Pool) acquire(ctx context.Context) (*Worker, bool) {
	p.mu.Lock()
	if n := len(p.unused); n > 0 {
		w := p.unused[n-1]
		p.unused = p.unused[:n-1]
		p.mu.Unlock()
		p.reused.Add(1)
		return w, true
	}
	p.mu.Unlock()

	if !p.reserve() {
		Logger().Warn("thread pool exhausted", zap.Int("max", p.maxWorkers))
		return nil, false
	}
	w, err := p.newLoadedWorker(ctx)
	if !p.settle(w, false) {
		return nil, false
	}
	if err != nil {
		Logger().Error("failed to load worker", zap.Error(err))
		return nil, false
	}
	return w, true
}

// Spawn starts req on a worker. Failure is reported as an errno, never a
// panic: EAGAIN when memory is not shared or no worker can be had.
// Called from a worker, the request is proxied to the main context.
func (p *Pool) Spawn(ctx context.Context, req SpawnRequest) wasmbridge.Errno {
	if w := Current(ctx); w != nil {
		reply := make(chan wasmbridge.Errno, 1)
		p.main.Post(Message{Kind: MsgSpawnThread, Worker: w, Spawn: req, reply: reply})
		select {
		case errno := <-reply:
			return errno
		case <-ctx.Done():
			return wasmbridge.EINTR
		}
	}
	return p.spawn(ctx, req)
}

func (p *Pool) spawn(ctx context.Context, req SpawnRequest) wasmbridge.Errno {
	if !p.runner.SharedMemory() {
		Logger().Warn("pthread_create without shared memory")
		return wasmbridge.EAGAIN
	}
	if req.ThreadPtr == 0 {
		return wasmbridge.EINVAL
	}
	p.mu.Lock()
	_, busy := p.threads[req.ThreadPtr]
	p.mu.Unlock()
	if busy {
		return wasmbridge.EINVAL
	}

	w, ok := p.acquire(ctx)
	if !ok {
		return wasmbridge.EAGAIN
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		w.stop()
		return wasmbridge.EAGAIN
	}
	if _, busy := p.threads[req.ThreadPtr]; busy {
		w.state = StateUnused
		p.unused = append(p.unused, w)
		p.mu.Unlock()
		return wasmbridge.EINVAL
	}
	w.canceled.Store(false)
	w.state = StateRunning
	w.tid = p.nextTID
	w.threadPtr = req.ThreadPtr
	p.nextTID++
	p.running[req.ThreadPtr] = w
	p.threads[req.ThreadPtr] = &thread{worker: w, detached: req.Detached, done: make(chan struct{})}
	p.mu.Unlock()

	p.spawned.Add(1)
	w.mailbox.Post(Message{Kind: MsgRun, Worker: w, Spawn: req})
	w.logger().Debug("thread spawned", zap.Uint32("thread", req.ThreadPtr), zap.Uint32("start", req.StartRoutine))
	return wasmbridge.ESUCCESS
}

// Cancel requests cancellation of the thread at threadPtr. The thread exits
// with Canceled at its next cancellation point.
func (p *Pool) Cancel(threadPtr uint32) wasmbridge.Errno {
	p.mu.Lock()
	w, ok := p.running[threadPtr]
	p.mu.Unlock()
	if !ok {
		return wasmbridge.ESRCH
	}
	w.canceled.Store(true)
	w.mailbox.Post(Message{Kind: MsgCancel, Worker: w})
	p.canceled.Add(1)
	return wasmbridge.ESUCCESS
}

// Detach marks a thread so nobody joins it; its record goes away on exit.
func (p *Pool) Detach(threadPtr uint32) wasmbridge.Errno {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.threads[threadPtr]
	if !ok {
		return wasmbridge.ESRCH
	}
	if t.detached || t.joining {
		return wasmbridge.EINVAL
	}
	t.detached = true
	select {
	case <-t.done:
		delete(p.threads, threadPtr)
	default:
	}
	return wasmbridge.ESUCCESS
}

// finish ends the running thread of w and fills in its join record.
// Callers hold p.mu.
func (p *Pool) finish(w *Worker, code int32, err error) {
	ptr := w.threadPtr
	if p.running[ptr] == w {
		delete(p.running, ptr)
	}
	if t, ok := p.threads[ptr]; ok && t.worker == w {
		t.code, t.err = code, err
		close(t.done)
		if t.detached {
			delete(p.threads, ptr)
		}
	}
	w.threadPtr = 0
	w.tid = 0
}

// Cleanup returns w to the unused list after its thread exited normally.
func (p *Pool) Cleanup(w *Worker, code int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.state != StateRunning {
		return
	}
	p.finish(w, code, nil)
	if p.closed {
		w.state = StateTerminated
		w.stop()
		return
	}
	w.state = StateUnused
	p.unused = append(p.unused, w)
}

// Kill terminates w. A thread still running on it is interrupted; its
// joiner gets cause. The rest of the pool is unaffected.
func (p *Pool) Kill(w *Worker, cause error) {
	p.mu.Lock()
	if w.state == StateTerminated {
		p.mu.Unlock()
		return
	}
	if w.state == StateRunning {
		if cause == nil {
			cause = errors.New(errors.PhaseThread, errors.KindFatal).Detail("thread killed").Build()
		}
		p.finish(w, Canceled, cause)
	}
	w.state = StateTerminated
	for i, x := range p.all {
		if x == w {
			p.all = append(p.all[:i], p.all[i+1:]...)
			break
		}
	}
	for i, x := range p.unused {
		if x == w {
			p.unused = append(p.unused[:i], p.unused[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	p.killed.Add(1)
	w.interrupt()
	w.stop()
}

// Join waits for the thread at threadPtr and returns its exit code. The
// caller's own mailbox keeps being served while it waits: the main context
// handles worker messages, a worker stays cancellable.
func (p *Pool) Join(ctx context.Context, threadPtr uint32) (int32, error) {
	self := Current(ctx)
	p.mu.Lock()
	if self != nil && self.threadPtr == threadPtr {
		p.mu.Unlock()
		return 0, wasmbridge.EDEADLK
	}
	t, ok := p.threads[threadPtr]
	if !ok {
		p.mu.Unlock()
		return 0, wasmbridge.ESRCH
	}
	if t.detached || t.joining {
		p.mu.Unlock()
		return 0, wasmbridge.EINVAL
	}
	t.joining = true
	p.mu.Unlock()

	for {
		if self == nil {
			p.main.Drain(ctx)
		} else {
			CheckMailbox(ctx)
		}
		select {
		case <-t.done:
			p.mu.Lock()
			delete(p.threads, threadPtr)
			p.mu.Unlock()
			return t.code, t.err
		default:
		}
		var wake <-chan struct{}
		if self != nil {
			wake = self.mailbox.Wait()
		} else {
			wake = p.main.mailbox.Wait()
		}
		// the main mailbox can have a second reader that takes the wakeup
		poll := time.NewTimer(joinPoll)
		select {
		case <-t.done:
		case <-wake:
		case <-poll.C:
		case <-ctx.Done():
			poll.Stop()
			p.mu.Lock()
			t.joining = false
			p.mu.Unlock()
			return 0, ctx.Err()
		}
		poll.Stop()
	}
}

// TerminateAll stops every worker and waits for them to unload. Running
// threads are interrupted and their joiners released with Canceled.
func (p *Pool) TerminateAll(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	workers := make([]*Worker, 0, len(p.all))
	for _, w := range p.all {
		if w != nil {
			workers = append(workers, w)
		}
	}
	for _, w := range workers {
		if w.state == StateRunning {
			p.finish(w, Canceled, nil)
		}
		w.state = StateTerminated
	}
	p.all, p.unused = nil, nil
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			w.interrupt()
			w.stop()
			select {
			case <-w.done:
				return w.unload
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	err := g.Wait()
	p.stop()
	return err
}

// Running returns the workers that have a thread bound.
func (p *Pool) Running() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Worker, 0, len(p.running))
	for _, w := range p.running {
		out = append(out, w)
	}
	return out
}

// Unused returns the idle workers available for reuse.
func (p *Pool) Unused() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Worker(nil), p.unused...)
}

// Lookup returns the worker running threadPtr.
func (p *Pool) Lookup(threadPtr uint32) (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.running[threadPtr]
	return w, ok
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers  int
	Running  int
	Unused   int
	Spawned  uint64
	Reused   uint64
	Canceled uint64
	Killed   uint64
	Proxied  uint64
}

// Stats returns the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{Workers: len(p.all), Running: len(p.running), Unused: len(p.unused)}
	p.mu.Unlock()
	s.Spawned = p.spawned.Load()
	s.Reused = p.reused.Load()
	s.Canceled = p.canceled.Load()
	s.Killed = p.killed.Load()
	s.Proxied = p.proxied.Load()
	return s
}
