package threads

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	wasmbridge "github.com/lovell/sharp-sub001"
	"github.com/lovell/sharp-sub001/errors"
)

// State is a worker's position in the pool.
type State uint8

const (
	StateUnused State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnused:
		return "unused"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Runner creates and drives the per-worker module instances. The bridge
// provides one over wazero; tests use plain Go functions.
type Runner interface {
	// SharedMemory reports whether linear memory can be shared with workers.
	// Without it every spawn fails with EAGAIN.
	SharedMemory() bool
	// Load prepares w to run threads: instantiate, set up TLS and the stack.
	Load(ctx context.Context, w *Worker) error
	// Run calls the start routine and returns its result.
	Run(ctx context.Context, w *Worker, req SpawnRequest) (int32, error)
	// Unload releases what Load created.
	Unload(ctx context.Context, w *Worker) error
}

// MailboxChecker is implemented by runners whose guest keeps a message
// queue of its own. It is called whenever a worker is told to look at its
// mailbox.
type MailboxChecker interface {
	CheckGuestMailbox(ctx context.Context, w *Worker)
}

// Worker is one execution context.
type Worker struct {
	ID uuid.UUID

	// Data holds the runner's per-worker state.
	Data any
	// Stack is the worker's scratch stack, set by the runner in Load.
	Stack wasmbridge.Stack

	pool    *Pool
	mailbox *Mailbox

	// guarded by pool.mu
	state     State
	tid       uint32
	threadPtr uint32

	canceled atomic.Bool

	runMu     sync.Mutex
	cancelRun context.CancelFunc
	stopped   bool

	loaded chan error
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	unload error
}

func newWorker(p *Pool) *Worker {
	return &Worker{
		ID:      uuid.New(),
		pool:    p,
		mailbox: newMailbox(),
		loaded:  make(chan error, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// TID returns the thread id of the thread currently bound, or 0.
func (w *Worker) TID() uint32 {
	w.pool.mu.Lock()
	defer w.pool.mu.Unlock()
	return w.tid
}

// ThreadPtr returns the bound pthread control block, or 0.
func (w *Worker) ThreadPtr() uint32 {
	w.pool.mu.Lock()
	defer w.pool.mu.Unlock()
	return w.threadPtr
}

// State returns the worker's current state.
func (w *Worker) State() State {
	w.pool.mu.Lock()
	defer w.pool.mu.Unlock()
	return w.state
}

// Mailbox returns the worker's inbound queue.
func (w *Worker) Mailbox() *Mailbox { return w.mailbox }

// Canceled reports whether the bound thread has a pending cancel.
func (w *Worker) Canceled() bool { return w.canceled.Load() }

// Dispatch queues fn to run on w. An idle worker runs it at once; a running
// one runs it the next time the guest checks its mailbox.
func (w *Worker) Dispatch(fn func(ctx context.Context)) {
	w.mailbox.Post(Message{Kind: MsgProxy, Worker: w, Call: &ProxyCall{fn: fn}})
}

func (w *Worker) logger() *zap.Logger {
	return Logger().With(zap.Stringer("worker", w.ID))
}

// loop is the worker goroutine. It parks on the mailbox between threads.
func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			w.unload = w.pool.runner.Unload(ctx, w)
			return
		case <-w.mailbox.Wait():
			q := w.mailbox.Take()
			for i, msg := range q {
				if msg.Kind == MsgRun {
					// the thread sees the rest through its own mailbox
					for _, rest := range q[i+1:] {
						w.mailbox.Post(rest)
					}
					w.run(ctx, msg.Spawn)
					break
				}
				w.handleIdle(ctx, msg)
			}
		}
	}
}

func (w *Worker) handleIdle(ctx context.Context, msg Message) {
	switch msg.Kind {
	case MsgLoad:
		err := w.pool.runner.Load(WithWorker(ctx, w), w)
		w.loaded <- err
		w.pool.main.Post(Message{Kind: MsgLoaded, Worker: w, Err: err})
	case MsgProxy:
		msg.Call.run(WithWorker(ctx, w))
	case MsgCheckMailbox:
		w.checkGuest(WithWorker(ctx, w))
	case MsgCancel:
		// nothing bound, or the thread already left
	default:
		w.logger().Warn("unexpected message on idle worker", zap.Stringer("kind", msg.Kind))
	}
}

func (w *Worker) run(ctx context.Context, req SpawnRequest) {
	runCtx, cancel := context.WithCancel(WithWorker(ctx, w))
	w.runMu.Lock()
	if w.stopped {
		// terminated between spawn and start; the pool already released
		// the joiner
		w.runMu.Unlock()
		cancel()
		return
	}
	w.cancelRun = cancel
	w.runMu.Unlock()
	defer func() {
		w.runMu.Lock()
		w.cancelRun = nil
		w.runMu.Unlock()
		cancel()
	}()

	code, err := w.invoke(runCtx, req)
	if err != nil {
		w.logger().Error("thread terminated abnormally",
			zap.Uint32("thread", req.ThreadPtr), zap.Error(err))
		w.pool.main.Post(Message{Kind: MsgKillThread, Worker: w, Err: err})
		return
	}
	w.pool.main.Post(Message{Kind: MsgCleanupThread, Worker: w, Code: code})
}

// invoke runs the start routine, turning Exit into a normal return.
func (w *Worker) invoke(ctx context.Context, req SpawnRequest) (code int32, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*Exit); ok {
				code, err = e.Code, nil
				return
			}
			err = errors.New(errors.PhaseThread, errors.KindFatal).
				Detail("thread %#x panicked: %v", req.ThreadPtr, r).Build()
		}
	}()
	if w.canceled.Load() {
		return Canceled, nil
	}
	code, err = w.pool.runner.Run(ctx, w, req)
	var exit *Exit
	if stderrors.As(err, &exit) {
		return exit.Code, nil
	}
	return code, err
}

// CheckMailbox handles everything queued for the context ctx runs on. A
// pending cancel exits the thread.
func CheckMailbox(ctx context.Context) {
	w := Current(ctx)
	if w == nil {
		return
	}
	q := w.mailbox.Take()
	for i, msg := range q {
		switch msg.Kind {
		case MsgCancel:
			if !w.canceled.Load() {
				continue
			}
			for _, rest := range q[i+1:] {
				w.mailbox.Post(rest)
			}
			ExitThread(Canceled)
		case MsgProxy:
			msg.Call.run(ctx)
		case MsgCheckMailbox:
			w.checkGuest(ctx)
		default:
			w.logger().Warn("unexpected message on running worker", zap.Stringer("kind", msg.Kind))
		}
	}
}

func (w *Worker) checkGuest(ctx context.Context) {
	if mc, ok := w.pool.runner.(MailboxChecker); ok {
		mc.CheckGuestMailbox(ctx, w)
	}
}

// interrupt cancels the context of the running thread, if any.
func (w *Worker) interrupt() {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.cancelRun != nil {
		w.cancelRun()
	}
}

// stop asks the goroutine to unload and exit, interrupting a running
// thread and keeping a queued one from starting. It is safe to call twice.
func (w *Worker) stop() {
	w.runMu.Lock()
	w.stopped = true
	if w.cancelRun != nil {
		w.cancelRun()
	}
	w.runMu.Unlock()
	w.once.Do(func() { close(w.quit) })
}
