package threads

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// HandlerFunc runs a named handler a worker asked main to call.
type HandlerFunc func(ctx context.Context, w *Worker, args []uint64)

// Main is the main context: the one goroutine allowed to run proxied
// operations and to change the pool in response to worker messages.
type Main struct {
	pool    *Pool
	mailbox *Mailbox

	mu       sync.RWMutex
	ops      map[int32]ProxyFunc
	handlers map[string]HandlerFunc
	onCheck  func(ctx context.Context)

	outMu  sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

func newMain(p *Pool, stdout, stderr io.Writer) *Main {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &Main{
		pool:     p,
		mailbox:  newMailbox(),
		ops:      make(map[int32]ProxyFunc),
		handlers: make(map[string]HandlerFunc),
		stdout:   stdout,
		stderr:   stderr,
	}
}

// Mailbox returns the main context's inbound queue.
func (m *Main) Mailbox() *Mailbox { return m.mailbox }

// Post queues msg for the main context.
func (m *Main) Post(msg Message) { m.mailbox.Post(msg) }

// Handle registers a handler for MsgCallHandler messages.
func (m *Main) Handle(name string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = fn
}

// OnCheckMailbox sets what main runs for MsgCheckMailbox, typically the
// guest's own queue processing.
func (m *Main) OnCheckMailbox(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCheck = fn
}

// CallHandler asks main to run the named handler. On main it runs inline.
func (m *Main) CallHandler(ctx context.Context, name string, args ...uint64) {
	w := Current(ctx)
	if w == nil {
		m.dispatch(ctx, Message{Kind: MsgCallHandler, Handler: name, Args: args})
		return
	}
	m.Post(Message{Kind: MsgCallHandler, Worker: w, Handler: name, Args: args})
}

// Print writes a line to stdout, from main directly or via a message.
func (m *Main) Print(ctx context.Context, text string) {
	m.print(ctx, MsgPrint, text)
}

// PrintErr writes a line to stderr.
func (m *Main) PrintErr(ctx context.Context, text string) {
	m.print(ctx, MsgPrintErr, text)
}

func (m *Main) print(ctx context.Context, kind MessageKind, text string) {
	if w := Current(ctx); w != nil {
		m.Post(Message{Kind: kind, Worker: w, Text: text})
		return
	}
	m.dispatch(ctx, Message{Kind: kind, Text: text})
}

// Serve handles messages until ctx is done.
func (m *Main) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.mailbox.Wait():
			m.Drain(ctx)
		}
	}
}

// Drain handles whatever is queued now and returns.
func (m *Main) Drain(ctx context.Context) {
	for _, msg := range m.mailbox.Take() {
		m.dispatch(ctx, msg)
	}
}

func (m *Main) dispatch(ctx context.Context, msg Message) {
	switch msg.Kind {
	case MsgLoaded:
		if msg.Err != nil {
			Logger().Warn("worker failed to load", zap.Stringer("worker", msg.Worker.ID), zap.Error(msg.Err))
			return
		}
		Logger().Debug("worker loaded", zap.Stringer("worker", msg.Worker.ID))
	case MsgCleanupThread:
		m.pool.Cleanup(msg.Worker, msg.Code)
	case MsgKillThread:
		m.pool.Kill(msg.Worker, msg.Err)
	case MsgSpawnThread:
		msg.reply <- m.pool.spawn(ctx, msg.Spawn)
	case MsgProxy:
		m.serve(ctx, msg)
	case MsgPrint, MsgPrintErr:
		out := m.stdout
		if msg.Kind == MsgPrintErr {
			out = m.stderr
		}
		m.outMu.Lock()
		fmt.Fprintln(out, msg.Text)
		m.outMu.Unlock()
	case MsgCheckMailbox:
		m.mu.RLock()
		fn := m.onCheck
		m.mu.RUnlock()
		if fn != nil {
			fn(ctx)
		}
	case MsgCallHandler:
		m.mu.RLock()
		fn, ok := m.handlers[msg.Handler]
		m.mu.RUnlock()
		if !ok {
			Logger().Warn("no handler registered", zap.String("handler", msg.Handler))
			return
		}
		fn(ctx, msg.Worker, msg.Args)
	default:
		Logger().Warn("unexpected message on main", zap.Stringer("kind", msg.Kind))
	}
}
