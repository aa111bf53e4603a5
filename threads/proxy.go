package threads

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/memory"
)

// ProxyFunc implements a main-context operation. Arguments and the result
// travel as float64 words, as in emscripten's proxying ABI.
type ProxyFunc func(ctx context.Context, args []float64) (float64, error)

// ProxyCall is one cross-context call in flight.
type ProxyCall struct {
	Op   int32
	Sync bool

	// sync calls leave their words on the caller's stack at ptr
	ptr uint32
	n   uint32
	// async calls, callers without a stack and callers that gave up
	// waiting carry a copy
	mu     sync.Mutex
	values []float64

	fn func(ctx context.Context)

	result float64
	err    error
	done   chan struct{}
}

func (c *ProxyCall) run(ctx context.Context) {
	defer func() {
		if c.done != nil {
			close(c.done)
		}
	}()
	if c.fn != nil {
		c.fn(ctx)
	}
}

// args reads the call's words. On a stack-carried call mem must be set.
func (c *ProxyCall) args(mem *memory.Manager) (args []float64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values != nil || c.n == 0 {
		return c.values, nil
	}
	defer memory.Guard(&err)
	v := mem.Views()
	args = make([]float64, c.n)
	for i := range c.n {
		args[i] = v.F64(c.ptr + 8*i)
	}
	return args, nil
}

// Register installs the implementation of op.
func (m *Main) Register(op int32, fn ProxyFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op] = fn
}

func (m *Main) op(op int32) (ProxyFunc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.ops[op]
	if !ok {
		return nil, errors.NotFound(errors.PhaseThread, "proxied operation", strconv.Itoa(int(op)))
	}
	return fn, nil
}

// Proxy runs op on the main context. On the main context it is a direct
// call. From a worker, a sync call serializes args onto the worker's scratch
// stack, posts them and blocks until main has run op; an async call posts a
// copy and returns 0 at once.
func (m *Main) Proxy(ctx context.Context, op int32, wait bool, args ...float64) (float64, error) {
	w := Current(ctx)
	if w == nil {
		fn, err := m.op(op)
		if err != nil {
			return 0, err
		}
		return fn(ctx, args)
	}
	m.pool.proxied.Add(1)

	call := &ProxyCall{Op: op, Sync: wait}
	if !wait {
		call.values = slices.Clone(args)
		if call.values == nil {
			call.values = []float64{}
		}
		m.Post(Message{Kind: MsgProxy, Worker: w, Call: call})
		return 0, nil
	}

	mem := m.pool.mem
	if w.Stack != nil && mem != nil && len(args) > 0 {
		sp := w.Stack.Save()
		defer w.Stack.Restore(sp)
		ptr, err := w.Stack.Alloc(uint32(8*len(args)), 8)
		if err != nil {
			return 0, err
		}
		if err := writeWords(mem, ptr, args); err != nil {
			return 0, err
		}
		call.ptr, call.n = ptr, uint32(len(args))
	} else {
		call.values = slices.Clone(args)
	}

	call.done = make(chan struct{})
	m.Post(Message{Kind: MsgProxy, Worker: w, Call: call})
	select {
	case <-call.done:
	case <-ctx.Done():
		// main may not have read the words yet and the frame goes away
		// with this return
		call.mu.Lock()
		if call.values == nil {
			call.values = slices.Clone(args)
		}
		call.mu.Unlock()
		return 0, ctx.Err()
	}
	return call.result, call.err
}

func writeWords(mem *memory.Manager, ptr uint32, args []float64) (err error) {
	defer memory.Guard(&err)
	v := mem.Views()
	for i, a := range args {
		v.SetF64(ptr+uint32(8*i), a)
	}
	return nil
}

// serve runs a call posted by a worker.
func (m *Main) serve(ctx context.Context, msg Message) {
	c := msg.Call
	defer func() {
		if c.done != nil {
			close(c.done)
		}
	}()
	fn, err := m.op(c.Op)
	if err == nil {
		var args []float64
		if args, err = c.args(m.pool.mem); err == nil {
			c.result, err = m.call(ctx, fn, args)
		}
	}
	c.err = err
	if err != nil && !c.Sync {
		Logger().Warn("async proxied call failed", zap.Int32("op", c.Op), zap.Error(err))
	}
}

// call runs fn, turning a panic into an error for the waiting worker.
func (m *Main) call(ctx context.Context, fn ProxyFunc, args []float64) (r float64, err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(error); ok {
				err = e
				return
			}
			err = errors.New(errors.PhaseThread, errors.KindFatal).Detail("proxied call panicked: %v", p).Build()
		}
	}()
	return fn(ctx, args)
}
