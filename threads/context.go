package threads

import (
	"context"
	"fmt"
)

// Canceled is PTHREAD_CANCELED, the exit value of a cancelled thread.
const Canceled int32 = -1

// MainTID is the thread id of the main context. Workers count up from it.
const MainTID uint32 = 1

type workerKey struct{}

// WithWorker marks ctx as running on w. Host functions called from guest
// code on a worker receive this context.
func WithWorker(ctx context.Context, w *Worker) context.Context {
	return context.WithValue(ctx, workerKey{}, w)
}

// Current returns the worker ctx runs on, or nil on the main context.
func Current(ctx context.Context) *Worker {
	w, _ := ctx.Value(workerKey{}).(*Worker)
	return w
}

// CurrentTID returns the thread id for ctx.
func CurrentTID(ctx context.Context) uint32 {
	if w := Current(ctx); w != nil {
		return w.TID()
	}
	return MainTID
}

// Exit unwinds a thread back to its worker. It travels as a panic through
// host functions; wazero hands it back wrapped in the call's error.
type Exit struct {
	Code int32
}

func (e *Exit) Error() string {
	if e.Code == Canceled {
		return "thread canceled"
	}
	return fmt.Sprintf("thread exited with %d", e.Code)
}

// ExitThread ends the calling thread with code. It does not return.
func ExitThread(code int32) {
	panic(&Exit{Code: code})
}

// TestCancel exits the calling thread if a cancel was requested for it.
func TestCancel(ctx context.Context) {
	if w := Current(ctx); w != nil && w.canceled.Load() {
		ExitThread(Canceled)
	}
}
