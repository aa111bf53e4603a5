package napi

import (
	"context"
	"slices"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/lovell/sharp-sub001/resource"
)

// PromiseState is the settlement state of a promise.
type PromiseState uint8

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

// Promise is the payload of a promise object.
type Promise struct {
	State  PromiseState
	Result Value
}

// NewPromise creates a pending promise and its deferred id.
func (e *Env) NewPromise() (uint32, *Object, error) {
	o := newObject(ClassPromise, nil)
	o.promise = &Promise{}
	id, err := e.deferreds.Insert(0, o)
	if err != nil {
		return 0, nil, err
	}
	return uint32(id), o, nil
}

// Settle resolves or rejects the promise of a deferred and frees the
// deferred.
func (e *Env) Settle(deferred uint32, v Value, reject bool) Status {
	o, ok := e.deferreds.Remove(resource.Handle(deferred))
	if !ok {
		return StatusInvalidArg
	}
	o.promise.Result = v
	o.promise.State = PromiseFulfilled
	if reject {
		o.promise.State = PromiseRejected
	}
	return StatusOK
}

type workState uint8

const (
	workCreated workState = iota
	workQueued
	workRunning
	workDone
	workCancelled
)

// AsyncWork is a napi_async_work item. execute runs off the calling
// thread in Node; here it runs when the host drains the queue, followed
// by complete in a fresh handle scope.
type AsyncWork struct {
	id       uint32
	name     string
	execute  uint32
	complete uint32
	data     uint32
	state    workState
}

// CreateAsyncWork registers a work item.
func (e *Env) CreateAsyncWork(name string, execute, complete, data uint32) *AsyncWork {
	w := &AsyncWork{name: name, execute: execute, complete: complete, data: data}
	w.id = uint32(e.works.Insert(0, w))
	return w
}

// DeleteAsyncWork frees a work item that is not running.
func (e *Env) DeleteAsyncWork(id uint32) Status {
	w, ok := e.works.Get(resource.Handle(id))
	if !ok {
		return StatusInvalidArg
	}
	if w.state == workRunning {
		return StatusGenericFailure
	}
	e.queue = slices.DeleteFunc(e.queue, func(q *AsyncWork) bool { return q == w })
	e.works.Remove(resource.Handle(id))
	return StatusOK
}

// QueueAsyncWork schedules a work item.
func (e *Env) QueueAsyncWork(id uint32) Status {
	w, ok := e.works.Get(resource.Handle(id))
	if !ok {
		return StatusInvalidArg
	}
	if w.state == workQueued || w.state == workRunning {
		return StatusGenericFailure
	}
	w.state = workQueued
	e.queue = append(e.queue, w)
	return StatusOK
}

// CancelAsyncWork cancels a queued item; its complete callback still runs,
// with napi_cancelled. Items already started cannot be cancelled.
func (e *Env) CancelAsyncWork(id uint32) Status {
	w, ok := e.works.Get(resource.Handle(id))
	if !ok {
		return StatusInvalidArg
	}
	if w.state != workQueued {
		return StatusGenericFailure
	}
	w.state = workCancelled
	return StatusOK
}

// PendingWork returns the number of queued work items.
func (e *Env) PendingWork() int { return len(e.queue) }

// RunQueuedWork drains the work queue, including items queued by
// complete callbacks, in FIFO order.
func (e *Env) RunQueuedWork(ctx context.Context) error {
	for len(e.queue) > 0 {
		w := e.queue[0]
		e.queue = e.queue[1:]
		status := StatusOK
		if w.state == workCancelled {
			status = StatusCancelled
		} else {
			w.state = workRunning
			Logger().Debug("async work", zap.String("name", w.name), zap.Uint32("id", w.id))
			if _, err := e.table.CallIndirect(ctx, executeSig, w.execute, []uint64{
				api.EncodeU32(e.id), api.EncodeU32(w.data),
			}); err != nil {
				w.state = workDone
				return err
			}
		}
		w.state = workDone
		if w.complete == 0 {
			continue
		}
		sc := e.store.OpenScope(false)
		_, err := e.table.CallIndirect(ctx, completeSig, w.complete, []uint64{
			api.EncodeU32(e.id), api.EncodeU32(uint32(status)), api.EncodeU32(w.data),
		})
		e.store.unwind(sc)
		if err != nil {
			return err
		}
		if x, ok := e.TakeException(); ok {
			return &Exception{Value: x}
		}
	}
	return nil
}
