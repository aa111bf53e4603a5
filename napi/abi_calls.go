package napi

import "context"

func (e *Env) createFunction(name, length, cb, data, result uint32) Status {
	if result == 0 || cb == 0 {
		return StatusInvalidArg
	}
	var s string
	if name != 0 {
		s = cstring(e.views(), name, length)
	}
	return e.setValue(result, ObjectValue(e.newFunction(&Function{Name: s, Callback: cb, Data: data})))
}

// readArgs resolves argc handles starting at argv.
func (e *Env) readArgs(argc, argv uint32) ([]Value, Status) {
	if argc > 0 && argv == 0 {
		return nil, StatusInvalidArg
	}
	v := e.views()
	args := make([]Value, argc)
	for i := range argc {
		a, st := e.get(v.U32(argv + i*4))
		if st != StatusOK {
			return nil, st
		}
		args[i] = a
	}
	return args, StatusOK
}

func (e *Env) callFunction(ctx context.Context, recv, fn, argc, argv, result uint32) Status {
	this, st := e.get(recv)
	if st != StatusOK {
		return st
	}
	f, st := e.get(fn)
	if st != StatusOK {
		return st
	}
	if f.kind != KindFunction {
		return StatusFunctionExpected
	}
	args, st := e.readArgs(argc, argv)
	if st != StatusOK {
		return st
	}
	v, err := e.invoke(ctx, f.obj, this, args, Undefined())
	if st := statusOf(err); st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusOK
	}
	return e.setValue(result, v)
}

func (e *Env) newInstance(ctx context.Context, cons, argc, argv, result uint32) Status {
	c, st := e.get(cons)
	if st != StatusOK {
		return st
	}
	if result == 0 {
		return StatusInvalidArg
	}
	if c.kind != KindFunction {
		return StatusFunctionExpected
	}
	args, st := e.readArgs(argc, argv)
	if st != StatusOK {
		return st
	}
	v, err := e.construct(ctx, c, args)
	if st := statusOf(err); st != StatusOK {
		return st
	}
	return e.setValue(result, v)
}

// getCbInfo copies up to *argc argument handles into argv, padding with
// undefined, and stores the actual count back into *argc.
func (e *Env) getCbInfo(cbinfo, argc, argv, this, data uint32) Status {
	info, ok := e.CallbackInfo(cbinfo)
	if !ok {
		return StatusInvalidArg
	}
	v := e.views()
	if argc != 0 {
		if argv != 0 {
			capacity := v.U32(argc)
			for i := range capacity {
				h := uint32(HandleUndefined)
				if int(i) < len(info.Args) {
					h = e.store.Push(info.Args[i])
				}
				v.SetU32(argv+i*4, h)
			}
		}
		v.SetU32(argc, uint32(len(info.Args)))
	}
	if this != 0 {
		v.SetU32(this, e.store.Push(info.This))
	}
	if data != 0 {
		v.SetU32(data, info.Data)
	}
	return StatusOK
}

func (e *Env) getNewTarget(cbinfo, result uint32) Status {
	info, ok := e.CallbackInfo(cbinfo)
	if !ok || result == 0 {
		return StatusInvalidArg
	}
	if info.NewTarget.IsUndefined() {
		return e.setU32(result, HandleEmpty)
	}
	return e.setValue(result, info.NewTarget)
}

func (e *Env) makeCallback(ctx context.Context, asyncContext, recv, fn, argc, argv, result uint32) Status {
	return e.callFunction(ctx, recv, fn, argc, argv, result)
}

func (e *Env) asyncInit(resource, name, result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	e.asyncContexts++
	return e.setU32(result, e.asyncContexts)
}

func (e *Env) asyncDestroy(asyncContext uint32) Status {
	if asyncContext == 0 {
		return StatusInvalidArg
	}
	return StatusOK
}

func (e *Env) openCallbackScope(resource, asyncContext, result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	id := uint32(len(e.callbackScopes) + 1)
	e.callbackScopes = append(e.callbackScopes, id)
	return e.setU32(result, id)
}

func (e *Env) closeCallbackScope(scope uint32) Status {
	n := len(e.callbackScopes)
	if n == 0 || e.callbackScopes[n-1] != scope {
		return StatusCallbackScopeMismatch
	}
	e.callbackScopes = e.callbackScopes[:n-1]
	return StatusOK
}

// createError covers the napi_create_*_error family. code, when given,
// and msg must be strings.
func (e *Env) createError(name string, code, msg, result uint32) Status {
	m, st := e.get(msg)
	if st != StatusOK {
		return st
	}
	if m.kind != KindString {
		return StatusStringExpected
	}
	c := Undefined()
	if code != 0 {
		if c, st = e.get(code); st != StatusOK {
			return st
		}
		if c.kind != KindString {
			return StatusStringExpected
		}
	}
	return e.setValue(result, ObjectValue(e.NewError(name, c, m.str)))
}

func (e *Env) throwValue(value uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	e.throw(v)
	return StatusOK
}

// throwError covers napi_throw_*_error, which take C strings.
func (e *Env) throwError(name string, code, msg uint32) Status {
	if msg == 0 {
		return StatusInvalidArg
	}
	v := e.views()
	c := Undefined()
	if code != 0 {
		c = String(v.CString(code))
	}
	e.throw(ObjectValue(e.NewError(name, c, v.CString(msg))))
	return StatusOK
}

func (e *Env) isError(value, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	return e.setBool(result, v.obj != nil && v.obj.class == ClassError)
}

func (e *Env) isExceptionPending(result uint32) Status {
	return e.setBool(result, e.pending != nil)
}

func (e *Env) getAndClearLastException(result uint32) Status {
	if result == 0 {
		return StatusInvalidArg
	}
	v, _ := e.TakeException()
	return e.setValue(result, v)
}

func (e *Env) createPromise(deferred, promise uint32) Status {
	if deferred == 0 || promise == 0 {
		return StatusInvalidArg
	}
	id, o, err := e.NewPromise()
	if err != nil {
		return StatusGenericFailure
	}
	e.views().SetU32(deferred, id)
	return e.setValue(promise, ObjectValue(o))
}

func (e *Env) settleDeferred(deferred, value uint32, reject bool) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	return e.Settle(deferred, v, reject)
}

func (e *Env) isPromise(value, result uint32) Status {
	v, st := e.get(value)
	if st != StatusOK {
		return st
	}
	return e.setBool(result, v.obj != nil && v.obj.class == ClassPromise)
}

func (e *Env) createAsyncWork(resource, name, execute, complete, data, result uint32) Status {
	if execute == 0 || result == 0 {
		return StatusInvalidArg
	}
	var s string
	if name != 0 {
		n, st := e.get(name)
		if st != StatusOK {
			return st
		}
		if n.kind != KindString {
			return StatusStringExpected
		}
		s = n.str
	}
	return e.setU32(result, e.CreateAsyncWork(s, execute, complete, data).id)
}
