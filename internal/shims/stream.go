package shims

import "github.com/dop251/goja"

// installStream builds the stream shim: Readable/Writable/Duplex/
// Transform/PassThrough as Go-backed objects with an event emitter.
// Writables record each written chunk in a streamBuffer and emit it as
// "data". Readables keep no queue: push emits "data" at once, so chunks
// pushed before a listener or pipe(dest) is attached are not delivered;
// pipe forwards each later chunk synchronously to dest.write. None of it
// does real I/O backpressure.
type streamBuffer struct {
	chunks [][]byte
	ended  bool
}

func (t *Table) installStream() {
	obj := t.vm.NewObject()

	newWritable := func(call goja.FunctionCall) goja.Value {
		return t.vm.ToValue(t.newWritable())
	}
	newReadable := func(call goja.FunctionCall) goja.Value {
		return t.vm.ToValue(t.newReadable())
	}

	_ = obj.Set("Writable", t.vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		t.fillWritable(call.This)
		return nil
	}))
	_ = obj.Set("Readable", t.vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		t.fillReadable(call.This)
		return nil
	}))
	_ = obj.Set("Duplex", t.vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		t.fillReadable(call.This)
		t.fillWritable(call.This)
		return nil
	}))
	_ = obj.Set("Transform", t.vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		t.fillTransform(call.This, call.Argument(0))
		return nil
	}))
	_ = obj.Set("PassThrough", t.vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		t.fillTransform(call.This, goja.Undefined())
		return nil
	}))
	_ = obj.Set("newWritable", newWritable)
	_ = obj.Set("newReadable", newReadable)

	t.set("shim:stream", obj)
}

// fillTransform wires a writable side whose chunks re-emerge on the
// readable side, optionally through a user transform(chunk, enc, cb)
// supplied in the options object, the conventional constructor shape.
func (t *Table) fillTransform(o *goja.Object, opts goja.Value) {
	emitter := newEventEmitter(t.vm)
	_ = o.Set("on", emitter.onFunc())
	_ = o.Set("emit", emitter.emitFunc())

	var transformFn goja.Callable
	if optsObj, ok := opts.(*goja.Object); ok {
		transformFn, _ = goja.AssertFunction(optsObj.Get("transform"))
	}

	push := func(chunk goja.Value) {
		emitter.emit("data", chunk)
	}
	_ = o.Set("push", func(call goja.FunctionCall) goja.Value {
		if goja.IsNull(call.Argument(0)) {
			emitter.emit("end")
			return t.vm.ToValue(false)
		}
		push(call.Argument(0))
		return t.vm.ToValue(true)
	})
	_ = o.Set("write", func(call goja.FunctionCall) goja.Value {
		chunk := call.Argument(0)
		if transformFn != nil {
			cb := t.vm.ToValue(func(cbCall goja.FunctionCall) goja.Value {
				if out := cbCall.Argument(1); out != nil && !goja.IsUndefined(out) {
					push(out)
				}
				return goja.Undefined()
			})
			_, _ = transformFn(o, chunk, t.vm.ToValue("utf8"), cb)
		} else {
			push(chunk)
		}
		return t.vm.ToValue(true)
	})
	_ = o.Set("end", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Argument(0)) {
			if writeFn, ok := goja.AssertFunction(o.Get("write")); ok {
				_, _ = writeFn(o, call.Argument(0))
			}
		}
		emitter.emit("end")
		emitter.emit("finish")
		return goja.Undefined()
	})
	_ = o.Set("pipe", func(call goja.FunctionCall) goja.Value {
		dest := call.Argument(0).ToObject(t.vm)
		if dest == nil {
			return call.Argument(0)
		}
		if writeFn, ok := goja.AssertFunction(dest.Get("write")); ok {
			emitter.on("data", func(this goja.Value, args ...goja.Value) (goja.Value, error) {
				return writeFn(dest, args...)
			})
		}
		if endFn, ok := goja.AssertFunction(dest.Get("end")); ok {
			emitter.on("end", func(this goja.Value, args ...goja.Value) (goja.Value, error) {
				return endFn(dest)
			})
		}
		return call.Argument(0)
	})
}

func (t *Table) newWritable() *goja.Object {
	o := t.vm.NewObject()
	t.fillWritable(o)
	return o
}

func (t *Table) newReadable() *goja.Object {
	o := t.vm.NewObject()
	t.fillReadable(o)
	return o
}

func (t *Table) fillWritable(o *goja.Object) {
	buf := &streamBuffer{}
	emitter := newEventEmitter(t.vm)
	_ = o.Set("on", emitter.onFunc())
	_ = o.Set("emit", emitter.emitFunc())
	_ = o.Set("write", func(call goja.FunctionCall) goja.Value {
		if buf.ended {
			return t.vm.ToValue(false)
		}
		buf.chunks = append(buf.chunks, []byte(call.Argument(0).String()))
		emitter.emit("data", call.Argument(0))
		return t.vm.ToValue(true)
	})
	_ = o.Set("end", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			buf.chunks = append(buf.chunks, []byte(call.Argument(0).String()))
		}
		buf.ended = true
		emitter.emit("finish")
		return goja.Undefined()
	})
}

func (t *Table) fillReadable(o *goja.Object) {
	emitter := newEventEmitter(t.vm)
	_ = o.Set("on", emitter.onFunc())
	_ = o.Set("emit", emitter.emitFunc())
	_ = o.Set("pipe", func(call goja.FunctionCall) goja.Value {
		dest := call.Argument(0).ToObject(t.vm)
		writeFn, ok := goja.AssertFunction(dest.Get("write"))
		if !ok {
			return call.Argument(0)
		}
		emitter.on("data", func(this goja.Value, args ...goja.Value) (goja.Value, error) {
			return writeFn(dest, args...)
		})
		return call.Argument(0)
	})
	_ = o.Set("push", func(call goja.FunctionCall) goja.Value {
		if goja.IsNull(call.Argument(0)) {
			emitter.emit("end")
			return t.vm.ToValue(false)
		}
		emitter.emit("data", call.Argument(0))
		return t.vm.ToValue(true)
	})
}
