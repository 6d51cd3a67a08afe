package shims

import (
	"fmt"

	"github.com/dop251/goja"
)

// eventEmitter backs the events shim: an ordered listener-per-event-name
// registry exposed into goja, matching Node's documented convention that
// emitting "error" with no listener throws.
type eventEmitter struct {
	vm        *goja.Runtime
	listeners map[string][]goja.Callable
}

func newEventEmitter(vm *goja.Runtime) *eventEmitter {
	return &eventEmitter{vm: vm, listeners: make(map[string][]goja.Callable)}
}

func (e *eventEmitter) on(event string, fn goja.Callable) {
	e.listeners[event] = append(e.listeners[event], fn)
}

func (e *eventEmitter) off(event string, fn goja.Callable) {
	list := e.listeners[event]
	out := list[:0]
	for _, l := range list {
		if fmt.Sprintf("%p", l) != fmt.Sprintf("%p", fn) {
			out = append(out, l)
		}
	}
	e.listeners[event] = out
}

func (e *eventEmitter) emit(event string, args ...goja.Value) bool {
	list := e.listeners[event]
	if len(list) == 0 {
		if event == "error" {
			panic(e.vm.ToValue("Unhandled 'error' event"))
		}
		return false
	}
	for _, fn := range list {
		_, _ = fn(goja.Undefined(), args...)
	}
	return true
}

func (e *eventEmitter) onFunc() func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
			e.on(event, fn)
		}
		return call.This
	}
}

func (e *eventEmitter) offFunc() func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
			e.off(event, fn)
		}
		return call.This
	}
}

func (e *eventEmitter) emitFunc() func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		var args []goja.Value
		if len(call.Arguments) > 1 {
			args = call.Arguments[1:]
		}
		return e.vm.ToValue(e.emit(event, args...))
	}
}

func (t *Table) installEvents() {
	obj := t.vm.NewObject()
	ctor := func(call goja.ConstructorCall) *goja.Object {
		emitter := newEventEmitter(t.vm)
		inst := call.This
		_ = inst.Set("on", emitter.onFunc())
		_ = inst.Set("addListener", emitter.onFunc())
		_ = inst.Set("off", emitter.offFunc())
		_ = inst.Set("removeListener", emitter.offFunc())
		_ = inst.Set("emit", emitter.emitFunc())
		return nil
	}
	ctorVal := t.vm.ToValue(ctor)
	_ = obj.Set("EventEmitter", ctorVal)
	t.set("shim:events", obj)
}
