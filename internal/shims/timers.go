package shims

import (
	"sync"
	"time"

	"github.com/dop251/goja"
)

// installTimers builds the timers shim and installs setTimeout/
// setInterval/clearTimeout/clearInterval/setImmediate as globals the way
// the emulated programs expect. Callbacks re-enter the VM through the
// table's scheduler, preserving the single-goroutine discipline; with the
// default inline scheduler they fire on the timer's own goroutine, which
// is only safe when nothing else uses the VM — hosts wire a real
// scheduler before loading untrusted timing-heavy code.
func (t *Table) installTimers() {
	vm := t.vm
	obj := vm.NewObject()

	var mu sync.Mutex
	timers := make(map[int64]*time.Timer)
	tickers := make(map[int64]chan struct{})
	var nextID int64

	setTimeout := func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return vm.ToValue(0)
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		args := []goja.Value{}
		if len(call.Arguments) > 2 {
			args = call.Arguments[2:]
		}
		mu.Lock()
		nextID++
		id := nextID
		timers[id] = time.AfterFunc(delay, func() {
			mu.Lock()
			delete(timers, id)
			mu.Unlock()
			t.schedule(func() { _, _ = fn(goja.Undefined(), args...) })
		})
		mu.Unlock()
		return vm.ToValue(id)
	}
	clearTimeout := func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).ToInteger()
		mu.Lock()
		if timer, ok := timers[id]; ok {
			timer.Stop()
			delete(timers, id)
		}
		mu.Unlock()
		return goja.Undefined()
	}
	setInterval := func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return vm.ToValue(0)
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		if delay <= 0 {
			delay = time.Millisecond
		}
		mu.Lock()
		nextID++
		id := nextID
		stop := make(chan struct{})
		tickers[id] = stop
		mu.Unlock()
		go func() {
			ticker := time.NewTicker(delay)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					t.schedule(func() { _, _ = fn(goja.Undefined()) })
				case <-stop:
					return
				}
			}
		}()
		return vm.ToValue(id)
	}
	clearInterval := func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).ToInteger()
		mu.Lock()
		if stop, ok := tickers[id]; ok {
			close(stop)
			delete(tickers, id)
		}
		mu.Unlock()
		return goja.Undefined()
	}
	setImmediate := func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return vm.ToValue(0)
		}
		t.schedule(func() { _, _ = fn(goja.Undefined()) })
		return vm.ToValue(0)
	}

	_ = obj.Set("setTimeout", setTimeout)
	_ = obj.Set("clearTimeout", clearTimeout)
	_ = obj.Set("setInterval", setInterval)
	_ = obj.Set("clearInterval", clearInterval)
	_ = obj.Set("setImmediate", setImmediate)

	_ = vm.Set("setTimeout", setTimeout)
	_ = vm.Set("clearTimeout", clearTimeout)
	_ = vm.Set("setInterval", setInterval)
	_ = vm.Set("clearInterval", clearInterval)
	_ = vm.Set("setImmediate", setImmediate)

	t.set("shim:timers", obj)
}
