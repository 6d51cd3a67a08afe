package shims

import (
	"time"

	"github.com/dop251/goja"
)

// installProcess builds the process shim: env (seeded separately via
// SetEnv), cwd/chdir backed by a Go string field, mock stdout/stderr
// writable streams appending to an in-memory buffer, and hrtime() backed
// by time.Now deltas. process is installed mutable (a plain goja object,
// not frozen) because SDKs commonly monkey-patch it.
type processState struct {
	cwd    string
	stdout []byte
	stderr []byte
}

func (t *Table) installProcess() {
	state := &processState{cwd: "/"}
	obj := t.vm.NewObject()

	env := t.vm.NewObject()
	_ = obj.Set("env", env)
	_ = obj.Set("platform", "browser")
	_ = obj.Set("version", "v0.0.0-almostnode")
	_ = obj.Set("argv", []string{"node", "almostnode"})

	_ = obj.Set("cwd", func(call goja.FunctionCall) goja.Value {
		return t.vm.ToValue(state.cwd)
	})
	_ = obj.Set("chdir", func(call goja.FunctionCall) goja.Value {
		state.cwd = call.Argument(0).String()
		return goja.Undefined()
	})

	start := time.Now()
	_ = obj.Set("hrtime", func(call goja.FunctionCall) goja.Value {
		elapsed := time.Since(start)
		sec := int64(elapsed / time.Second)
		nsec := int64(elapsed % time.Second)
		return t.vm.ToValue([]int64{sec, nsec})
	})

	stdout := t.vm.NewObject()
	_ = stdout.Set("write", func(call goja.FunctionCall) goja.Value {
		state.stdout = append(state.stdout, []byte(call.Argument(0).String())...)
		return t.vm.ToValue(true)
	})
	_ = obj.Set("stdout", stdout)

	stderr := t.vm.NewObject()
	_ = stderr.Set("write", func(call goja.FunctionCall) goja.Value {
		state.stderr = append(state.stderr, []byte(call.Argument(0).String())...)
		return t.vm.ToValue(true)
	})
	_ = obj.Set("stderr", stderr)

	emitter := newEventEmitter(t.vm)
	_ = obj.Set("on", emitter.onFunc())
	_ = obj.Set("emit", emitter.emitFunc())
	_ = obj.Set("nextTick", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			_, _ = fn(goja.Undefined())
		}
		return goja.Undefined()
	})

	t.set("shim:process", obj)
}

// SetEnv seeds process.env with whitelisted variables; hosts call it
// after New, before any module body runs.
func (t *Table) SetEnv(vars map[string]string) {
	v, ok := t.Get("shim:process")
	if !ok {
		return
	}
	obj := v.(*goja.Object)
	env := obj.Get("env").(*goja.Object)
	for k, val := range vars {
		_ = env.Set(k, val)
	}
}
