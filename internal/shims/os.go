package shims

import "github.com/dop251/goja"

// installOS builds the os shim. The values are fixed stand-ins: there is
// no operating system underneath, only enough surface for packages that
// read platform/homedir/tmpdir at module scope to keep loading.
func (t *Table) installOS() {
	vm := t.vm
	obj := vm.NewObject()

	_ = obj.Set("platform", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue("browser")
	})
	_ = obj.Set("arch", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue("wasm")
	})
	_ = obj.Set("homedir", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue("/home")
	})
	_ = obj.Set("tmpdir", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue("/tmp")
	})
	_ = obj.Set("hostname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue("localhost")
	})
	_ = obj.Set("cpus", func(call goja.FunctionCall) goja.Value {
		return vm.NewArray()
	})
	_ = obj.Set("totalmem", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(int64(1 << 30))
	})
	_ = obj.Set("freemem", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(int64(1 << 29))
	})
	_ = obj.Set("EOL", "\n")

	t.set("shim:os", obj)
}
