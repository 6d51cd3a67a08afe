package transform

import (
	"fmt"
	"sort"

	"github.com/dop251/goja"
)

// DetectCJSExports executes a CommonJS bundle in a scratch goja runtime
// with require/module/process stubbed to inert spies and reads back the
// enumerable keys of the resulting exports object. Packages whose bodies
// need real host facilities throw; callers treat that as "detection
// unavailable", not a fatal error.
func DetectCJSExports(src string) (names []string, err error) {
	vm := goja.New()

	exports := vm.NewObject()
	moduleObj := vm.NewObject()
	_ = moduleObj.Set("exports", exports)

	requireStub := func(call goja.FunctionCall) goja.Value {
		return vm.NewObject()
	}
	processStub := vm.NewObject()
	envObj := vm.NewObject()
	_ = envObj.Set("NODE_ENV", "production")
	_ = processStub.Set("env", envObj)

	wrapped := fmt.Sprintf("(function(exports, require, module, process) {\n%s\n})", src)
	fnValue, err := vm.RunString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("compiling bundle: %w", err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, fmt.Errorf("bundle wrapper did not produce a function")
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("bundle threw: %v", rec)
			names = nil
		}
	}()
	if _, err := fn(goja.Undefined(), exports, vm.ToValue(requireStub), moduleObj, processStub); err != nil {
		return nil, fmt.Errorf("executing bundle: %w", err)
	}

	final := moduleObj.Get("exports")
	obj, ok := final.(*goja.Object)
	if !ok {
		return nil, nil
	}
	names = obj.Keys()
	sort.Strings(names)
	return names, nil
}
