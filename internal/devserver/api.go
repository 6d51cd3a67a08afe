package devserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/macaly/almostnode-sub000/internal/httpmodel"
	"github.com/macaly/almostnode-sub000/internal/shims"
)

// execAPIHandler runs a Pages-Router API file as a Node-style handler:
// transform to CJS, evaluate with a minimal require that resolves only
// host-primitive shims, call the exported function with mock req/res, and
// await the finalized ResponseRecord under the wall-clock deadline.
// Handler errors and timeouts produce a JSON 500; a handler file that
// cannot be read produces a JSON 404.
func (s *FrameworkServer) execAPIHandler(ctx context.Context, method, pathname string, res RouteResolution, headers map[string]string, body []byte) *httpmodel.ResponseRecord {
	src, err := s.fs.Read(res.File)
	if err != nil {
		return jsonError(404, "no such file: "+res.File)
	}
	code, err := s.tr.TransformCJS(res.File, src)
	if err != nil {
		return jsonError(500, err.Error())
	}

	vm := goja.New()
	table := shims.New(vm)
	table.InstallFS(s.fs)

	lowered := make(map[string]string, len(headers))
	for k, v := range headers {
		lowered[strings.ToLower(k)] = v
	}
	mockReq := &httpmodel.MockRequest{Method: method, URL: pathname, Headers: lowered, Body: body}
	reqObj := httpmodel.NewRequestObject(vm, mockReq)
	queryObj := vm.NewObject()
	for k, v := range res.Params {
		_ = queryObj.Set(k, v)
	}
	_ = reqObj.Set("query", queryObj)
	mockRes, done := httpmodel.NewMockResponse()
	resObj := httpmodel.NewResponseObject(vm, mockRes)

	handler, err := loadCJSHandlerModule(vm, table, code, res.File)
	if err != nil {
		s.log.Warn().Str("file", res.File).Err(err).Msg("api handler failed to load")
		return jsonError(500, err.Error())
	}

	execErr := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				execErr <- fmt.Errorf("handler threw: %v", rec)
			}
		}()
		_, callErr := handler(goja.Undefined(), reqObj, resObj)
		execErr <- callErr
	}()

	timeout := s.handlerTimeout
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The handler may finish the response from inside the call (the common
	// case) or return first and settle a promise; either way the mock
	// response's resolver channel is the single completion signal. After
	// the deadline, subsequent writes land in a response nobody reads.
	select {
	case rec := <-done:
		return rec
	case err := <-execErr:
		if err != nil {
			s.log.Warn().Str("file", res.File).Err(err).Msg("api handler error")
			return jsonError(500, err.Error())
		}
		// Handler returned without ending the response yet; keep waiting
		// for the resolver until the deadline.
		select {
		case rec := <-done:
			return rec
		case <-deadline.Done():
			vm.Interrupt("handler timeout")
			return jsonError(500, "handler timed out")
		}
	case <-deadline.Done():
		vm.Interrupt("handler timeout")
		return jsonError(500, "handler timed out")
	}
}

// loadCJSHandlerModule evaluates transformed CJS code in vm with a minimal
// injected require that resolves only the whitelisted host primitives, and
// returns the exported handler function (module.exports itself, or its
// .default when the source was ESM).
func loadCJSHandlerModule(vm *goja.Runtime, table *shims.Table, code []byte, filename string) (goja.Callable, error) {
	exports, err := evalCJSModule(vm, table, code, filename)
	if err != nil {
		return nil, err
	}
	if fn, ok := goja.AssertFunction(exports); ok {
		return fn, nil
	}
	if obj, ok := exports.(*goja.Object); ok {
		if fn, ok := goja.AssertFunction(obj.Get("default")); ok {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%s does not export a handler function", filename)
}

// evalCJSModule runs a CJS module body with injected bindings and returns
// its final exports value. require resolves host-primitive shims only —
// an API handler that requires an npm package gets a module-not-found
// error; handlers are self-contained by contract.
func evalCJSModule(vm *goja.Runtime, table *shims.Table, code []byte, filename string) (goja.Value, error) {
	exports := vm.NewObject()
	moduleObj := vm.NewObject()
	_ = moduleObj.Set("exports", exports)

	requireFn := func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		if shimID, ok := table.Lookup(id); ok {
			if v, ok := table.Get(shimID); ok {
				return v
			}
		}
		panic(vm.ToValue(fmt.Sprintf("Cannot find module '%s'", id)))
	}

	processVal, _ := table.Get("shim:process")
	consoleVal, _ := table.Get("shim:console")

	wrapped := fmt.Sprintf("(function(exports, require, module, process, console) {\n%s\n})", code)
	prog, err := goja.Compile(filename, wrapped, true)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", filename, err)
	}
	fnValue, err := vm.RunProgram(prog)
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", filename, err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, fmt.Errorf("module wrapper for %s did not produce a function", filename)
	}
	if _, err := fn(goja.Undefined(), exports, vm.ToValue(requireFn), moduleObj, processVal, consoleVal); err != nil {
		return nil, fmt.Errorf("running %s: %w", filename, err)
	}
	return moduleObj.Get("exports"), nil
}
