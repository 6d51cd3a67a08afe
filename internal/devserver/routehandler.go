package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/macaly/almostnode-sub000/internal/httpmodel"
	"github.com/macaly/almostnode-sub000/internal/shims"
)

// execRouteHandler runs an App-Router route.* file as a Web-style handler:
// the module exports functions named by HTTP verb; the matching one is
// called with a Request-shaped object and a context whose params field is
// a promise. The return value is either a Response (constructed from the
// injected Response global) or a plain object, which is JSON-encoded.
// A missing verb export is a 405.
func (s *FrameworkServer) execRouteHandler(ctx context.Context, method, pathname string, res RouteResolution, headers map[string]string, body []byte) *httpmodel.ResponseRecord {
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
	installWebResponse(vm)

	exports, err := evalCJSModule(vm, table, code, res.File)
	if err != nil {
		s.log.Warn().Str("file", res.File).Err(err).Msg("route handler failed to load")
		return jsonError(500, err.Error())
	}

	verb := strings.ToUpper(method)
	handlerVal := lookupVerbExport(exports, verb)
	if handlerVal == nil {
		return &httpmodel.ResponseRecord{
			StatusCode: 405,
			Headers:    map[string]string{"content-type": "application/json; charset=utf-8", "allow": exportedVerbs(exports)},
			Body:       []byte(fmt.Sprintf(`{"error":"method %s not allowed"}`, verb)),
		}
	}
	handler, ok := goja.AssertFunction(handlerVal)
	if !ok {
		return jsonError(500, verb+" export is not a function")
	}

	request := newWebRequestObject(vm, method, pathname, headers, body)
	handlerCtx := vm.NewObject()
	paramsObj := vm.NewObject()
	for k, v := range res.Params {
		_ = paramsObj.Set(k, v)
	}
	promise, resolve, _ := vm.NewPromise()
	resolve(paramsObj)
	_ = handlerCtx.Set("params", vm.ToValue(promise))

	type outcome struct {
		rec *httpmodel.ResponseRecord
		err error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultCh <- outcome{err: fmt.Errorf("handler threw: %v", rec)}
			}
		}()
		ret, callErr := handler(goja.Undefined(), request, handlerCtx)
		if callErr != nil {
			resultCh <- outcome{err: callErr}
			return
		}
		rec, convErr := convertHandlerResult(vm, ret)
		resultCh <- outcome{rec: rec, err: convErr}
	}()

	deadline, cancel := context.WithTimeout(ctx, s.handlerTimeout)
	defer cancel()
	select {
	case out := <-resultCh:
		if out.err != nil {
			s.log.Warn().Str("file", res.File).Err(out.err).Msg("route handler error")
			return jsonError(500, out.err.Error())
		}
		return out.rec
	case <-deadline.Done():
		vm.Interrupt("handler timeout")
		return jsonError(500, "handler timed out")
	}
}

func lookupVerbExport(exports goja.Value, verb string) goja.Value {
	obj, ok := exports.(*goja.Object)
	if !ok {
		return nil
	}
	if v := obj.Get(verb); v != nil && !goja.IsUndefined(v) {
		return v
	}
	// ESM default-object form: export default { GET, POST }.
	if def, ok := obj.Get("default").(*goja.Object); ok {
		if v := def.Get(verb); v != nil && !goja.IsUndefined(v) {
			return v
		}
	}
	return nil
}

var httpVerbs = []string{"GET", "HEAD", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}

func exportedVerbs(exports goja.Value) string {
	var out []string
	for _, verb := range httpVerbs {
		if lookupVerbExport(exports, verb) != nil {
			out = append(out, verb)
		}
	}
	return strings.Join(out, ", ")
}

// installWebResponse defines a minimal Web-API Response constructor:
// new Response(body, {status, statusText, headers}) plus Response.json.
func installWebResponse(vm *goja.Runtime) {
	ctor := vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		o := call.This
		_ = o.Set("__webResponse", true)
		body := ""
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Argument(0)) && !goja.IsNull(call.Argument(0)) {
			body = call.Argument(0).String()
		}
		_ = o.Set("body", body)
		status := int64(200)
		statusText := ""
		headers := vm.NewObject()
		if len(call.Arguments) > 1 {
			if init, ok := call.Argument(1).(*goja.Object); ok {
				if v := init.Get("status"); v != nil && !goja.IsUndefined(v) {
					status = v.ToInteger()
				}
				if v := init.Get("statusText"); v != nil && !goja.IsUndefined(v) {
					statusText = v.String()
				}
				if v := init.Get("headers"); v != nil && !goja.IsUndefined(v) {
					if h, ok := v.(*goja.Object); ok {
						for _, k := range h.Keys() {
							_ = headers.Set(k, h.Get(k).String())
						}
					}
				}
			}
		}
		_ = o.Set("status", status)
		_ = o.Set("statusText", statusText)
		_ = o.Set("headers", headers)
		return o
	})
	_ = vm.Set("Response", ctor)
	if ctorObj, ok := ctor.(*goja.Object); ok {
		_ = ctorObj.Set("json", func(call goja.FunctionCall) goja.Value {
			data, _ := json.Marshal(call.Argument(0).Export())
			o := vm.NewObject()
			_ = o.Set("__webResponse", true)
			_ = o.Set("body", string(data))
			status := int64(200)
			if len(call.Arguments) > 1 {
				if init, ok := call.Argument(1).(*goja.Object); ok {
					if v := init.Get("status"); v != nil && !goja.IsUndefined(v) {
						status = v.ToInteger()
					}
				}
			}
			_ = o.Set("status", status)
			headers := vm.NewObject()
			_ = headers.Set("content-type", "application/json")
			_ = o.Set("headers", headers)
			return o
		})
	}
}

// newWebRequestObject builds the Request-shaped argument: method, url,
// header lookup, and body accessors returning already-settled promises.
func newWebRequestObject(vm *goja.Runtime, method, pathname string, headers map[string]string, body []byte) *goja.Object {
	o := vm.NewObject()
	_ = o.Set("method", strings.ToUpper(method))
	_ = o.Set("url", pathname)

	headersObj := vm.NewObject()
	lower := make(map[string]string, len(headers))
	for k, v := range headers {
		lower[strings.ToLower(k)] = v
	}
	_ = headersObj.Set("get", func(call goja.FunctionCall) goja.Value {
		if v, ok := lower[strings.ToLower(call.Argument(0).String())]; ok {
			return vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = o.Set("headers", headersObj)

	bodyStr := string(body)
	_ = o.Set("text", func(call goja.FunctionCall) goja.Value {
		p, resolve, _ := vm.NewPromise()
		resolve(vm.ToValue(bodyStr))
		return vm.ToValue(p)
	})
	_ = o.Set("json", func(call goja.FunctionCall) goja.Value {
		p, resolve, reject := vm.NewPromise()
		parsed, err := vm.RunString("(" + bodyStr + ")")
		if err != nil {
			reject(vm.ToValue(err.Error()))
		} else {
			resolve(parsed)
		}
		return vm.ToValue(p)
	})
	return o
}

// convertHandlerResult turns a handler's return value into a
// ResponseRecord: Web Response objects map field by field, promises are
// unwrapped first, and anything else JSON-encodes as a 200.
func convertHandlerResult(vm *goja.Runtime, ret goja.Value) (*httpmodel.ResponseRecord, error) {
	if p, ok := ret.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			ret = p.Result()
		case goja.PromiseStateRejected:
			return nil, fmt.Errorf("handler rejected: %s", p.Result().String())
		default:
			return nil, fmt.Errorf("handler promise did not settle")
		}
	}
	if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
		return nil, fmt.Errorf("handler returned nothing")
	}

	obj, ok := ret.(*goja.Object)
	if !ok {
		data, _ := json.Marshal(ret.Export())
		return &httpmodel.ResponseRecord{
			StatusCode: 200,
			Headers:    map[string]string{"content-type": "application/json; charset=utf-8"},
			Body:       data,
		}, nil
	}

	if isRes := obj.Get("__webResponse"); isRes != nil && isRes.ToBoolean() {
		rec := &httpmodel.ResponseRecord{
			StatusCode: int(obj.Get("status").ToInteger()),
			Headers:    map[string]string{},
			Body:       []byte(obj.Get("body").String()),
		}
		if st := obj.Get("statusText"); st != nil && !goja.IsUndefined(st) {
			rec.StatusMessage = st.String()
		}
		if h, ok := obj.Get("headers").(*goja.Object); ok {
			for _, k := range h.Keys() {
				rec.Headers[strings.ToLower(k)] = h.Get(k).String()
			}
		}
		return rec, nil
	}

	// Plain object → JSON.
	data, _ := json.Marshal(obj.Export())
	return &httpmodel.ResponseRecord{
		StatusCode: 200,
		Headers:    map[string]string{"content-type": "application/json; charset=utf-8"},
		Body:       data,
	}, nil
}
