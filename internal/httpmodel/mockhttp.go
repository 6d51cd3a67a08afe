package httpmodel

import (
	"encoding/json"
	"strings"

	"github.com/dop251/goja"
)

// MockRequest is the request object exposed to emulated handler code:
// headers, method, URL, and an optional body.
type MockRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// NewRequestObject builds the goja-visible request object for MockRequest.
func NewRequestObject(vm *goja.Runtime, req *MockRequest) *goja.Object {
	o := vm.NewObject()
	_ = o.Set("method", req.Method)
	_ = o.Set("url", req.URL)
	headers := vm.NewObject()
	for k, v := range req.Headers {
		_ = headers.Set(k, v)
	}
	_ = o.Set("headers", headers)
	_ = o.Set("body", string(req.Body))
	return o
}

// MockResponse is the response object exposed to emulated handler code:
// setHeader, writeHead, write, end, status, json, send. A resolver (the
// done channel) finalizes the accumulated ResponseRecord when end is
// called.
type MockResponse struct {
	record  ResponseRecord
	body    strings.Builder
	ended   bool
	done    chan *ResponseRecord
}

// NewMockResponse creates a response whose eventual ResponseRecord is
// delivered on the returned channel exactly once, when end() (or a
// method that calls end() internally — json/send) runs.
func NewMockResponse() (*MockResponse, <-chan *ResponseRecord) {
	r := &MockResponse{
		record: ResponseRecord{Headers: make(map[string]string), StatusCode: 200},
		done:   make(chan *ResponseRecord, 1),
	}
	return r, r.done
}

// NewResponseObject builds the goja-visible response object backing r.
func NewResponseObject(vm *goja.Runtime, r *MockResponse) *goja.Object {
	o := vm.NewObject()
	_ = o.Set("setHeader", func(call goja.FunctionCall) goja.Value {
		key := strings.ToLower(call.Argument(0).String())
		r.record.Headers[key] = call.Argument(1).String()
		return goja.Undefined()
	})
	_ = o.Set("writeHead", func(call goja.FunctionCall) goja.Value {
		r.record.StatusCode = int(call.Argument(0).ToInteger())
		if len(call.Arguments) > 1 {
			if hdrs := call.Argument(1).ToObject(vm); hdrs != nil {
				for _, k := range hdrs.Keys() {
					r.record.Headers[strings.ToLower(k)] = hdrs.Get(k).String()
				}
			}
		}
		return goja.Undefined()
	})
	_ = o.Set("status", func(call goja.FunctionCall) goja.Value {
		r.record.StatusCode = int(call.Argument(0).ToInteger())
		return o
	})
	_ = o.Set("write", func(call goja.FunctionCall) goja.Value {
		r.body.WriteString(call.Argument(0).String())
		return goja.Undefined()
	})
	_ = o.Set("end", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			r.body.WriteString(call.Argument(0).String())
		}
		r.finish()
		return goja.Undefined()
	})
	_ = o.Set("json", func(call goja.FunctionCall) goja.Value {
		data, _ := json.Marshal(call.Argument(0).Export())
		r.body.Write(data)
		r.record.Headers["content-type"] = "application/json; charset=utf-8"
		r.finish()
		return goja.Undefined()
	})
	_ = o.Set("send", func(call goja.FunctionCall) goja.Value {
		r.body.WriteString(call.Argument(0).String())
		r.finish()
		return goja.Undefined()
	})
	return o
}

func (r *MockResponse) finish() {
	if r.ended {
		return
	}
	r.ended = true
	r.record.Body = []byte(r.body.String())
	r.record.Finalize()
	rec := r.record
	r.done <- &rec
}
