package shims

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"

	"github.com/dop251/goja"
)

// installZlib builds the zlib shim: compress/gzip and compress/flate
// wrapped as sync methods (gzipSync/gunzipSync/deflateSync/inflateSync).
// Thin synchronous wrappers; there is no async or streaming contract
// here.
func (t *Table) installZlib() {
	obj := t.vm.NewObject()
	_ = obj.Set("gzipSync", func(call goja.FunctionCall) goja.Value {
		data := []byte(call.Argument(0).String())
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		_, _ = w.Write(data)
		_ = w.Close()
		return t.vm.ToValue(t.newBufferObject(buf.Bytes()))
	})
	_ = obj.Set("gunzipSync", func(call goja.FunctionCall) goja.Value {
		data := []byte(call.Argument(0).String())
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			panic(t.vm.ToValue(err.Error()))
		}
		out, err := io.ReadAll(r)
		if err != nil {
			panic(t.vm.ToValue(err.Error()))
		}
		return t.vm.ToValue(t.newBufferObject(out))
	})
	_ = obj.Set("deflateSync", func(call goja.FunctionCall) goja.Value {
		data := []byte(call.Argument(0).String())
		var buf bytes.Buffer
		w, _ := flate.NewWriter(&buf, flate.DefaultCompression)
		_, _ = w.Write(data)
		_ = w.Close()
		return t.vm.ToValue(t.newBufferObject(buf.Bytes()))
	})
	_ = obj.Set("inflateSync", func(call goja.FunctionCall) goja.Value {
		data := []byte(call.Argument(0).String())
		r := flate.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			panic(t.vm.ToValue(err.Error()))
		}
		return t.vm.ToValue(t.newBufferObject(out))
	})
	t.set("shim:zlib", obj)
}
