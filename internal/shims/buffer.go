package shims

import (
	"encoding/base64"
	"encoding/hex"

	"github.com/dop251/goja"
)

// installBuffer builds the buffer shim: a []byte-backed object with
// toString(encoding)/from(data, encoding) supporting utf8, base64, and
// hex, plus alloc/concat/byteLength.
func (t *Table) installBuffer() {
	obj := t.vm.NewObject()
	_ = obj.Set("from", func(call goja.FunctionCall) goja.Value {
		data := call.Argument(0).String()
		enc := "utf8"
		if len(call.Arguments) > 1 {
			enc = call.Argument(1).String()
		}
		var raw []byte
		switch enc {
		case "base64":
			raw, _ = base64.StdEncoding.DecodeString(data)
		case "hex":
			raw, _ = hex.DecodeString(data)
		default:
			raw = []byte(data)
		}
		return t.vm.ToValue(t.newBufferObject(raw))
	})
	_ = obj.Set("isBuffer", func(call goja.FunctionCall) goja.Value {
		o := call.Argument(0).ToObject(t.vm)
		if o == nil {
			return t.vm.ToValue(false)
		}
		return t.vm.ToValue(!goja.IsUndefined(o.Get("__isBuffer")))
	})
	_ = obj.Set("alloc", func(call goja.FunctionCall) goja.Value {
		size := int(call.Argument(0).ToInteger())
		if size < 0 {
			size = 0
		}
		raw := make([]byte, size)
		if len(call.Arguments) > 1 {
			fill := call.Argument(1).String()
			if len(fill) > 0 {
				for i := range raw {
					raw[i] = fill[i%len(fill)]
				}
			}
		}
		return t.vm.ToValue(t.newBufferObject(raw))
	})
	_ = obj.Set("byteLength", func(call goja.FunctionCall) goja.Value {
		return t.vm.ToValue(len([]byte(call.Argument(0).String())))
	})
	_ = obj.Set("concat", func(call goja.FunctionCall) goja.Value {
		arr := call.Argument(0).ToObject(t.vm)
		if arr == nil {
			return t.vm.ToValue(t.newBufferObject(nil))
		}
		var out []byte
		for _, k := range arr.Keys() {
			item := arr.Get(k).ToObject(t.vm)
			if item == nil {
				continue
			}
			if data := t.bufferBytes(item); data != nil {
				out = append(out, data...)
			}
		}
		return t.vm.ToValue(t.newBufferObject(out))
	})

	// The conventional import surface is `Buffer` on the module object:
	// `require("buffer").Buffer.from(...)`. The table object doubles as
	// both, matching how loosely the loaded packages treat the two.
	_ = obj.Set("Buffer", obj)
	t.set("shim:buffer", obj)
}

// bufferBytes recovers the raw bytes behind a buffer object via its
// hex round trip; shim buffer objects carry their data in Go, not as
// goja-visible indexed properties.
func (t *Table) bufferBytes(o *goja.Object) []byte {
	fn, ok := goja.AssertFunction(o.Get("toString"))
	if !ok {
		return nil
	}
	v, err := fn(o, t.vm.ToValue("hex"))
	if err != nil {
		return nil
	}
	raw, err := hex.DecodeString(v.String())
	if err != nil {
		return nil
	}
	return raw
}

func (t *Table) newBufferObject(raw []byte) *goja.Object {
	o := t.vm.NewObject()
	_ = o.Set("__isBuffer", true)
	_ = o.Set("length", len(raw))
	_ = o.Set("toString", func(call goja.FunctionCall) goja.Value {
		enc := "utf8"
		if len(call.Arguments) > 0 {
			enc = call.Argument(0).String()
		}
		switch enc {
		case "base64":
			return t.vm.ToValue(base64.StdEncoding.EncodeToString(raw))
		case "hex":
			return t.vm.ToValue(hex.EncodeToString(raw))
		default:
			return t.vm.ToValue(string(raw))
		}
	})
	return o
}
