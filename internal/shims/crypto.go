package shims

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"hash"

	"github.com/dop251/goja"
)

// installCrypto builds the crypto shim: crypto/sha1, crypto/sha256,
// crypto/md5, and crypto/rand wrapped as a
// createHash(algo).update(data).digest(encoding) chain plus
// randomBytes(n).
func (t *Table) installCrypto() {
	obj := t.vm.NewObject()
	_ = obj.Set("createHash", func(call goja.FunctionCall) goja.Value {
		algo := call.Argument(0).String()
		var h hash.Hash
		switch algo {
		case "sha1":
			h = sha1.New()
		case "sha256":
			h = sha256.New()
		case "md5":
			h = md5.New()
		default:
			panic(t.vm.ToValue("unsupported digest algorithm: " + algo))
		}
		return t.vm.ToValue(t.newHashObject(h))
	})
	_ = obj.Set("randomBytes", func(call goja.FunctionCall) goja.Value {
		n := int(call.Argument(0).ToInteger())
		buf := make([]byte, n)
		_, _ = rand.Read(buf)
		return t.vm.ToValue(t.newBufferObject(buf))
	})
	t.set("shim:crypto", obj)
}

func (t *Table) newHashObject(h hash.Hash) *goja.Object {
	o := t.vm.NewObject()
	_ = o.Set("update", func(call goja.FunctionCall) goja.Value {
		_, _ = h.Write([]byte(call.Argument(0).String()))
		return o
	})
	_ = o.Set("digest", func(call goja.FunctionCall) goja.Value {
		sum := h.Sum(nil)
		enc := "hex"
		if len(call.Arguments) > 0 {
			enc = call.Argument(0).String()
		}
		switch enc {
		case "base64":
			return t.vm.ToValue(base64.StdEncoding.EncodeToString(sum))
		default:
			return t.vm.ToValue(hex.EncodeToString(sum))
		}
	})
	return o
}
