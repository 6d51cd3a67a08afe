// Package httpmodel is the in-page HTTP abstraction: the process-wide
// port registry of VirtualServers, the ResponseRecord value every handler
// ultimately produces, and the mock request/response objects exposed to
// emulated handler code.
package httpmodel

import (
	"context"
	"sync"
)

// ResponseRecord is one finished response: status code/message,
// lower-cased header map, and a body. Content-Length, when present, must
// equal len(Body) — enforced by Finalize rather than left as an unchecked
// invariant.
type ResponseRecord struct {
	StatusCode    int
	StatusMessage string
	Headers       map[string]string
	Body          []byte
}

// Finalize fixes up Content-Length if the handler set one, so the header
// always matches the actual body length.
func (r *ResponseRecord) Finalize() {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	if _, ok := r.Headers["content-length"]; ok {
		r.Headers["content-length"] = itoa(len(r.Body))
	}
	if r.StatusCode == 0 {
		r.StatusCode = 200
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Handler is the VirtualServer contract: handleRequest(method, url,
// headers, body?) -> response, realized as a synchronous function
// returning (*ResponseRecord, error); any promise wrapping is the
// caller's own concern (goja-side wrapping happens in the http shim, not
// here).
type Handler func(ctx context.Context, method, url string, headers map[string]string, body []byte) (*ResponseRecord, error)

// VirtualServer is a port plus a handler, registered in a process-wide
// registry keyed by port.
type VirtualServer struct {
	Port    int
	Handler Handler
}

// NotifyFunc is called on register/unregister so the service-worker
// bridge learns which ports are live; internal/swbridge supplies this
// when wiring a Registry at startup.
type NotifyFunc func(event string, port int)

// Registry is the process-wide port->VirtualServer table.
type Registry struct {
	mu      sync.RWMutex
	servers map[int]*VirtualServer
	notify  NotifyFunc
}

// NewRegistry creates an empty Registry. notify may be nil.
func NewRegistry(notify NotifyFunc) *Registry {
	return &Registry{servers: make(map[int]*VirtualServer), notify: notify}
}

// Register installs a VirtualServer at port, replacing any prior
// registration, and fires the notify hook with "register".
func (r *Registry) Register(port int, handler Handler) error {
	r.mu.Lock()
	r.servers[port] = &VirtualServer{Port: port, Handler: handler}
	r.mu.Unlock()
	if r.notify != nil {
		r.notify("register", port)
	}
	return nil
}

// Unregister removes the VirtualServer at port, if any, and fires the
// notify hook with "unregister".
func (r *Registry) Unregister(port int) error {
	r.mu.Lock()
	_, existed := r.servers[port]
	delete(r.servers, port)
	r.mu.Unlock()
	if existed && r.notify != nil {
		r.notify("unregister", port)
	}
	return nil
}

// Lookup finds the VirtualServer registered at port.
func (r *Registry) Lookup(port int) (*VirtualServer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[port]
	return s, ok
}

// Dispatch looks up port and invokes its handler. Returns
// ErrNoServerAtPort if no server is registered there.
func (r *Registry) Dispatch(ctx context.Context, port int, method, url string, headers map[string]string, body []byte) (*ResponseRecord, error) {
	s, ok := r.Lookup(port)
	if !ok {
		return nil, ErrNoServerAtPort
	}
	return s.Handler(ctx, method, url, headers, body)
}
