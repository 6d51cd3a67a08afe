package swbridge

import (
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// portConn is one page's message port: a websocket with serialized
// writes, since request forwarding and registry notifications race.
type portConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *portConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	// The bridge is a dev tool serving localhost pages; the usual
	// same-origin check would reject the sandboxed iframes it exists for.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandlePort upgrades an HTTP request into a page's port connection and
// pumps its messages until the socket closes. Pages announce the servers
// they host with server-registered envelopes and answer forwarded
// requests with response envelopes.
func (b *Bridge) HandlePort(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("port upgrade failed")
		return
	}
	conn := &portConn{ws: ws}

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()
	b.log.Debug().Str("remote", r.RemoteAddr).Msg("port connected")

	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		for port, c := range b.remote {
			if c == conn {
				delete(b.remote, port)
			}
		}
		b.mu.Unlock()
		ws.Close()
		b.log.Debug().Str("remote", r.RemoteAddr).Msg("port disconnected")
	}()

	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		switch env.Type {
		case MsgInit:
			// The message-port handshake; nothing to transfer over a
			// socket that already is the port.
		case MsgServerRegistered:
			b.mu.Lock()
			b.remote[env.Port] = conn
			b.known[env.Port] = true
			b.mu.Unlock()
			b.log.Info().Int("port", env.Port).Msg("remote server registered")
		case MsgServerUnregistered:
			b.mu.Lock()
			if b.remote[env.Port] == conn {
				delete(b.remote, env.Port)
			}
			delete(b.known, env.Port)
			b.mu.Unlock()
			b.log.Info().Int("port", env.Port).Msg("remote server unregistered")
		case MsgResponse:
			if env.Response == nil {
				continue
			}
			b.mu.Lock()
			ch := b.pending[env.Response.ID]
			b.mu.Unlock()
			if ch != nil {
				select {
				case ch <- env.Response:
				default:
					// A second response for an id whose waiter already
					// gave up; drop it.
				}
			}
		}
	}
}

// Handler returns the bridge's outward http.Handler: virtual-prefix URLs
// tunnel to servers, the port path upgrades to a websocket, anything else
// is a 404.
func (b *Bridge) Handler(portPath string) http.Handler {
	if portPath == "" {
		portPath = "/__virtual_port__"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == portPath {
			b.HandlePort(w, r)
			return
		}
		if _, _, ok := ParseVirtualURL(r.URL.Path); !ok {
			http.NotFound(w, r)
			return
		}
		b.ServeVirtual(w, r)
	})
}

// ServeVirtual bridges one intercepted browser request end to end.
func (b *Bridge) ServeVirtual(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	url := r.URL.Path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	rec, err := b.Tunnel(r.Context(), r.Method, url, headers, body)
	if err != nil {
		// Transport failure: the fetch itself rejects.
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	for k, v := range rec.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.Body)
}

func readBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil
	}
	return data
}
