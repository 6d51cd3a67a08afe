package swbridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/macaly/almostnode-sub000/internal/httpmodel"
)

// ForcedHeaders are stamped onto every bridged response so served pages
// can run inside credentialless iframes on a cross-origin host page.
var ForcedHeaders = map[string]string{
	"cross-origin-embedder-policy": "credentialless",
	"cross-origin-opener-policy":   "same-origin",
	"cross-origin-resource-policy": "cross-origin",
}

// strippedHeaders are removed from bridged responses: frame-blocking
// headers would stop the served page from rendering in its iframe.
var strippedHeaders = []string{"x-frame-options"}

// Options configures a Bridge.
type Options struct {
	Registry *httpmodel.Registry
	Log      zerolog.Logger
	// Timeout bounds a tunneled request. Zero means 30s.
	Timeout time.Duration
}

// Bridge is the worker side of the service-worker protocol: it intercepts
// virtual-prefix URLs, forwards each as an id-correlated envelope to the
// owning server (in-process registry or a connected page), and converts
// the enveloped response back into a browser-facing one with the forced
// cross-origin headers applied.
type Bridge struct {
	registry *httpmodel.Registry
	log      zerolog.Logger
	timeout  time.Duration

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *SWResponse
	remote  map[int]*portConn            // ports hosted by connected pages
	conns   map[*portConn]struct{}
	known   map[int]bool                 // ports announced by register notifications
}

// New builds a Bridge over registry.
func New(opts Options) *Bridge {
	t := opts.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	return &Bridge{
		registry: opts.Registry,
		log:      opts.Log,
		timeout:  t,
		pending:  make(map[uint64]chan *SWResponse),
		remote:   make(map[int]*portConn),
		conns:    make(map[*portConn]struct{}),
		known:    make(map[int]bool),
	}
}

// Notify is the httpmodel.NotifyFunc hook: the registry announces
// register/unregister events here so the worker side knows which ports
// are live.
func (b *Bridge) Notify(event string, port int) {
	b.mu.Lock()
	switch event {
	case "register":
		b.known[port] = true
	case "unregister":
		delete(b.known, port)
	}
	b.mu.Unlock()
	b.log.Debug().Str("event", event).Int("port", port).Msg("server registry notification")
}

// BroadcastHMR fans a hot-update message out to every connected page,
// which posts it into its iframe. Sends are best-effort: a page that went
// away mid-write just drops off on its next read error.
func (b *Bridge) BroadcastHMR(msg HMRMessage) {
	b.mu.Lock()
	conns := make([]*portConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	for _, c := range conns {
		if err := c.writeJSON(Envelope{Type: MsgHMRUpdate, Update: &msg}); err != nil {
			b.log.Debug().Err(err).Msg("hmr broadcast write failed")
		}
	}
}

// Tunnel forwards one intercepted request and returns the finalized
// ResponseRecord with forced headers applied. rawURL must carry the
// virtual prefix. Debug query flags short-circuit before any lookup:
// __sw_health answers a hardcoded check, __sw_echo returns the request
// body base64-encoded.
func (b *Bridge) Tunnel(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*httpmodel.ResponseRecord, error) {
	port, rest, ok := ParseVirtualURL(rawURL)
	if !ok {
		return nil, fmt.Errorf("swbridge: %q does not match the virtual prefix", rawURL)
	}

	if strings.Contains(rest, "__sw_health") {
		return forceHeaders(&httpmodel.ResponseRecord{
			StatusCode: 200,
			Headers:    map[string]string{"content-type": "text/plain"},
			Body:       []byte("ok"),
		}), nil
	}
	if strings.Contains(rest, "__sw_echo") {
		return forceHeaders(&httpmodel.ResponseRecord{
			StatusCode: 200,
			Headers:    map[string]string{"content-type": "text/plain"},
			Body:       []byte(EncodeBody(body)),
		}), nil
	}

	req := &SWRequest{
		ID:      b.nextID.Add(1),
		Port:    port,
		Method:  method,
		URL:     rest,
		Headers: headers,
		Body:    body,
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.forward(ctx, req)
	if err != nil {
		return nil, err
	}
	return b.decodeResponse(resp)
}

// forward routes the envelope to whoever owns the port: a connected page
// first, then the in-process registry. A port nobody owns answers 503 —
// that is a response, not a transport error, so fetch still resolves.
func (b *Bridge) forward(ctx context.Context, req *SWRequest) (*SWResponse, error) {
	b.mu.Lock()
	conn := b.remote[req.Port]
	b.mu.Unlock()

	if conn != nil {
		return b.forwardRemote(ctx, conn, req)
	}
	return b.forwardLocal(ctx, req), nil
}

// forwardLocal dispatches through the registry and envelopes the result,
// keeping the base64 round trip so local and remote servers are
// observably identical through the bridge.
func (b *Bridge) forwardLocal(ctx context.Context, req *SWRequest) *SWResponse {
	rec, err := b.registry.Dispatch(ctx, req.Port, req.Method, req.URL, req.Headers, req.Body)
	if err != nil {
		if err == httpmodel.ErrNoServerAtPort {
			return &SWResponse{ID: req.ID, Data: &SWResponseData{
				StatusCode: 503,
				Headers:    map[string]string{"content-type": "text/plain"},
				BodyBase64: EncodeBody([]byte(fmt.Sprintf("no server registered at port %d", req.Port))),
			}}
		}
		b.log.Warn().Int("port", req.Port).Err(err).Msg("handler error")
		return &SWResponse{ID: req.ID, Data: &SWResponseData{
			StatusCode: 500,
			Headers:    map[string]string{"content-type": "text/plain"},
			BodyBase64: EncodeBody([]byte(err.Error())),
		}}
	}
	rec.Finalize()
	return &SWResponse{ID: req.ID, Data: &SWResponseData{
		StatusCode:    rec.StatusCode,
		StatusMessage: rec.StatusMessage,
		Headers:       rec.Headers,
		BodyBase64:    EncodeBody(rec.Body),
	}}
}

// forwardRemote sends the request envelope over the page's port
// connection and waits for the correlated response or the deadline.
func (b *Bridge) forwardRemote(ctx context.Context, conn *portConn, req *SWRequest) (*SWResponse, error) {
	ch := make(chan *SWResponse, 1)
	b.mu.Lock()
	b.pending[req.ID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
	}()

	if err := conn.writeJSON(Envelope{Type: MsgRequest, Request: req}); err != nil {
		return nil, fmt.Errorf("swbridge: forwarding request %d: %w", req.ID, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("swbridge: request %d timed out: %w", req.ID, ctx.Err())
	}
}

// decodeResponse converts an envelope into the browser-facing record:
// body decoded from base64, forced headers stamped, frame-blocking
// headers removed.
func (b *Bridge) decodeResponse(resp *SWResponse) (*httpmodel.ResponseRecord, error) {
	if resp.Error != "" {
		return forceHeaders(&httpmodel.ResponseRecord{
			StatusCode: 500,
			Headers:    map[string]string{"content-type": "text/plain"},
			Body:       []byte(resp.Error),
		}), nil
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("swbridge: response %d carries neither data nor error", resp.ID)
	}
	body, err := DecodeBody(resp.Data.BodyBase64)
	if err != nil {
		return nil, fmt.Errorf("swbridge: decoding response %d body: %w", resp.ID, err)
	}
	rec := &httpmodel.ResponseRecord{
		StatusCode:    resp.Data.StatusCode,
		StatusMessage: resp.Data.StatusMessage,
		Headers:       make(map[string]string, len(resp.Data.Headers)+len(ForcedHeaders)),
		Body:          body,
	}
	for k, v := range resp.Data.Headers {
		rec.Headers[strings.ToLower(k)] = v
	}
	return forceHeaders(rec), nil
}

func forceHeaders(rec *httpmodel.ResponseRecord) *httpmodel.ResponseRecord {
	if rec.Headers == nil {
		rec.Headers = make(map[string]string)
	}
	for _, h := range strippedHeaders {
		delete(rec.Headers, h)
	}
	for k, v := range ForcedHeaders {
		rec.Headers[k] = v
	}
	return rec
}
