// Package hmr is the hot-update channel: VFS change events are batched
// over a short window and delivered as classified HMRUpdate values to a
// registered delivery function, independent of transport (the
// bridge-backed deployment wires a websocket WriteJSON call into
// SetTarget; nothing in this package knows that).
package hmr

import (
	"sync"
	"time"

	"github.com/macaly/almostnode-sub000/internal/vfs"
)

// UpdateKind distinguishes a targeted module update from a full reload.
type UpdateKind string

const (
	KindUpdate     UpdateKind = "update"
	KindFullReload UpdateKind = "full-reload"
)

// HMRUpdate is one hot-update notification.
type HMRUpdate struct {
	Kind        UpdateKind
	Path        string
	TimestampMS int64
	ChannelTag  string
}

// Classifier decides, for a changed path, whether it can be delivered as
// a targeted update or forces a full reload — e.g. "is this a registered
// component file" in the framework-style deployment. The dev server makes
// that call; this package takes the decision as already made and has no
// opinion on framework semantics.
type Classifier func(path string) (kind UpdateKind, ok bool)

// Channel batches vfs.Watch events over a 30ms window (time.AfterFunc,
// reset on every new event) before classifying and delivering them, so a
// save that touches several files produces one delivery burst instead of
// an update per write.
type Channel struct {
	mu          sync.Mutex
	tag         string
	classify    Classifier
	target      func(HMRUpdate)
	batchWindow time.Duration
	timer       *time.Timer
	pending     map[string]struct{}
	now         func() time.Time
}

// New creates a Channel tagged channelTag (distinguishing framework-
// style from Vite-style updates on a shared page), using classify to
// decide each changed path's update kind. The delivery target defaults to
// a no-op until SetTarget is called.
func New(channelTag string, classify Classifier) *Channel {
	return &Channel{
		tag:         channelTag,
		classify:    classify,
		target:      func(HMRUpdate) {},
		batchWindow: 30 * time.Millisecond,
		pending:     make(map[string]struct{}),
		now:         time.Now,
	}
}

// SetTarget installs the delivery function updates are posted to, per
// spec §4.7's "posted to its registered iframe window (set via an
// explicit API)".
func (c *Channel) SetTarget(fn func(HMRUpdate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = fn
}

// Watch subscribes to w and feeds every event into the batching window
// until w is closed.
func (c *Channel) Watch(w *vfs.Watch) {
	go func() {
		for ev := range w.C() {
			c.onEvent(ev.Path)
		}
	}()
}

// Notify feeds a changed path into the batching window directly, for
// callers that filter or preprocess watch events before delivery instead
// of handing the Channel a raw vfs.Watch.
func (c *Channel) Notify(path string) {
	c.onEvent(path)
}

func (c *Channel) onEvent(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[path] = struct{}{}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.batchWindow, c.flush)
}

func (c *Channel) flush() {
	c.mu.Lock()
	paths := make([]string, 0, len(c.pending))
	for p := range c.pending {
		paths = append(paths, p)
	}
	c.pending = make(map[string]struct{})
	target := c.target
	classify := c.classify
	tag := c.tag
	nowFn := c.now
	c.mu.Unlock()

	ts := nowFn().UnixMilli()
	for _, p := range paths {
		kind, ok := classify(p)
		if !ok {
			kind = KindFullReload
		}
		target(HMRUpdate{Kind: kind, Path: p, TimestampMS: ts, ChannelTag: tag})
	}
}
