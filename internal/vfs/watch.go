package vfs

import (
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// EventKind classifies a watch notification: EventChange for a write, a
// mkdir or the destination of a rename; EventDelete for an unlink, an
// rmdir or the source of a rename. There are only these two kinds; the
// disk mirror in loader.go folds several fsnotify operations into each.
type EventKind int

const (
	EventChange EventKind = iota
	EventDelete
)

// Event is delivered to a watch registration's channel.
type Event struct {
	Kind EventKind
	Path string
}

type watchEntry struct {
	prefix    string
	recursive bool
	ch        chan Event
	closeOnce sync.Once
}

// Watch registers a callback-less channel subscription against path. If
// recursive is true, mutations anywhere under path (not just path itself)
// are observed. The returned Watch must be closed to release resources.
type Watch struct {
	fs    *FS
	entry *watchEntry
}

// Watch subscribes to changes at path. Events are delivered on the
// returned Watch's C channel after the mutation that caused them has been
// applied and the filesystem is observably consistent.
func (fs *FS) Watch(p string, recursive bool) (*Watch, error) {
	np, err := normalize(p)
	if err != nil {
		return nil, err
	}
	entry := &watchEntry{
		prefix:    np,
		recursive: recursive,
		ch:        make(chan Event, 32),
	}
	fs.watchMu.Lock()
	fs.watches = append(fs.watches, entry)
	fs.watchMu.Unlock()
	return &Watch{fs: fs, entry: entry}, nil
}

// C returns the channel on which events are delivered.
func (w *Watch) C() <-chan Event { return w.entry.ch }

// Close unregisters the watch. Safe to call more than once.
func (w *Watch) Close() {
	w.entry.closeOnce.Do(func() {
		w.fs.watchMu.Lock()
		for i, e := range w.fs.watches {
			if e == w.entry {
				w.fs.watches = append(w.fs.watches[:i], w.fs.watches[i+1:]...)
				break
			}
		}
		w.fs.watchMu.Unlock()
		close(w.entry.ch)
	})
}

func matches(entry *watchEntry, p string) bool {
	if entry.prefix == p {
		return true
	}
	if !entry.recursive {
		return false
	}
	if entry.prefix == "/" {
		return true
	}
	return strings.HasPrefix(p, entry.prefix+"/")
}

// notify fans the event out to every matching registration. A snapshot
// of subscribers is taken first so that reentrant mutations from within a
// callback (here, a channel receiver) cannot corrupt the registration
// slice being iterated.
func (fs *FS) notify(p string, kind EventKind) {
	fs.watchMu.Lock()
	snapshot := make([]*watchEntry, len(fs.watches))
	copy(snapshot, fs.watches)
	fs.watchMu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	var g errgroup.Group
	for _, entry := range snapshot {
		entry := entry
		if !matches(entry, p) {
			continue
		}
		g.Go(func() error {
			select {
			case entry.ch <- Event{Kind: kind, Path: p}:
			default:
				// Drop on a full buffer rather than block the mutating
				// call; slow consumers see a gap, not a stall.
			}
			return nil
		})
	}
	_ = g.Wait()
}
