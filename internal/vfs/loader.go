package vfs

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// LoadDir populates fs from a real directory tree rooted at dir. It
// exists for seeding fixtures and project directories — the emulation's
// observable contract never requires a real filesystem.
func LoadDir(fs *FS, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		vp := "/" + filepath.ToSlash(rel)
		if info.IsDir() {
			return fs.Mkdir(vp, true)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if dir := filepath.ToSlash(filepath.Dir(vp)); dir != "/" && dir != "." {
			if err := fs.Mkdir(dir, true); err != nil {
				return err
			}
		}
		return fs.Write(vp, data)
	})
}

// DiskMirror watches a real directory with fsnotify and replays its changes
// into fs, so edits made to on-disk fixtures during a test run surface
// through the same vfs.Watch path as emulation-driven mutations. Call
// Close to stop watching.
type DiskMirror struct {
	watcher *fsnotify.Watcher
	dir     string
	done    chan struct{}
}

// NewDiskMirror starts mirroring dir into fs.
func NewDiskMirror(fs *FS, dir string) (*DiskMirror, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.Add(path)
		}
		return nil
	}); err != nil {
		w.Close()
		return nil, err
	}

	m := &DiskMirror{watcher: w, dir: dir, done: make(chan struct{})}
	go m.loop(fs)
	return m, nil
}

func (m *DiskMirror) loop(fs *FS) {
	defer close(m.done)
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(m.dir, ev.Name)
			if err != nil {
				continue
			}
			vp := "/" + filepath.ToSlash(rel)
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				_ = fs.Unlink(vp)
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				if data, err := os.ReadFile(ev.Name); err == nil {
					_ = fs.Write(vp, data)
				}
			}
		case _, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the mirror.
func (m *DiskMirror) Close() error {
	err := m.watcher.Close()
	<-m.done
	return err
}
