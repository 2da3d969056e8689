package services

// fswatcher.go adapts github.com/fsnotify/fsnotify — present across the pack
// (grafana-tempo, DataDog-dd-trace-go manifests) as the idiomatic Go
// file-change notifier — into the FileWatcher interface §6 specifies:
// "change_gen() -> u64, monotonic, bumped on any observed file-system
// change".
//
// © 2025 disasm-cache authors. MIT License.

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FsChangeWatcher watches a set of directories and increments an atomic
// generation counter on every fsnotify event, satisfying FileWatcher.
type FsChangeWatcher struct {
	gen     atomic.Uint64
	watcher *fsnotify.Watcher
	log     *zap.Logger
	done    chan struct{}
}

// NewFsChangeWatcher starts watching dirs; call Close to stop.
func NewFsChangeWatcher(log *zap.Logger, dirs ...string) (*FsChangeWatcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	fw := &FsChangeWatcher{watcher: w, log: log, done: make(chan struct{})}
	go fw.loop()
	return fw, nil
}

func (fw *FsChangeWatcher) loop() {
	for {
		select {
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.gen.Add(1)
			fw.log.Debug("debug-info source changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Warn("fs watcher error", zap.Error(err))
		case <-fw.done:
			return
		}
	}
}

// ChangeGen implements FileWatcher.
func (fw *FsChangeWatcher) ChangeGen() uint64 { return fw.gen.Load() }

// Close stops the watcher goroutine and releases the underlying fsnotify
// handle.
func (fw *FsChangeWatcher) Close() error {
	close(fw.done)
	return fw.watcher.Close()
}

// StaticWatcher is a FileWatcher whose generation is advanced manually —
// used by tests exercising §8's P6 re-decode trigger without real files.
type StaticWatcher struct {
	gen atomic.Uint64
}

// NewStaticWatcher returns a watcher starting at generation 0.
func NewStaticWatcher() *StaticWatcher { return &StaticWatcher{} }

// Bump advances the generation counter and returns the new value.
func (s *StaticWatcher) Bump() uint64 { return s.gen.Add(1) }

// ChangeGen implements FileWatcher.
func (s *StaticWatcher) ChangeGen() uint64 { return s.gen.Load() }
