// Package watch triggers indexing runs when the source tree changes
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/AtomicBim/rag-service/internal/documents"
)

// TriggerFunc performs one indexing run
type TriggerFunc func(ctx context.Context) error

// Watcher watches a source tree recursively and coalesces bursts of changes
// into single runs
type Watcher struct {
	root     string
	ignored  func(name string) bool
	debounce time.Duration
	fs       *fsnotify.Watcher
	log      *zap.Logger
}

// New watches root and every directory below it whose name is not ignored
func New(root string, ignored func(name string) bool, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if ignored == nil {
		ignored = func(string) bool { return false }
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		ignored:  ignored,
		debounce: debounce,
		fs:       fw,
		log:      log.With(zap.String("component", "watch")),
	}

	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}

	return w, nil
}

// addTree adds dir and its subdirectories to the watch list
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// directories may vanish between the event and the walk
			if errors.Is(err, fs.ErrNotExist) && path != dir {
				return nil
			}
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Relevant reports whether event can change what an indexing run sees
func (w *Watcher) Relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	if w.ignored(filepath.Base(event.Name)) {
		return false
	}

	_, ok := documents.FormatFromPath(event.Name)
	return ok
}

// Run calls trigger once the tree has been quiet for the debounce period
// after a relevant change. Changes arriving during a run schedule one more
// run. Run returns when ctx is done.
func (w *Watcher) Run(ctx context.Context, trigger TriggerFunc) error {
	log := w.log.With(zap.String("action", "watch"), zap.String("root", w.root))
	log.Info("watching source tree", zap.Duration("debounce", w.debounce))

	kick := make(chan struct{}, 1)
	runnerDone := make(chan struct{})

	go func() {
		defer close(runnerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-kick:
				if err := trigger(ctx); err != nil && ctx.Err() == nil {
					log.Error("triggered run failed", zap.Error(err))
				}
			}
		}
	}()
	defer func() { <-runnerDone }()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				return errors.New("watcher closed")
			}

			if event.Has(fsnotify.Create) && isDir(event.Name) && !w.ignored(filepath.Base(event.Name)) {
				if err := w.addTree(event.Name); err != nil {
					log.Warn("failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
				}
				// files copied in with the directory produce no events of their own
				timer.Reset(w.debounce)
				continue
			}

			if !w.Relevant(event) {
				continue
			}

			log.Debug("change detected", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			log.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			select {
			case kick <- struct{}{}:
			default:
				// a run is already queued
			}
		}
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
