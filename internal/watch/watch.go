// Package watch turns a directory into an inbox of call recordings.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"call-review-go/internal/logger"
)

// Handler receives each recording once its file has stopped changing.
type Handler func(ctx context.Context, path string) error

type Options struct {
	// Settle is how long a file must go without writes before it is handed
	// off. Uploads land in several write events.
	Settle time.Duration
	// Existing also hands off recordings already in the directory at start.
	Existing bool
	// Extensions accepted, lower case with the dot. Defaults to .wav.
	Extensions []string
}

type Watcher struct {
	dir    string
	opts   Options
	handle Handler
	log    *logrus.Entry

	mu   sync.Mutex
	seen map[string]bool
}

func New(dir string, opts Options, handle Handler, log *logrus.Entry) *Watcher {
	if opts.Settle <= 0 {
		opts.Settle = 2 * time.Second
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".wav"}
	}
	return &Watcher{
		dir:    dir,
		opts:   opts,
		handle: handle,
		log:    logger.Component(log, "watch").WithField("dir", dir),
		seen:   map[string]bool{},
	}
}

func (w *Watcher) accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range w.opts.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// claim marks path as handed off and reports whether it was new.
func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[path] {
		return false
	}
	w.seen[path] = true
	return true
}

func (w *Watcher) dispatch(ctx context.Context, path string) {
	if !w.claim(path) {
		return
	}
	log := w.log.WithField("file", filepath.Base(path))
	if err := w.handle(ctx, path); err != nil {
		log.WithError(err).Warn("recording not accepted")
		return
	}
	log.Info("recording submitted")
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.WithField("settle", w.opts.Settle).Info("watching for recordings")

	if w.opts.Existing {
		existing, err := w.scan()
		if err != nil {
			return err
		}
		for _, p := range existing {
			w.dispatch(ctx, p)
		}
	}

	ready := make(chan string, 16)
	timers := map[string]*time.Timer{}
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()
	touch := func(path string) {
		if t, ok := timers[path]; ok {
			t.Reset(w.opts.Settle)
			return
		}
		timers[path] = time.AfterFunc(w.opts.Settle, func() {
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.accepts(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				touch(event.Name)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				if t, ok := timers[event.Name]; ok {
					t.Stop()
					delete(timers, event.Name)
				}
			}
		case path := <-ready:
			delete(timers, path)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			w.dispatch(ctx, path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("watcher error")
		}
	}
}

func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", w.dir, err)
	}
	var out []string
	for _, e := range entries {
		p := filepath.Join(w.dir, e.Name())
		if e.Type().IsRegular() && w.accepts(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}
