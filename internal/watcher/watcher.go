package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/your-org/vesselwatch/internal/observability"
)

// Submitter hands one file to the task queue.
type Submitter interface {
	Submit(ctx context.Context, path string) error
}

// SubmitFunc adapts a function to Submitter.
type SubmitFunc func(ctx context.Context, path string) error

func (f SubmitFunc) Submit(ctx context.Context, path string) error { return f(ctx, path) }

type Config struct {
	Dir           string
	Suffix        string        // matched case-insensitively, default ".mp4"
	Capacity      int           // hand-off queue size, default 256
	SubmitTimeout time.Duration // per submission, default 10s
	ScanExisting  bool          // submit matching files already present at Start
}

// Watcher submits every new file in one directory (non-recursive) whose name
// ends with the configured suffix. A create event is taken to mean the file
// is complete.
//
// fsnotify events are read on a monitor goroutine that never blocks: matching
// paths go into a bounded queue, and are dropped with a warning when it is
// full. A consumer goroutine submits queued paths one at a time.
type Watcher struct {
	cfg    Config
	submit Submitter

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	paths    chan string
	cancel   context.CancelFunc
	monitor  sync.WaitGroup
	consumer sync.WaitGroup
	started  bool
	stopped  bool
}

func New(cfg Config, submit Submitter) *Watcher {
	if cfg.Suffix == "" {
		cfg.Suffix = ".mp4"
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 256
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	return &Watcher{
		cfg:    cfg,
		submit: submit,
		paths:  make(chan string, cfg.Capacity),
	}
}

// Start begins monitoring. It returns once the directory watch is in place.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return errors.New("watcher already started")
	}

	dir, err := filepath.Abs(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("resolve watch dir: %w", err)
	}
	w.cfg.Dir = dir

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.started = true

	w.monitor.Add(1)
	go w.runMonitor()

	w.consumer.Add(1)
	go w.runConsumer(ctx)

	if w.cfg.ScanExisting {
		w.scanExisting()
	}

	slog.Info("watching directory", "dir", dir, "suffix", w.cfg.Suffix)
	return nil
}

// Stop closes the fsnotify watch and waits for the monitor goroutine to exit,
// then cancels and waits for the consumer. No submission starts after Stop
// returns. Queued paths that were not yet submitted are discarded.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started || w.stopped {
		return
	}
	w.stopped = true

	if err := w.fsw.Close(); err != nil {
		slog.Warn("close fsnotify watcher", "error", err)
	}
	w.monitor.Wait()

	w.cancel()
	w.consumer.Wait()

	if n := len(w.paths); n > 0 {
		slog.Warn("watcher stopped with unsubmitted files", "count", n)
	}
	slog.Info("watcher stopped", "dir", w.cfg.Dir)
}

func (w *Watcher) runMonitor() {
	defer w.monitor.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) && w.matches(ev.Name) {
				w.offer(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("fsnotify error", "dir", w.cfg.Dir, "error", err)
		}
	}
}

func (w *Watcher) runConsumer(ctx context.Context) {
	defer w.consumer.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.paths:
			if ctx.Err() != nil {
				return
			}
			w.submitOne(ctx, path)
		}
	}
}

func (w *Watcher) submitOne(ctx context.Context, path string) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.SubmitTimeout)
	defer cancel()

	if err := w.submit.Submit(ctx, path); err != nil {
		observability.WatcherSubmissions.WithLabelValues("failed").Inc()
		slog.Error("submit video", "path", path, "error", err)
		return
	}
	observability.WatcherSubmissions.WithLabelValues("submitted").Inc()
	slog.Info("submitted video", "path", path)
}

// offer queues path without blocking. It reports false when the path was dropped.
func (w *Watcher) offer(path string) bool {
	select {
	case w.paths <- path:
		return true
	default:
		observability.WatcherDropped.Inc()
		slog.Warn("watcher queue full, dropping file", "path", path, "capacity", cap(w.paths))
		return false
	}
}

func (w *Watcher) matches(path string) bool {
	if !strings.HasSuffix(strings.ToLower(path), strings.ToLower(w.cfg.Suffix)) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		slog.Warn("scan watch dir", "dir", w.cfg.Dir, "error", err)
		return
	}
	for _, e := range entries {
		path := filepath.Join(w.cfg.Dir, e.Name())
		if w.matches(path) {
			w.offer(path)
		}
	}
}
