// Package watchdir turns a directory into a drop folder. Images written
// under it are debounced, filtered and submitted as upload runs on a
// fixed backend set. The watcher only starts runs; outcomes land in the
// retry coordinator like any other upload, so failures stay retryable
// after the file event is long gone.
package watchdir

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

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rjeczalik/notify"

	"github.com/pixrelay/pixrelay/internal/uploader"
	"github.com/pixrelay/pixrelay/internal/utils"
)

const (
	// DefaultDebounce is how long a path must stay quiet before its
	// upload is considered. Exports arrive as a burst of writes; on
	// linux inotify reports every chunk.
	DefaultDebounce = 800 * time.Millisecond

	// settleProbe is the gap between the two size probes that decide
	// whether a file is still growing.
	settleProbe = 150 * time.Millisecond

	eventBufferSize = 64
)

// Submitter starts an upload run for a matched file. *uploader.Coordinator
// satisfies it, which keeps watcher-started runs visible to the retry
// commands and the control plane.
type Submitter interface {
	Start(ctx context.Context, req uploader.UploadRequest) (*uploader.Run, error)
}

type Config struct {
	// Dir is watched recursively.
	Dir string

	// Backends receives every matched file.
	Backends []string

	// Patterns optionally narrows matches to doublestar globs, applied
	// to the slash-normalized path relative to Dir.
	Patterns []string

	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration

	Submitter Submitter

	// OnRun observes every started run. The daemon hooks the control
	// plane's run store here so drop-folder runs show up over HTTP.
	OnRun func(*uploader.Run)
}

type Watcher struct {
	config    Config
	ignore    *ignoreList
	rawEvents chan notify.EventInfo
	done      chan struct{}
	wg        sync.WaitGroup

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

func New(cfg Config) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watch dir is required")
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch dir %q is not a directory", cfg.Dir)
	}
	if cfg.Submitter == nil {
		return nil, errors.New("watch submitter is required")
	}
	if len(cfg.Backends) == 0 {
		return nil, errors.New("watch needs at least one backend")
	}
	for _, p := range cfg.Patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("bad watch pattern %q", p)
		}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Watcher{
		config: cfg,
		ignore: newIgnoreList(cfg.Dir),
		done:   make(chan struct{}),
		timers: make(map[string]*time.Timer),
	}, nil
}

// Start begins watching. The context bounds every run the watcher
// submits; cancel it before Stop so in-flight runs wind down instead of
// blocking the shutdown.
func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("watchdir start",
		"dir", w.config.Dir,
		"backends", w.config.Backends,
		"debounce", w.config.Debounce)

	w.ignore.Load()
	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)

	// Write catches files saved in place, Create files copied in,
	// Rename files moved in from elsewhere on the same filesystem.
	recursivePath := w.config.Dir + "/..."
	if err := notify.Watch(recursivePath, w.rawEvents, notify.Write|notify.Create|notify.Rename); err != nil {
		return fmt.Errorf("watch %s: %w", w.config.Dir, err)
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop halts watching, drops pending debounce timers and waits for the
// event loop and outcome loggers to exit.
func (w *Watcher) Stop() {
	close(w.done)

	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}

	w.timerMu.Lock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.timerMu.Unlock()

	w.wg.Wait()
	slog.Info("watchdir stopped")
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}
			path := event.Path()
			if !w.eligible(path) {
				continue
			}
			w.debounce(ctx, path)
		}
	}
}

// eligible applies the filters, cheapest first. It never stats: a path
// that matches but vanished is caught at flush time.
func (w *Watcher) eligible(path string) bool {
	rel, err := filepath.Rel(w.config.Dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)

	if !utils.IsImagePath(path) {
		return false
	}
	if w.ignore.Match(rel) {
		return false
	}
	if len(w.config.Patterns) == 0 {
		return true
	}
	for _, p := range w.config.Patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// debounce re-arms the per-path timer. A burst of writes to one file
// collapses into a single flush once the path stays quiet.
func (w *Watcher) debounce(ctx context.Context, path string) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.config.Debounce, func() {
		w.flush(ctx, path)
	})
}

// flush decides whether the quiet path is uploadable. A file whose size
// moved between the two probes is still being written, so it goes back
// through the debounce window instead of uploading a truncated image.
func (w *Watcher) flush(ctx context.Context, path string) {
	w.timerMu.Lock()
	delete(w.timers, path)
	w.timerMu.Unlock()

	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return
	}

	time.Sleep(settleProbe)
	after, err := os.Stat(path)
	if err != nil {
		return
	}
	if after.Size() != info.Size() {
		slog.Debug("watchdir file still growing", "path", path, "size", after.Size())
		w.debounce(ctx, path)
		return
	}

	select {
	case <-w.done:
		return
	default:
	}
	w.submit(ctx, path)
}

func (w *Watcher) submit(ctx context.Context, path string) {
	run, err := w.config.Submitter.Start(ctx, uploader.UploadRequest{
		FilePath: path,
		Backends: w.config.Backends,
	})
	if err != nil {
		slog.Error("watchdir submit", "path", path, "error", err)
		return
	}
	slog.Info("watchdir upload", "request_id", run.ID, "path", path)

	if w.config.OnRun != nil {
		w.config.OnRun(run)
	}

	w.wg.Add(1)
	go w.logOutcome(ctx, run)
}

// logOutcome reports how the run went. Failures stay with the retry
// coordinator, so they can be re-driven long after the file event.
func (w *Watcher) logOutcome(ctx context.Context, run *uploader.Run) {
	defer w.wg.Done()

	res, err := run.Wait(ctx)
	if err != nil {
		return
	}

	switch res.Overall {
	case uploader.AllSucceeded:
		slog.Info("watchdir upload done",
			"request_id", res.RequestID,
			"file", res.File,
			"primary", res.Primary)
	case uploader.PartialSuccess:
		slog.Warn("watchdir upload partial",
			"request_id", res.RequestID,
			"file", res.File,
			"primary", res.Primary,
			"failed", failedBackends(res.Outcomes))
	default:
		slog.Error("watchdir upload failed",
			"request_id", res.RequestID,
			"file", res.File,
			"failed", failedBackends(res.Outcomes))
	}
}

func failedBackends(outcomes []uploader.UploadOutcome) []string {
	var failed []string
	for _, o := range outcomes {
		if o.Status == uploader.StatusFailed {
			failed = append(failed, o.Backend)
		}
	}
	return failed
}
