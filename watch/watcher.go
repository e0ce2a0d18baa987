// Package watch uploads files dropped into a local directory. It observes
// the directory with fsnotify, waits for each new file to settle (stop
// growing), then hands it to an uploader. It is the library-level engine
// behind a "drop folder" front end.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	sncloud "github.com/notewell/sncloud-go"
)

// Uploader uploads a single local file into a cloud folder. *sncloud.Client
// satisfies it.
type Uploader interface {
	Upload(ctx context.Context, filePath, targetFolder string, createFolder bool) (sncloud.UploadResult, error)
}

// FsWatcher abstracts fsnotify.Watcher so tests can inject events.
type FsWatcher interface {
	Add(path string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWatcher adapts *fsnotify.Watcher to FsWatcher (the concrete type
// exposes channels as struct fields, not methods).
type fsnotifyWatcher struct {
	*fsnotify.Watcher
}

func (w fsnotifyWatcher) Events() <-chan fsnotify.Event { return w.Watcher.Events }
func (w fsnotifyWatcher) Errors() <-chan error          { return w.Watcher.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: creating filesystem watcher: %w", err)
	}

	return fsnotifyWatcher{w}, nil
}

// Watch loop tuning.
const (
	watchErrInitBackoff = 100 * time.Millisecond
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2

	minSettleTick = 50 * time.Millisecond
)

// ErrNoDir is returned by Run when no watch directory is configured.
var ErrNoDir = errors.New("watch: no directory configured")

// Options configures a Watcher.
type Options struct {
	// Dir is the local directory to watch. Required.
	Dir string

	// TargetFolder is the cloud folder settled files are uploaded to.
	// Empty selects the uploader's default.
	TargetFolder string

	// Patterns are glob patterns matched against file names. An empty
	// list accepts every file.
	Patterns []string

	// SettleDelay is how long a file must stop changing before it is
	// uploaded. Zero means one second.
	SettleDelay time.Duration

	// Results, if non-nil, receives the outcome of every upload attempt.
	// Sends are dropped if the channel is full.
	Results chan<- sncloud.UploadResult

	Logger *slog.Logger

	// watcherFactory is a test seam. Nil selects fsnotify.
	watcherFactory func() (FsWatcher, error)
}

// pendingFile tracks a file between its last filesystem event and the
// moment it is considered settled.
type pendingFile struct {
	lastEvent time.Time
	lastSize  int64
}

// Watcher runs the drop-folder loop.
type Watcher struct {
	uploader Uploader
	opts     Options
	logger   *slog.Logger

	// pending is only touched from the watch goroutine.
	pending map[string]*pendingFile
}

// New creates a Watcher. The uploader is typically an authenticated
// *sncloud.Client.
func New(uploader Uploader, opts Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.SettleDelay <= 0 {
		opts.SettleDelay = time.Second
	}

	if opts.watcherFactory == nil {
		opts.watcherFactory = newFsnotifyWatcher
	}

	return &Watcher{
		uploader: uploader,
		opts:     opts,
		logger:   opts.Logger,
		pending:  make(map[string]*pendingFile),
	}
}

// Run watches the directory until ctx is canceled. Files already present
// when Run starts are queued as if they had just been created, so a restart
// never strands dropped files. Returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	if w.opts.Dir == "" {
		return ErrNoDir
	}

	watcher, err := w.opts.watcherFactory()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("watch: watching %s: %w", w.opts.Dir, err)
	}

	if err := w.queueExisting(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	settled := make(chan string)

	g.Go(func() error {
		defer close(settled)
		return w.watchLoop(ctx, watcher, settled)
	})

	g.Go(func() error {
		return w.uploadLoop(ctx, settled)
	})

	return g.Wait()
}

// queueExisting marks every matching file already in the directory as
// pending, so it is uploaded once it settles.
func (w *Watcher) queueExisting() error {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		return fmt.Errorf("watch: reading %s: %w", w.opts.Dir, err)
	}

	now := time.Now()

	for _, entry := range entries {
		if entry.IsDir() || !w.accepts(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		path := filepath.Join(w.opts.Dir, entry.Name())
		w.pending[path] = &pendingFile{lastEvent: now, lastSize: info.Size()}
	}

	return nil
}

// watchLoop is the main select loop. It turns filesystem events into
// pending entries and periodically promotes settled entries onto the
// settled channel.
func (w *Watcher) watchLoop(ctx context.Context, watcher FsWatcher, settled chan<- string) error {
	tick := w.opts.SettleDelay / 2
	if tick < minSettleTick {
		tick = minSettleTick
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			w.handleEvent(ev)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// Backoff prevents a tight loop under sustained errors
			// such as kernel buffer overflow.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errBackoff):
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}

		case <-ticker.C:
			w.promoteSettled(ctx, settled)
		}
	}
}

// handleEvent updates the pending set for a single fsnotify event.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	// Mode changes alone never indicate new content.
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	name := filepath.Base(ev.Name)

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		delete(w.pending, ev.Name)

	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if !w.accepts(name) {
			w.logger.Debug("ignoring file", slog.String("name", name))
			return
		}

		p := w.pending[ev.Name]
		if p == nil {
			p = &pendingFile{lastSize: -1}
			w.pending[ev.Name] = p
		}

		p.lastEvent = time.Now()
	}
}

// promoteSettled scans the pending set and sends every file that has been
// quiet for SettleDelay with a stable size.
func (w *Watcher) promoteSettled(ctx context.Context, settled chan<- string) {
	now := time.Now()

	for path, p := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			// Gone before it settled.
			delete(w.pending, path)
			continue
		}

		if info.IsDir() {
			delete(w.pending, path)
			continue
		}

		// A growing file resets the settle clock even without write
		// events (slow copies flush in bursts).
		if info.Size() != p.lastSize {
			p.lastSize = info.Size()
			p.lastEvent = now

			continue
		}

		if now.Sub(p.lastEvent) < w.opts.SettleDelay {
			continue
		}

		delete(w.pending, path)

		select {
		case settled <- path:
		case <-ctx.Done():
			return
		}
	}
}

// uploadLoop uploads settled files one at a time, preserving arrival order.
func (w *Watcher) uploadLoop(ctx context.Context, settled <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case path, ok := <-settled:
			if !ok {
				return nil
			}

			res, err := w.uploader.Upload(ctx, path, w.opts.TargetFolder, true)
			if err != nil {
				// Session-level failure: the loop keeps running, later
				// files may succeed after the caller re-authenticates.
				w.logger.Error("upload failed",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)

				res = sncloud.UploadResult{
					FilePath:  path,
					CloudPath: w.opts.TargetFolder,
					FileName:  filepath.Base(path),
					Error:     err.Error(),
				}
			} else if res.Success {
				w.logger.Info("uploaded dropped file",
					slog.String("path", path),
					slog.String("folder", res.CloudPath),
				)
			} else {
				w.logger.Warn("upload rejected",
					slog.String("path", path),
					slog.String("error", res.Error),
				)
			}

			w.report(res)
		}
	}
}

// report delivers a result without blocking the upload loop.
func (w *Watcher) report(res sncloud.UploadResult) {
	if w.opts.Results == nil {
		return
	}

	select {
	case w.opts.Results <- res:
	default:
		w.logger.Debug("dropping upload result, channel full",
			slog.String("path", res.FilePath))
	}
}

// accepts reports whether a file name passes the pattern filter. Hidden
// files and common partial-write suffixes are always rejected.
func (w *Watcher) accepts(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return false
	}

	lower := strings.ToLower(name)
	for _, suffix := range []string{".tmp", ".partial", ".crdownload", ".swp"} {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}

	if len(w.opts.Patterns) == 0 {
		return true
	}

	for _, pattern := range w.opts.Patterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}

	return false
}
