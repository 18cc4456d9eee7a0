package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"castline/internal/logging"
)

const defaultSettle = 2 * time.Second

var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".wav":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
}

// IsAudio reports whether path has a recognized audio extension.
func IsAudio(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// Registrar creates a unit for a detected file. Returning ErrDuplicate (or
// an error wrapping it) marks the file as already known.
type Registrar func(ctx context.Context, path string) error

// ErrDuplicate is the sentinel a Registrar may wrap for known sources.
var ErrDuplicate = errors.New("source already registered")

// Watcher follows one inbox directory.
type Watcher struct {
	dir      string
	register Registrar
	settle   time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	pending  map[string]*time.Timer
	seen     map[string]bool
	cancel   context.CancelFunc
	watcher  *fsnotify.Watcher
	wg       sync.WaitGroup
	timersWG sync.WaitGroup
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithSettle overrides how long a file must stay unchanged before it is
// registered.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// New constructs a Watcher for dir.
func New(dir string, register Registrar, logger *slog.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      strings.TrimSpace(dir),
		register: register,
		settle:   defaultSettle,
		logger:   logging.NewComponentLogger(logger, "inbox"),
		pending:  make(map[string]*time.Timer),
		seen:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start scans the directory and begins watching it.
func (w *Watcher) Start(ctx context.Context) error {
	if w == nil || w.dir == "" {
		return errors.New("inbox directory not configured")
	}
	if w.register == nil {
		return errors.New("inbox registrar is nil")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("inbox watcher already running")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.watcher = fsw
	w.running = true

	w.wg.Add(1)
	go w.loop(runCtx, fsw)

	for _, path := range w.scan() {
		w.scheduleLocked(runCtx, path)
	}
	w.logger.Info("inbox watcher started",
		logging.String(logging.FieldEventType, "inbox_started"),
		logging.String("dir", w.dir),
		logging.Duration("settle", w.settle),
	)
	return nil
}

// Stop ends the watch and waits for in-flight registrations.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	fsw := w.watcher
	for path, timer := range w.pending {
		if timer.Stop() {
			w.timersWG.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	cancel()
	_ = fsw.Close()
	w.wg.Wait()
	w.timersWG.Wait()
}

func (w *Watcher) scan() []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logging.WarnWithContext(w.logger, "inbox scan failed", "inbox_scan_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.inbox_dir permissions"),
			logging.String(logging.FieldImpact, "files already in the inbox are not registered"),
		)
		return nil
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !IsAudio(entry.Name()) {
			continue
		}
		out = append(out, filepath.Join(w.dir, entry.Name()))
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("inbox watch error", logging.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || !IsAudio(name) {
		return
	}
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.mu.Lock()
		if w.running {
			w.scheduleLocked(ctx, event.Name)
		}
		w.mu.Unlock()
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.mu.Lock()
		if timer, ok := w.pending[event.Name]; ok {
			if timer.Stop() {
				w.timersWG.Done()
			}
			delete(w.pending, event.Name)
		}
		w.mu.Unlock()
	}
}

// scheduleLocked (re)starts the settle timer for path. The caller holds mu.
func (w *Watcher) scheduleLocked(ctx context.Context, path string) {
	if w.seen[path] {
		return
	}
	if timer, ok := w.pending[path]; ok {
		if timer.Stop() {
			w.timersWG.Done()
		}
	}
	w.timersWG.Add(1)
	w.pending[path] = time.AfterFunc(w.settle, func() {
		defer w.timersWG.Done()
		w.settled(ctx, path)
	})
}

func (w *Watcher) settled(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.pending, path)
	if !w.running || w.seen[path] {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return
	}
	err = w.register(ctx, path)
	if err != nil && !errors.Is(err, ErrDuplicate) {
		logging.WarnWithContext(w.logger, "inbox registration failed", "inbox_register_failed",
			logging.Error(err),
			logging.String("path", path),
			logging.String(logging.FieldErrorHint, "add the file manually with castline add"),
			logging.String(logging.FieldImpact, "the file is not processed"),
		)
		return
	}

	w.mu.Lock()
	w.seen[path] = true
	w.mu.Unlock()
	if err == nil {
		w.logger.Info("inbox file registered",
			logging.String(logging.FieldEventType, "inbox_registered"),
			logging.String("path", path),
			logging.Int64("bytes", info.Size()),
		)
	}
}
