package secrets

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// AllowlistWatcher reloads a Redactor whenever its allowlist file changes.
type AllowlistWatcher struct {
	path     string
	redactor *Redactor
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	stop     chan struct{}
	once     sync.Once
	done     chan struct{}
}

// WatchAllowlist starts watching path and reloads r on every change. The
// parent directory is watched so editors that replace the file on save are
// picked up. A file that fails to parse is logged and the previous rules
// stay active.
func WatchAllowlist(ctx context.Context, path string, r *Redactor, logger *zap.Logger) (*AllowlistWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("allowlist path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving allowlist path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	w := &AllowlistWatcher{
		path:     abs,
		redactor: r,
		watcher:  watcher,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

// Close stops the watcher and waits for it to exit.
func (w *AllowlistWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
	})
	<-w.done
	return err
}

func (w *AllowlistWatcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("allowlist watcher error", zap.Error(err))
		}
	}
}

func (w *AllowlistWatcher) reload() {
	allowlist, err := LoadAllowlist(w.path)
	if err != nil {
		w.logger.Warn("allowlist reload failed; keeping previous rules", zap.String("path", w.path), zap.Error(err))
		return
	}
	if err := w.redactor.Reload(allowlist); err != nil {
		w.logger.Warn("allowlist reload failed; keeping previous rules", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("allowlist reloaded",
		zap.String("path", w.path),
		zap.Int("regexes", len(allowlist.Regexes)),
		zap.Int("stopwords", len(allowlist.StopWords)))
}
