package directory

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// cardWatcher reloads the card set when files in the cards directory
// change.
type cardWatcher struct {
	dir     *Directory
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	logger  *zap.Logger
}

// Watch starts watching the cards directory for changes. Stop with
// StopWatching.
func (d *Directory) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(d.cfg.CardsDir); err != nil {
		_ = w.Close()
		return err
	}

	cw := &cardWatcher{dir: d, watcher: w, stopCh: make(chan struct{}), logger: d.logger}
	d.watcher = cw
	go cw.loop(ctx)

	d.logger.Info("Watching agent cards", zap.String("dir", d.cfg.CardsDir))
	return nil
}

// StopWatching stops the card watcher if one is running.
func (d *Directory) StopWatching() {
	if d.watcher != nil {
		close(d.watcher.stopCh)
		_ = d.watcher.watcher.Close()
		d.watcher = nil
	}
}

func (cw *cardWatcher) loop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			cw.logger.Error("Card watcher panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopCh:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			cw.handleEvent(ctx, event)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("Card watcher error", zap.Error(err))
		}
	}
}

func (cw *cardWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !isCardFile(filepath.Base(event.Name)) {
		return
	}
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return
	}

	// Small delay to let rapid successive writes settle.
	time.Sleep(50 * time.Millisecond)

	cw.logger.Debug("Card file changed",
		zap.String("file", filepath.Base(event.Name)),
		zap.String("op", event.Op.String()),
	)
	if err := cw.dir.LoadCards(ctx); err != nil {
		cw.logger.Error("Failed to reload agent cards",
			zap.String("file", filepath.Base(event.Name)),
			zap.Error(err),
		)
	}
}
