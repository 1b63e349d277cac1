// Package inbox watches a drop folder for webcode list files and stores
// them as code lists ready for searching.
package inbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tbafbrt/Billedhenter/internal/codes"
	"github.com/tbafbrt/Billedhenter/internal/session"
)

// debounce gives editors and file copies time to finish writing before the
// file is read.
const debounce = 200 * time.Millisecond

// EventCallback is called after a dropped file has been stored as a code
// list.
type EventCallback func(name string, id int64, codeCount int)

// Watch starts an fsnotify watcher on dir and processes dropped .txt/.csv
// files until ctx is cancelled. Each accepted file becomes one stored code
// list named after the file; files with no parsable codes are logged and
// skipped. cb (if non-nil) runs after each successful store.
func Watch(ctx context.Context, dir string, store *session.Store, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	logger.Info("inbox: started", slog.String("dir", dir))

	// pending debounces per-file events; the timer fires once per quiet
	// period and drains everything collected so far.
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("inbox: stopped")
			return nil

		case <-timerCh:
			for path := range pending {
				delete(pending, path)
				ingest(path, store, logger, cb)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !acceptable(ev.Name) {
				continue
			}
			pending[ev.Name] = struct{}{}
			schedule()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("inbox: watcher error", slog.String("error", err.Error()))
		}
	}
}

func acceptable(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".csv":
		return true
	}
	return false
}

func ingest(path string, store *session.Store, logger *slog.Logger, cb EventCallback) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("inbox: read failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	res, err := codes.ParseText(string(data))
	if err != nil {
		logger.Warn("inbox: no codes found", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	if len(res.Implausible) > 0 {
		logger.Warn("inbox: skipped implausible tokens",
			slog.String("path", path),
			slog.Int("count", len(res.Implausible)))
	}

	name := filepath.Base(path)
	id, err := store.SaveCodeList(name, res.Codes)
	if err != nil {
		logger.Warn("inbox: store failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	logger.Info("inbox: code list stored",
		slog.String("name", name),
		slog.Int64("id", id),
		slog.Int("codes", len(res.Codes)))
	if cb != nil {
		cb(name, id, len(res.Codes))
	}
}
