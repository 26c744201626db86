package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Faultbox/raybridge/internal/assets"
)

// settle is how long files must stay quiet before a new render.
const settle = 300 * time.Millisecond

// watched returns the files whose changes trigger a render: the
// project, the scene and the resolved template.
func (h *host) watched() []string {
	files := []string{h.projectPath, h.scenePath}
	am := assets.NewManager()
	defer am.Close()
	am.AddDir(h.proj.Dir())
	for _, dir := range h.cfg.TemplateDirs {
		am.AddDir(dir)
	}
	if p, ok := am.Resolve(h.proj.Template); ok {
		files = append(files, p)
	}
	for i, f := range files {
		if abs, err := filepath.Abs(f); err == nil {
			files[i] = abs
		}
	}
	return files
}

// watch posts a reload whenever a watched file settles after a change.
// Directories are watched rather than files so editors that replace
// files on save are followed.
func (h *host) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, f := range h.watched() {
		files[f] = true
		dirs[filepath.Dir(f)] = true
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			w.Close()
			return err
		}
	}
	h.log.Info("watching for changes", zap.Int("files", len(files)))

	go func() {
		defer w.Close()
		timer := time.NewTimer(settle)
		timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !files[filepath.Clean(ev.Name)] || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				h.log.Debug("file changed", zap.String("file", ev.Name), zap.Stringer("op", ev.Op))
				timer.Reset(settle)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				h.log.Warn("watch error", zap.Error(err))
			case <-timer.C:
				h.post(ctx, func(h *host) bool {
					if err := h.reload(); err != nil {
						h.log.Error("reload failed", zap.Error(err))
						return false
					}
					return true
				})
			}
		}
	}()
	return nil
}
