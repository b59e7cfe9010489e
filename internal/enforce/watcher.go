package enforce

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 200 * time.Millisecond

// WatchRules reloads the rules file at path into p whenever it changes, until
// ctx is done. The parent directory is watched so atomic renames by editors
// are seen. A reload that fails to parse keeps the current rule set.
func (p *Pipeline) WatchRules(ctx context.Context, path string, extra []string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch rules: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch rules: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("watch rules %s: %w", abs, err)
	}

	go func() {
		defer w.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				p.reload(abs, extra)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				p.log.Warn("rules watcher error", "err", err)
			}
		}
	}()
	p.log.Info("watching rules file", "path", abs)
	return nil
}

func (p *Pipeline) reload(path string, extra []string) {
	rs, err := LoadRules(path, extra)
	if err != nil {
		p.log.Error("rules reload failed, keeping previous rule set", "path", path, "err", err)
		return
	}
	p.SetRules(rs)
}
