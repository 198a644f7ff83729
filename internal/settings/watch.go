package settings

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	reloadDebounce = 250 * time.Millisecond
	restartBase    = 250 * time.Millisecond
	restartMax     = 5 * time.Second
)

// Watch reloads the store whenever its file changes on disk and calls
// onChange with the new snapshot. Writes made through the store itself do not
// trigger onChange. Watch blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, log *zap.Logger, onChange func(Settings)) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			changed, err := s.Reload()
			if err != nil {
				log.Warn("settings_reload_failed", zap.String("path", s.path), zap.Error(err))
				return
			}
			if !changed {
				return
			}
			log.Info("settings_reloaded", zap.String("path", s.path))
			if onChange != nil {
				onChange(s.Snapshot())
			}
		})
	}

	backoff := restartBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	wait := func() bool {
		d := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, restartMax)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn("settings_watch_init_failed", zap.String("dir", dir), zap.Error(err))
			if !wait() {
				return nil
			}
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			log.Warn("settings_watch_add_failed", zap.String("dir", dir), zap.Error(err))
			if !wait() {
				return nil
			}
			continue
		}
		backoff = restartBase
		log.Debug("settings_watch_started", zap.String("dir", dir), zap.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if filepath.Base(ev.Name) == file &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					log.Warn("settings_watch_overflow", zap.Error(err))
					debounce()
					continue
				}
				log.Warn("settings_watch_error", zap.Error(err))
			}
		}
		_ = w.Close()
		log.Warn("settings_watch_restarting", zap.String("dir", dir))
		if !wait() {
			return nil
		}
	}
	return nil
}
