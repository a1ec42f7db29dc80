package skills

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watch hot-reloads the skill set when files under the skills directory
// change. Events are debounced so an editor save burst triggers one
// rescan. Safe to call when the directory does not exist yet.
func (l *Loader) Watch(ctx context.Context) error {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	if l.stopFn != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(l.dir); err != nil {
		// The directory may appear later; watch the parent for its
		// creation instead of failing startup.
		if parentErr := watcher.Add(filepath.Dir(l.dir)); parentErr != nil {
			watcher.Close()
			return err
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.stopFn = func() {
		cancel()
		watcher.Close()
		<-done
	}

	go l.watchLoop(watchCtx, watcher, done)
	return nil
}

// Close stops the watcher if one is running.
func (l *Loader) Close() {
	l.watchMu.Lock()
	stop := l.stopFn
	l.stopFn = nil
	l.watchMu.Unlock()
	if stop != nil {
		stop()
	}
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, l.Reload)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Newly created skill directories need their own watch for
			// the SKILL.md write that follows.
			if event.Op&fsnotify.Create != 0 {
				watcher.Add(event.Name)
			}
			scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.log.Warn("skills.watch_error", "error", err)
		}
	}
}
