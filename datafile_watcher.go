package optimizely

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchSettleDelay coalesces the burst of filesystem events one
// datafile deployment produces into a single reload.
const watchSettleDelay = 100 * time.Millisecond

// startWatcher arms an fsnotify watcher for the configured datafile.
// The watch is on the containing directory: deployers usually replace
// the file atomically instead of writing it in place, and only the
// directory watch sees the create and rename events that produces.
func (f *datafileFetcher) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot create datafile watcher: %v", err)
	}
	absPath, err := filepath.Abs(f.path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("cannot resolve datafile path %q: %v", f.path, err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("cannot watch datafile directory: %v", err)
	}
	f.logger.Infof("watching datafile %s", absPath)
	f.wg.Add(1)
	go f.runWatcher(watcher, absPath)
	return nil
}

// runWatcher reloads the datafile after each settled burst of events
// touching it. Reloads go through the usual revision gating, so a
// rewrite with an equal or lower revision changes nothing. Watcher
// errors are logged and watching continues.
func (f *datafileFetcher) runWatcher(watcher *fsnotify.Watcher, absPath string) {
	defer f.wg.Done()
	defer watcher.Close()
	var reload <-chan time.Time
	for {
		select {
		case <-f.ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			reload = time.After(watchSettleDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Errorf("datafile watcher error: %v", err)
		case <-reload:
			reload = nil
			if err := f.reloadFile(); err != nil {
				f.logger.Errorf("cannot reload datafile: %v", err)
			}
		}
	}
}
