package trigfile

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the directory whenever a trigger file is written, created,
// removed or renamed, then calls onChange. A reload that fails keeps the
// previous rows and skips onChange. Watch returns once the watcher is
// running; it stops when ctx is cancelled. onChange runs on the watcher
// goroutine.
func (d *Dir) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("trigfile: start watcher: %w", err)
	}
	if err := watcher.Add(d.path); err != nil {
		watcher.Close()
		return fmt.Errorf("trigfile: watch %s: %w", d.path, err)
	}

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&relevant == 0 || !isTriggerFile(event.Name) {
					continue
				}
				log.Printf("trigfile: %s changed (%s)", filepath.Base(event.Name), event.Op)
				if err := d.Reload(); err != nil {
					log.Printf("trigfile: reload failed, keeping previous triggers: %v", err)
					continue
				}
				if onChange != nil {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("trigfile: watcher error: %v", err)
			}
		}
	}()
	log.Printf("trigfile: watching %s for changes", d.path)
	return nil
}
