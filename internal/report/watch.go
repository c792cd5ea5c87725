package report

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-renders outPath from tracePath every time tracePath changes,
// until ctx is cancelled, backing `tracecc report --watch`. onRender is
// called after every render attempt (nil error on success) so the caller
// can print progress; it is also called once immediately for the initial
// render.
func Watch(ctx context.Context, tracePath, outPath string, warn io.Writer, onRender func(error)) error {
	render := func() {
		payload, err := BuildPayload(tracePath, time.Now(), warn)
		if err != nil {
			onRender(err)
			return
		}
		onRender(WriteAtomic(outPath, payload))
	}
	render()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the containing directory rather than the file itself: writers
	// append via a lock-then-rename-free append, and some editors/loggers
	// replace a file by rename, which drops an inode-based watch.
	if err := watcher.Add(filepath.Dir(tracePath)); err != nil {
		return err
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(tracePath) {
				continue
			}
			if !pending {
				pending = true
				debounce.Reset(150 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			onRender(err)
		case <-debounce.C:
			pending = false
			render()
		}
	}
}
