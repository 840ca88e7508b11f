//go:build unix

package status

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// WaitReady blocks until the readiness file appears under dir or ctx ends.
// The wait is event-driven via a directory watch rather than polling.
func WaitReady(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	// The file may have appeared before the watch was in place.
	if Ready(dir) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return context.Canceled
			}
			if ev.Has(fsnotify.Create) && Ready(dir) {
				return nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return context.Canceled
			}
			return err
		}
	}
}
