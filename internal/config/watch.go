package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadQuiet = 250 * time.Millisecond

// Watch invokes onChange after the config file changes, debounced so editor
// save storms (write + rename + chmod) collapse into one reload. The parent
// directory is watched rather than the file itself, because editors often
// replace the file and break a direct watch.
func Watch(ctx context.Context, path string, log zerolog.Logger, onChange func()) error {
	if path == "" {
		return fmt.Errorf("no config file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %q: %w", filepath.Dir(path), err)
	}

	debounced := debounce.New(reloadQuiet)
	target := filepath.Clean(path)

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
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				log.Debug().Str("file", path).Str("op", event.Op.String()).Msg("config file changed")
				debounced(onChange)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()

	return nil
}
