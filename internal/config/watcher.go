package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watch monitors the configuration file for changes and invokes onReload
// with the freshly parsed configuration whenever the file is written or
// recreated. It blocks until ctx is cancelled. Editors that replace the
// file via rename are handled by watching the parent directory.
func Watch(ctx context.Context, path string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if errClose := watcher.Close(); errClose != nil {
			log.Errorf("failed to close config watcher: %v", errClose)
		}
	}()

	dir := filepath.Dir(path)
	if errAdd := watcher.Add(dir); errAdd != nil {
		return errAdd
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, errLoad := LoadConfig(path)
			if errLoad != nil {
				log.Errorf("failed to reload config: %v", errLoad)
				continue
			}
			log.Infof("config reloaded from %s", path)
			onReload(cfg)
		case errWatch, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("config watcher error: %v", errWatch)
		}
	}
}
