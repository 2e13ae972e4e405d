package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 100 * time.Millisecond

// OnReload is called after a successful hot-reload with the previous and the
// freshly loaded config.
type OnReload func(old, new *Config)

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	filePath  string

	mu        sync.Mutex
	callbacks []OnReload
	lastSum   [sha256.Size]byte

	closeOnce sync.Once
	done      chan struct{}
}

// Watch starts watching filePath. A modified file is re-loaded and
// validated; a valid result replaces the global config and is handed to
// every callback. An invalid file keeps the previous config, and saves that
// leave the content unchanged are ignored.
func Watch(filePath string) (*Watcher, error) {
	if filePath == "" {
		return nil, fmt.Errorf("config watcher: file path must not be empty")
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("config watcher: resolving path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: creating fsnotify watcher: %w", err)
	}

	// Editors that save via rename replace the inode, so watch the directory.
	dir := filepath.Dir(absPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config watcher: watching directory %s: %w", dir, err)
	}

	w := &Watcher{
		fsWatcher: fsw,
		filePath:  absPath,
		done:      make(chan struct{}),
	}
	if data, err := os.ReadFile(absPath); err == nil {
		w.lastSum = sha256.Sum256(data)
	}

	go w.loop()
	return w, nil
}

// OnChange registers a callback run after each successful reload.
func (w *Watcher) OnChange(fn OnReload) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
	})
	return err
}

func (w *Watcher) loop() {
	var timer *time.Timer

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.filePath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, w.reload)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.filePath)
	if err != nil {
		// Rename-based saves briefly remove the file; the Create event that
		// follows triggers another reload.
		log.Debug().Err(err).Str("file", w.filePath).Msg("config file not readable yet")
		return
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	unchanged := bytes.Equal(sum[:], w.lastSum[:])
	w.mu.Unlock()
	if unchanged {
		return
	}

	old := Get()
	newCfg, err := Load(w.filePath)
	if err != nil {
		log.Error().Err(err).Str("file", w.filePath).Msg("config reload failed; keeping previous config")
		return
	}

	w.mu.Lock()
	w.lastSum = sum
	cbs := make([]OnReload, len(w.callbacks))
	copy(cbs, w.callbacks)
	w.mu.Unlock()

	log.Info().
		Str("file", w.filePath).
		Strs("changed", Diff(old, newCfg)).
		Msg("config reloaded")

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("config reload callback panicked")
				}
			}()
			cb(old, newCfg)
		}()
	}
}

// Diff lists the top-level sections ("server", "backends", "routing", ...)
// that differ between two configs. A nil config differs in every section.
func Diff(old, cur *Config) []string {
	sections := []struct {
		name string
		get  func(*Config) any
	}{
		{"server", func(c *Config) any { return c.Server }},
		{"backends", func(c *Config) any { return c.Backends }},
		{"routing", func(c *Config) any { return c.Routing }},
		{"engine", func(c *Config) any { return c.Engine }},
		{"resilience", func(c *Config) any { return c.Resilience }},
		{"tracing", func(c *Config) any { return c.Tracing }},
		{"dashboard", func(c *Config) any { return c.Dashboard }},
	}

	var changed []string
	for _, s := range sections {
		if old == nil || cur == nil || !reflect.DeepEqual(s.get(old), s.get(cur)) {
			changed = append(changed, s.name)
		}
	}
	return changed
}
