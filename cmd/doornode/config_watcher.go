package main

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stlalpha/doornode/internal/config"
)

const reloadDebounce = 500 * time.Millisecond

// ConfigWatcher reloads the door catalog when doors.json changes.
type ConfigWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	watcherDone chan struct{}
	configDir   string
	catalog     *config.Catalog
	onReload    func(n int, err error)
}

// NewConfigWatcher starts watching configDir.
func NewConfigWatcher(configDir string, catalog *config.Catalog) (*ConfigWatcher, error) {
	return startConfigWatcher(configDir, catalog, nil)
}

// startConfigWatcher is NewConfigWatcher with a callback run after every
// catalog reload.
func startConfigWatcher(configDir string, catalog *config.Catalog, onReload func(n int, err error)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", configDir, err)
	}
	log.Printf("INFO: Watching %s for config changes (auto-reload enabled)", configDir)

	cw := &ConfigWatcher{
		watcher:     watcher,
		watcherDone: make(chan struct{}),
		configDir:   configDir,
		catalog:     catalog,
		onReload:    onReload,
	}
	go cw.watchLoop(watcher)
	return cw, nil
}

// Stop stops the watcher. Safe to call more than once.
func (cw *ConfigWatcher) Stop() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.watcher == nil {
		return
	}
	close(cw.watcherDone)
	cw.watcher.Close()
	cw.watcher = nil
	log.Printf("INFO: Configuration file watcher stopped")
}

func (cw *ConfigWatcher) watchLoop(w *fsnotify.Watcher) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				cw.handleConfigChange(name)
			})

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("ERROR: Config file watcher error: %v", err)

		case <-cw.watcherDone:
			return
		}
	}
}

func (cw *ConfigWatcher) handleConfigChange(path string) {
	switch strings.ToLower(filepath.Base(path)) {
	case "doors.json":
		cw.reloadDoors()
	case "config.json":
		log.Printf("WARN: config.json changed - server restart required for changes to take effect")
	}
}

func (cw *ConfigWatcher) reloadDoors() {
	err := cw.catalog.Reload(filepath.Join(cw.configDir, "doors.json"))
	if err != nil {
		log.Printf("ERROR: Failed to reload doors.json, catalog is now empty: %v", err)
	} else {
		log.Printf("INFO: doors.json reloaded successfully (%d doors configured)", cw.catalog.Len())
	}
	if cw.onReload != nil {
		cw.onReload(cw.catalog.Len(), err)
	}
}
