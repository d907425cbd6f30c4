package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "taskbridge/pkg/logx"
)

// Watcher reloads the config file on change and publishes good versions
// to subscribers. Bad versions (parse or validation failures) are logged
// and skipped; the last good config stays in effect.
type Watcher struct {
	path string
	log  logx.Logger

	mu  sync.RWMutex
	cfg *Config

	subsMu sync.Mutex
	subs   []chan *Config
}

func NewWatcher(path string, log logx.Logger) *Watcher {
	return &Watcher{path: path, log: log}
}

// Load parses the file and makes it the current config.
func (w *Watcher) Load() (*Config, error) {
	cfg, err := Load(w.path)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
	return cfg, nil
}

func (w *Watcher) Get() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Subscribe returns a channel receiving each successfully reloaded
// config. Slow subscribers miss intermediate versions, never the latest.
func (w *Watcher) Subscribe(buffer int) chan *Config {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	w.subsMu.Lock()
	w.subs = append(w.subs, ch)
	w.subsMu.Unlock()
	return ch
}

func (w *Watcher) publish(cfg *Config) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for _, ch := range w.subs {
		// Drop the stale buffered version, then deliver the latest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
		}
	}
}

// Watch blocks until ctx is done, reloading on filesystem events.
// Reloads are debounced so editors that write in several steps trigger a
// single reload.
func (w *Watcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return err
	}
	w.log.Debug("config watcher started", logx.String("path", w.path))

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, w.reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				w.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload rejected", logx.String("path", w.path), logx.Err(err))
		return
	}
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
	w.publish(cfg)
	w.log.Info("config reloaded", logx.String("path", w.path))
}
