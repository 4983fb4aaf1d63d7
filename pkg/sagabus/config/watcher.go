package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds the latest contents of a config file and reloads it when
// the file changes on disk.
type Watcher struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	current  Config
	onChange []func(Config)

	fsw  *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher performs the initial load of path. Call Start to begin
// watching. A nil logger uses slog.Default().
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := FromFile(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, logger: logger, current: cfg}, nil
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start watches the file's directory so editors that replace the file
// with a rename are still observed.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config watcher add %s: %w", w.path, err)
	}

	w.fsw = fsw
	w.done = make(chan struct{})
	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	target := filepath.Clean(w.path)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				if _, err := w.Reload(); err != nil {
					w.logger.Warn("config reload failed, keeping previous",
						slog.String("path", w.path),
						slog.String("error", err.Error()),
					)
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		case <-w.done:
			return
		}
	}
}

// Reload re-reads the file immediately and notifies callbacks.
func (w *Watcher) Reload() (Config, error) {
	cfg, err := FromFile(w.path)
	if err != nil {
		return Config{}, err
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	w.logger.Info("config reloaded", slog.String("path", w.path))
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

// Stop ends watching. It is safe to call on a watcher that was never started.
func (w *Watcher) Stop() error {
	if w.fsw == nil {
		return nil
	}
	close(w.done)
	w.wg.Wait()
	err := w.fsw.Close()
	w.fsw = nil
	return err
}
