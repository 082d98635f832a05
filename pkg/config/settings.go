package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
)

// SettingsStore holds the session settings read by every invocation at build time.
type SettingsStore struct {
	mu          sync.RWMutex
	settings    domain.Settings
	subscribers []chan domain.Settings
}

// NewSettingsStore creates a store seeded with the given settings.
func NewSettingsStore(initial domain.Settings) *SettingsStore {
	return &SettingsStore{settings: initial}
}

// Current returns the current settings.
func (s *SettingsStore) Current() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Set replaces the settings. Values are stored raw; they are parsed per invocation.
func (s *SettingsStore) Set(settings domain.Settings) {
	s.mu.Lock()
	s.settings = settings
	subscribers := make([]chan domain.Settings, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- settings:
		default:
			// Skip if channel is full (slow consumer)
		}
	}
}

// Update applies fn to a copy of the current settings and stores the result.
func (s *SettingsStore) Update(fn func(*domain.Settings)) domain.Settings {
	next := s.Current()
	fn(&next)
	s.Set(next)
	return next
}

// Subscribe returns a channel that receives settings updates.
func (s *SettingsStore) Subscribe() <-chan domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan domain.Settings, 1)
	s.subscribers = append(s.subscribers, ch)
	ch <- s.settings
	return ch
}

// LoadSettings reads a YAML or JSON settings file.
func LoadSettings(path string) (domain.Settings, error) {
	// #nosec G304 -- File path is configured at startup
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Settings{}, err
	}

	var settings domain.Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		if jsonErr := json.Unmarshal(data, &settings); jsonErr != nil {
			return domain.Settings{}, fmt.Errorf("failed to parse settings file: %v", err)
		}
	}
	return settings, nil
}

// SettingsWatcher reloads a settings file into a SettingsStore whenever it changes.
type SettingsWatcher struct {
	path     string
	store    *SettingsStore
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	debounce time.Duration
	done     chan struct{}
}

// NewSettingsWatcher starts watching path. A missing file is tolerated; the store keeps
// its current settings until the file appears.
func NewSettingsWatcher(path string, store *SettingsStore, logger *slog.Logger) (*SettingsWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &SettingsWatcher{
		path:     absPath,
		store:    store,
		logger:   logger,
		watcher:  watcher,
		cancel:   cancel,
		debounce: 100 * time.Millisecond,
		done:     make(chan struct{}),
	}

	if err := w.load(); err != nil {
		logger.Warn("initial settings load failed", "path", absPath, "error", err)
	}

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	go w.watchLoop(ctx)

	return w, nil
}

// Close stops the watcher and cleans up resources.
func (w *SettingsWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *SettingsWatcher) watchLoop(ctx context.Context) {
	defer close(w.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(w.debounce, func() {
					if err := w.load(); err != nil {
						w.logger.Error("settings reload failed", "path", w.path, "error", err)
					} else {
						w.logger.Info("settings reloaded", "path", w.path)
					}
				})
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("settings watcher error", "error", err)
		}
	}
}

func (w *SettingsWatcher) load() error {
	settings, err := LoadSettings(w.path)
	if err != nil {
		return err
	}
	w.store.Set(settings)
	return nil
}
