package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// fileStamp identifies one version of the config file. modTime and size are
// the cheap pre-check; sum decides whether the content really changed.
type fileStamp struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

func (s fileStamp) sameFile(info os.FileInfo) bool {
	return s.modTime.Equal(info.ModTime()) && s.size == info.Size()
}

// Watcher keeps the config file and the running process in step. Each
// changed and valid version is handed to onChange together with its
// predecessor. Invalid versions are logged and skipped.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, next *Config)

	// reloadMu serialises Reload so onChange sees versions in order.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	stamp   fileStamp

	cancel   context.CancelFunc
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil.
func NewWatcher(path string, onChange func(old, next *Config), opts ...WatcherOption) (*Watcher, error) {
	cfg, stamp, err := readConfig(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		current:  cfg,
		stamp:    stamp,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run(ctx)
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload checks the file now instead of waiting for the next poll. It
// reports whether a new config was applied. An invalid file leaves the
// current config in place and returns the validation error.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return false, fmt.Errorf("config: stat %q: %w", w.path, err)
	}
	w.mu.Lock()
	prev := w.stamp
	w.mu.Unlock()
	if prev.sameFile(info) {
		return false, nil
	}

	next, stamp, err := readConfig(w.path)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	w.stamp = stamp
	if stamp.sum == prev.sum {
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current = next
	w.mu.Unlock()

	d := Diff(old, next)
	slog.Info("config reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"proxy_changed", d.ProxyChanged,
	)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "fields", d.RestartRequired)
	}
	if w.onChange != nil {
		w.onChange(old, next)
	}
	return true, nil
}

// Stop ends polling and waits for an in-flight reload to finish. It must not
// be called from onChange.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		<-w.stopped
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.stopped)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// readConfig loads and validates path and stamps the bytes it read.
func readConfig(path string) (*Config, fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := loadBytes(data)
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
