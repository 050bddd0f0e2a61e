package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/internal/config"
)

const (
	baseYAML = "server:\n  log_level: info\nproxy:\n  default_voice: alloy\n"
	nextYAML = "server:\n  log_level: debug\nproxy:\n  default_voice: verse\n  max_sessions: 5\n"
	badYAML  = "server:\n  log_level: bananas\n"
)

// writeConfig writes content and moves the mtime forward so the change is
// visible even on filesystems with coarse timestamps.
func writeConfig(t *testing.T, path, content string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ts := time.Now().Add(age)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
}

type change struct{ old, next *config.Config }

// newWatcher starts a watcher that effectively never polls, so the test
// drives it through Reload.
func newWatcher(t *testing.T) (string, *config.Watcher, *[]change) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, baseYAML, -time.Hour)

	var changes []change
	w, err := config.NewWatcher(path, func(old, next *config.Config) {
		changes = append(changes, change{old, next})
	}, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, &changes
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := newWatcher(t)

	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q; want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Proxy.Path != "/agent" {
		t.Errorf("defaults not applied: proxy.path = %q", cfg.Proxy.Path)
	}
}

func TestWatcher_ReloadAppliesChange(t *testing.T) {
	t.Parallel()
	path, w, changes := newWatcher(t)

	writeConfig(t, path, nextYAML, 0)
	applied, err := w.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !applied {
		t.Fatal("Reload reported no change")
	}
	if len(*changes) != 1 {
		t.Fatalf("callbacks = %d; want 1", len(*changes))
	}
	c := (*changes)[0]
	if c.old.Proxy.DefaultVoice != "alloy" || c.next.Proxy.DefaultVoice != "verse" {
		t.Errorf("voice %q -> %q; want alloy -> verse", c.old.Proxy.DefaultVoice, c.next.Proxy.DefaultVoice)
	}
	if got := w.Current().Proxy.MaxSessions; got != 5 {
		t.Errorf("Current max_sessions = %d; want 5", got)
	}

	// Nothing changed since.
	if applied, _ := w.Reload(); applied {
		t.Error("second Reload applied a change")
	}
}

func TestWatcher_InvalidFileKeepsConfig(t *testing.T) {
	t.Parallel()
	path, w, changes := newWatcher(t)

	writeConfig(t, path, badYAML, 0)
	applied, err := w.Reload()
	if err == nil {
		t.Fatal("Reload accepted an invalid file")
	}
	if applied || len(*changes) != 0 {
		t.Errorf("applied = %v, callbacks = %d; want false, 0", applied, len(*changes))
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current log_level = %q; want %q", got, config.LogInfo)
	}

	// Fixing the file is picked up.
	writeConfig(t, path, nextYAML, time.Minute)
	if applied, err := w.Reload(); err != nil || !applied {
		t.Fatalf("Reload after fix = %v, %v; want true, nil", applied, err)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path, w, changes := newWatcher(t)

	ts := time.Now()
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	applied, err := w.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if applied || len(*changes) != 0 {
		t.Errorf("touch applied a change")
	}
}

func TestWatcher_Polls(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, baseYAML, -time.Hour)

	got := make(chan *config.Config, 1)
	w, err := config.NewWatcher(path, func(_, next *config.Config) {
		select {
		case got <- next:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, nextYAML, 0)
	select {
	case cfg := <-got:
		if cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("log_level = %q; want %q", cfg.Server.LogLevel, config.LogDebug)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not pick up the change")
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("NewWatcher succeeded for a missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	_, w, _ := newWatcher(t)
	w.Stop()
	w.Stop()
}
