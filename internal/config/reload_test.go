package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// lockedBuffer is a log sink safe for the watcher goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const baseConfig = `
retry:
  prefix: "api"
rate_limit:
  requests_per_second: 100
  burst_size: 50
routes:
  - path_prefix: "/api"
    backend: "http://localhost:3000"
`

const retryConfigUpdated = `
retry:
  prefix: "v2"
  enabled: false
rate_limit:
  requests_per_second: 200
  burst_size: 100
routes:
  - path_prefix: "/api"
    backend: "http://localhost:3000"
  - path_prefix: "/v2"
    backend: "http://localhost:3001"
`

const invalidConfig = `
retry:
  prefix: "api?x"
routes: []
`

func writeTestConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// newTestReloader loads content from a temp file and returns a Reloader over
// it together with its log output.
func newTestReloader(t *testing.T, content string) (*Reloader, string, *lockedBuffer) {
	t.Helper()
	path := writeTestConfig(t, t.TempDir(), content)
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("loading initial config: %v", err)
	}
	logs := &lockedBuffer{}
	return NewReloader(path, initial, slog.New(slog.NewJSONHandler(logs, nil))), path, logs
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}
}

func TestReloader_Reload(t *testing.T) {
	r, path, logs := newTestReloader(t, baseConfig)

	var got []*Config
	r.OnReload(func(cfg *Config) { got = append(got, cfg) })

	rewrite(t, path, retryConfigUpdated)
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	cur := r.Current()
	if cur.Retry.Prefix != "v2" || cur.Retry.IsEnabled() {
		t.Errorf("retry = %+v, want prefix v2 disabled", cur.Retry)
	}
	if len(got) != 1 || got[0] != cur {
		t.Errorf("callbacks received %d configs, want the current one once", len(got))
	}
	for _, msg := range []string{
		"retry config changed",
		"rate limit config changed",
		"route count changed",
		"configuration reloaded successfully",
	} {
		if !strings.Contains(logs.String(), msg) {
			t.Errorf("logs missing %q", msg)
		}
	}
}

func TestReloader_ReloadRejectsInvalid(t *testing.T) {
	r, path, logs := newTestReloader(t, baseConfig)
	before := r.Current()

	called := false
	r.OnReload(func(*Config) { called = true })

	for _, content := range []string{invalidConfig, "retry: [unclosed"} {
		rewrite(t, path, content)
		if err := r.Reload(); err == nil {
			t.Errorf("Reload accepted %q", content)
		}
	}

	if r.Current() != before {
		t.Error("current config replaced by an invalid one")
	}
	if called {
		t.Error("callback invoked for a failed reload")
	}
	if !strings.Contains(logs.String(), "config reload failed") {
		t.Error("expected the failure to be logged")
	}
}

func TestReloader_ReloadLogsWarnings(t *testing.T) {
	r, path, logs := newTestReloader(t, baseConfig)

	rewrite(t, path, strings.Replace(baseConfig, `prefix: "api"`, `prefix: "missing"`, 1))
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !strings.Contains(logs.String(), "is not covered by any route") {
		t.Errorf("expected the uncovered prefix warning, got:\n%s", logs)
	}
}

func waitReload(t *testing.T, ch <-chan *Config) *Config {
	t.Helper()
	select {
	case cfg := <-ch:
		return cfg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a reload")
		return nil
	}
}

func TestReloader_WatchesFile(t *testing.T) {
	r, path, _ := newTestReloader(t, baseConfig)

	reloaded := make(chan *Config, 4)
	r.OnReload(func(cfg *Config) { reloaded <- cfg })
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	// Writes to other files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x: 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
		t.Fatal("reloaded for an unrelated file")
	case <-time.After(2 * reloadDebounce):
	}

	rewrite(t, path, retryConfigUpdated)
	if cfg := waitReload(t, reloaded); cfg.Retry.Prefix != "v2" {
		t.Errorf("retry.prefix = %q after in-place write, want v2", cfg.Retry.Prefix)
	}

	// Editors often save by renaming a temp file over the original.
	tmp := filepath.Join(filepath.Dir(path), ".gateway.yaml.swp")
	if err := os.WriteFile(tmp, []byte(baseConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	if cfg := waitReload(t, reloaded); cfg.Retry.Prefix != "api" {
		t.Errorf("retry.prefix = %q after replace, want api", cfg.Retry.Prefix)
	}
}

func TestReloader_StopTwice(t *testing.T) {
	r, _, _ := newTestReloader(t, baseConfig)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()
	r.Stop()
}

func TestReloader_StopWithoutStart(t *testing.T) {
	r, _, _ := newTestReloader(t, baseConfig)
	r.Stop()
}

func TestReloader_StartMissingDir(t *testing.T) {
	r := NewReloader(filepath.Join(t.TempDir(), "missing", "gateway.yaml"), nil, slog.New(slog.NewJSONHandler(&lockedBuffer{}, nil)))
	if err := r.Start(); err == nil {
		r.Stop()
		t.Fatal("expected an error watching a missing directory")
	}
}
