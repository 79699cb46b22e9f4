package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/urfave/cli/v3"
)

func runCLI(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err = newCommand(&out, &errOut).Run(context.Background(), append([]string{appName}, args...))
	return out.String(), errOut.String(), err
}

func exitCode(err error) int {
	var exit cli.ExitCoder
	if errors.As(err, &exit) {
		return exit.ExitCode()
	}
	return -1
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	want := appName + " version " + version + "\n"
	for _, args := range [][]string{{"version"}, {"--version"}, {"-v"}} {
		out, _, err := runCLI(t, args...)
		if err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		if out != want {
			t.Errorf("%v: output = %q, want %q", args, out, want)
		}
	}
}

func TestHelp(t *testing.T) {
	for _, args := range [][]string{nil, {"help"}, {"--help"}} {
		out, _, err := runCLI(t, args...)
		if err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		for _, want := range []string{"serve", "version", "config", "prefix: \"api\"", "/api/users"} {
			if !strings.Contains(out, want) {
				t.Errorf("%v: help missing %q:\n%s", args, want, out)
			}
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	out, errOut, err := runCLI(t, "bogus")
	if code := exitCode(err); code != 1 {
		t.Fatalf("exit code = %d (err %v), want 1", code, err)
	}
	if out != "" {
		t.Errorf("unexpected stdout: %q", out)
	}
	want := "Unknown command: bogus\nRun 'prefix-fallback help' for usage information\n"
	if errOut != want {
		t.Errorf("stderr = %q, want %q", errOut, want)
	}
}

func TestConfigCommand(t *testing.T) {
	path := writeConfig(t, `
retry:
  prefix: "api"
routes:
  - path_prefix: "/api"
    backend: "http://localhost:3001"
  - path_prefix: "/admin"
    backend: "http://localhost:3002"
`)

	out, _, err := runCLI(t, "config", "--config", path)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	want := `Current Configuration:
  Prefix: "api"
  Enabled: true
  Logger: slog (stdout)
  Routes: 2
`
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigCommand_DisabledWithWarning(t *testing.T) {
	path := writeConfig(t, `
retry:
  prefix: "v2"
  log: false
routes:
  - path_prefix: "/api"
    backend: "http://localhost:3001"
`)

	out, _, err := runCLI(t, "config", "-c", path)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	for _, want := range []string{
		"  Logger: disabled\n",
		`  Warning: retry.prefix "/v2" is not covered by any route; retries will always fail`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigCommand_EnvPath(t *testing.T) {
	path := writeConfig(t, `
retry:
  prefix: "/api/"
routes:
  - path_prefix: "/api"
    backend: "http://localhost:3001"
`)
	t.Setenv("PREFIX_FALLBACK_CONFIG", path)

	out, _, err := runCLI(t, "config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out, `Prefix: "/api/"`) {
		t.Errorf("output = %q, want prefix from env-selected file", out)
	}
}

func TestConfigCommand_MissingFile(t *testing.T) {
	_, _, err := runCLI(t, "config", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if code := exitCode(err); code != 1 {
		t.Fatalf("exit code = %d (err %v), want 1", code, err)
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %q, want loading config", err)
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "routes: []\n")

	_, _, err := runCLI(t, "serve", "--config", path)
	if code := exitCode(err); code != 1 {
		t.Fatalf("exit code = %d (err %v), want 1", code, err)
	}
}

func TestRun_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, srv, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestRun_ListenError(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:-1", Handler: http.NotFoundHandler()}

	err := run(context.Background(), srv, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil || !strings.Contains(err.Error(), "server error") {
		t.Errorf("run = %v, want server error", err)
	}
}
