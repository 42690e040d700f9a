package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/httpapi"
	"github.com/loqalabs/loqa-voice/internal/tts"
)

func startSidecar(t *testing.T, load bool) string {
	t.Helper()
	t.Setenv("LOQA_CONFIG", "")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().Sidecar
	loader, err := tts.NewLoader(cfg, log)
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	svc := tts.NewService(cfg, loader, nil, log)
	if load {
		if err := svc.Load(context.Background()); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	srv := httptest.NewServer(httpapi.New(svc, nil, 1<<20, log).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Close()
	})
	return srv.URL
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestSayWritesWAV(t *testing.T) {
	url := startSidecar(t, true)
	out := filepath.Join(t.TempDir(), "hello.wav")

	code, _, stderr := runCLI("say", "-engine", "xtts", "-url", url, "-out", out, "Hello", "there")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stderr, "XTTS-v2") {
		t.Fatalf("expected engine in output, got %q", stderr)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if _, _, err := audio.DecodeWAV(data); err != nil {
		t.Fatalf("output is not wav: %v", err)
	}
}

func TestSayFailsWhenNothingCanSpeak(t *testing.T) {
	t.Setenv("LOQA_CONFIG", "")
	code, _, _ := runCLI("say", "-engine", "xtts", "-url", "http://127.0.0.1:1", "hello")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestSayRequiresText(t *testing.T) {
	if code, _, _ := runCLI("say"); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestHealthAndSpeakers(t *testing.T) {
	url := startSidecar(t, true)

	code, stdout, stderr := runCLI("health", "-url", url)
	if code != 0 || !strings.Contains(stdout, `"status": "ok"`) {
		t.Fatalf("health exit %d: %s %s", code, stdout, stderr)
	}

	code, stdout, stderr = runCLI("speakers", "-url", url)
	if code != 0 || !strings.Contains(stdout, "Claribel Dervla\n") {
		t.Fatalf("speakers exit %d: %s %s", code, stdout, stderr)
	}
}

func TestHealthWhileLoadingExitsNonZero(t *testing.T) {
	url := startSidecar(t, false)
	code, stdout, _ := runCLI("health", "-url", url)
	if code != 1 || !strings.Contains(stdout, `"status": "unstarted"`) {
		t.Fatalf("expected not-ready health, got %d %s", code, stdout)
	}
}

func TestVersionAndUnknown(t *testing.T) {
	if code, stdout, _ := runCLI("version"); code != 0 || strings.TrimSpace(stdout) != version {
		t.Fatalf("unexpected version output %d %q", code, stdout)
	}
	if code, _, _ := runCLI("bogus"); code != 2 {
		t.Fatalf("expected exit 2 for unknown command, got %d", code)
	}
	if code, _, _ := runCLI(); code != 2 {
		t.Fatalf("expected exit 2 without command, got %d", code)
	}
}
