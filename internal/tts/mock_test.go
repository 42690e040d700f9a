package tts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
)

func TestMockModelRendersKnownSpeaker(t *testing.T) {
	model := NewMockModel(24000, DefaultMockSpeakers)
	data, err := model.Synthesize(context.Background(), ModelRequest{Text: "hello", Language: "en", Speaker: "Claribel Dervla"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	info, samples, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.SampleRate != 24000 || info.Channels != 1 || len(samples) == 0 {
		t.Fatalf("unexpected wav %+v (%d samples)", info, len(samples))
	}
}

func TestMockModelRejectsUnknownSpeaker(t *testing.T) {
	model := NewMockModel(24000, DefaultMockSpeakers)
	_, err := model.Synthesize(context.Background(), ModelRequest{Text: "hello", Speaker: "Nobody"})
	if err == nil || !strings.Contains(err.Error(), `"Nobody"`) {
		t.Fatalf("expected unknown speaker error, got %v", err)
	}
}

func TestMockModelClonesFromReference(t *testing.T) {
	ref, err := audio.EncodeSamples(audio.Tone(16000, 100*time.Millisecond, 220, 0.2), 16000, 1)
	if err != nil {
		t.Fatalf("encode reference: %v", err)
	}
	path := filepath.Join(t.TempDir(), "ref.wav")
	if err := os.WriteFile(path, ref, 0o644); err != nil {
		t.Fatalf("write reference: %v", err)
	}

	model := NewMockModel(24000, nil)
	if _, err := model.Synthesize(context.Background(), ModelRequest{Text: "hello", Reference: path}); err != nil {
		t.Fatalf("clone synthesize: %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(bad, []byte("not audio"), 0o644); err != nil {
		t.Fatalf("write bad reference: %v", err)
	}
	if _, err := model.Synthesize(context.Background(), ModelRequest{Text: "hello", Reference: bad}); err == nil {
		t.Fatal("expected invalid reference to fail")
	}
}

func TestMockLoaderAddsDefaultSpeaker(t *testing.T) {
	cfg := config.Default().Sidecar
	cfg.Speakers = []string{"Gracie Wise"}
	cfg.DefaultSpeaker = "Custom Voice"

	load, err := NewLoader(cfg, newLogger())
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	model, err := load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	speakers := model.Speakers()
	if len(speakers) != 2 || speakers[0] != "Gracie Wise" || speakers[1] != "Custom Voice" {
		t.Fatalf("unexpected speakers %v", speakers)
	}
	if _, err := model.Synthesize(context.Background(), ModelRequest{Text: "hi", Speaker: "Custom Voice"}); err != nil {
		t.Fatalf("default speaker must be renderable: %v", err)
	}
}

func TestLoaderRejectsUnknownMode(t *testing.T) {
	cfg := config.Default().Sidecar
	cfg.Mode = "cloud"
	if _, err := NewLoader(cfg, newLogger()); err == nil {
		t.Fatal("expected unknown mode error")
	}
}

func TestExecLoaderStartsWorker(t *testing.T) {
	cfg := config.Default().Sidecar
	cfg.Mode = "exec"
	cfg.Command = os.Args[0]
	t.Setenv(helperEnv, "1")

	load, err := NewLoader(cfg, newLogger())
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	model, err := load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer model.Close()
	if got := model.Speakers(); len(got) == 0 || got[0] != "Claribel Dervla" {
		t.Fatalf("unexpected speakers %v", got)
	}
}
