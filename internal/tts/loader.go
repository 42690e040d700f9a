package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/mattn/go-shellwords"
)

// NewLoader picks the model implementation named by cfg.Mode.
func NewLoader(cfg config.SidecarConfig, log *slog.Logger) (Loader, error) {
	switch cfg.Mode {
	case "mock":
		speakers := cfg.Speakers
		if len(speakers) == 0 {
			speakers = DefaultMockSpeakers
		}
		speakers = withSpeaker(speakers, cfg.DefaultSpeaker)
		return func(ctx context.Context) (Model, error) {
			return NewMockModel(cfg.SampleRate, speakers), nil
		}, nil
	case "exec":
		parser := shellwords.NewParser()
		parser.ParseEnv = true
		args, err := parser.Parse(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("parse sidecar command: %w", err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("sidecar command empty")
		}
		opts := WorkerOptions{
			Command:     args,
			ModelID:     cfg.ModelID,
			Device:      "cpu",
			LoadTimeout: time.Duration(cfg.LoadTimeoutMS) * time.Millisecond,
		}
		if cfg.UseGPU {
			opts.Device = "cuda"
			opts.Env = append(opts.Env, "USE_GPU=1")
		}
		return func(ctx context.Context) (Model, error) {
			return StartWorker(ctx, opts, log)
		}, nil
	}
	return nil, fmt.Errorf("unknown sidecar mode %q", cfg.Mode)
}

func withSpeaker(speakers []string, speaker string) []string {
	for _, sp := range speakers {
		if sp == speaker {
			return speakers
		}
	}
	return append(append([]string{}, speakers...), speaker)
}
