package client

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/loqalabs/loqa-voice/internal/protocol"
)

// Remote is the multi-speaker sidecar, over HTTP (*Sidecar) or NATS (*BusRemote).
type Remote interface {
	Synthesize(ctx context.Context, req protocol.SynthesisRequest) ([]byte, error)
}

// Local is the single-voice fallback (*Streaming).
type Local interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Manager picks a synthesizer per call and falls back to the local voice
// when the sidecar fails.
type Manager struct {
	remote    Remote
	local     Local
	available atomic.Bool
	log       *slog.Logger
}

// NewManager accepts a nil remote or local; the missing side is treated as
// a failure when chosen.
func NewManager(remote Remote, local Local, log *slog.Logger) *Manager {
	m := &Manager{
		remote: remote,
		local:  local,
		log:    log.With(slog.String("component", "tts-manager")),
	}
	m.available.Store(true)
	return m
}

// Available reports whether the sidecar is still considered reachable.
func (m *Manager) Available() bool { return m.available.Load() }

// ResetAvailability lets the next xtts call try the sidecar again.
func (m *Manager) ResetAvailability() { m.available.Store(true) }

// Speak returns WAV audio for text and the engine that produced it. With
// EngineXTTS the sidecar is tried first unless it is already known to be
// unreachable; only ErrUnreachable marks it so.
func (m *Manager) Speak(ctx context.Context, text string, engine Engine) ([]byte, Engine, error) {
	if engine != EngineXTTS {
		audio, err := m.speakLocal(ctx, text)
		return audio, EnginePiper, err
	}
	if m.remote == nil || !m.available.Load() {
		m.log.Debug("sidecar unavailable, using streaming voice")
		audio, err := m.speakLocal(ctx, text)
		return audio, EnginePiper, err
	}

	audio, err := m.remote.Synthesize(ctx, protocol.SynthesisRequest{Text: text})
	if err == nil {
		return audio, EngineXTTS, nil
	}
	if ctx.Err() != nil {
		return nil, EngineXTTS, ctx.Err()
	}
	if errors.Is(err, ErrUnreachable) {
		m.available.Store(false)
		m.log.Warn("sidecar not reachable, disabling until reset; falling back to streaming voice",
			slog.String("error", err.Error()))
	} else {
		m.log.Warn("sidecar failed, falling back to streaming voice", slog.String("error", err.Error()))
	}
	if m.local == nil {
		return nil, EngineXTTS, err
	}
	audio, localErr := m.local.Synthesize(ctx, text)
	return audio, EnginePiper, localErr
}

func (m *Manager) speakLocal(ctx context.Context, text string) ([]byte, error) {
	if m.local == nil {
		return nil, errors.New("streaming voice not configured")
	}
	return m.local.Synthesize(ctx, text)
}
