package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/piper"
)

// ErrNoAudio is returned when the streaming voice finishes without output.
var ErrNoAudio = errors.New("streaming voice produced no audio")

// Streaming renders speech with the local single-voice model and wraps the
// PCM as a WAV file.
type Streaming struct {
	voice *piper.Voice
}

func NewStreaming(cfg config.StreamingConfig, modelPath string) (*Streaming, error) {
	voice, err := piper.Load(cfg, modelPath)
	if err != nil {
		return nil, err
	}
	return &Streaming{voice: voice}, nil
}

func (s *Streaming) Synthesize(ctx context.Context, text string) ([]byte, error) {
	pcm, err := s.voice.Collect(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	wav, err := audio.EncodeWAV(pcm, s.voice.SampleRate(), piper.Channels)
	if err != nil {
		return nil, fmt.Errorf("wrap streaming audio: %w", err)
	}
	return wav, nil
}
