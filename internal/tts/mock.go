package tts

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

// DefaultMockSpeakers mirrors a few of the XTTS-v2 studio voices.
var DefaultMockSpeakers = []string{
	"Claribel Dervla",
	"Daisy Studious",
	"Gracie Wise",
	"Tammie Ema",
	"Alison Dietlinde",
	"Andrew Chipper",
	"Badr Odhiambo",
	"Dionisio Schuyler",
}

const (
	mockPerRune     = 45 * time.Millisecond
	mockMinDuration = 300 * time.Millisecond
	mockMaxDuration = 30 * time.Second
)

type mockModel struct {
	sampleRate int
	speakers   []string
	known      map[string]struct{}
}

// NewMockModel returns a deterministic model that renders a tone per voice.
// Unknown speakers and unreadable references fail like a real model would.
func NewMockModel(sampleRate int, speakers []string) Model {
	known := make(map[string]struct{}, len(speakers))
	for _, sp := range speakers {
		known[sp] = struct{}{}
	}
	return &mockModel{sampleRate: sampleRate, speakers: append([]string{}, speakers...), known: known}
}

func (m *mockModel) Speakers() []string { return m.speakers }

func (m *mockModel) Synthesize(ctx context.Context, req ModelRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	voice := req.Speaker
	if req.Reference != "" {
		data, err := os.ReadFile(req.Reference)
		if err != nil {
			return nil, fmt.Errorf("read speaker reference: %w", err)
		}
		if _, _, err := audio.DecodeWAV(data); err != nil {
			return nil, fmt.Errorf("speaker reference %s: %w", req.Reference, err)
		}
		voice = req.Reference
	} else if _, ok := m.known[req.Speaker]; !ok {
		return nil, fmt.Errorf("speaker %q is not in the model's speaker list", req.Speaker)
	}

	d := time.Duration(len([]rune(req.Text))) * mockPerRune
	if d < mockMinDuration {
		d = mockMinDuration
	}
	if d > mockMaxDuration {
		d = mockMaxDuration
	}
	return audio.EncodeSamples(audio.Tone(m.sampleRate, d, voiceFrequency(voice), 0.25), m.sampleRate, 1)
}

func (m *mockModel) Close() error { return nil }

func voiceFrequency(voice string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(voice))
	return 160 + float64(h.Sum32()%240)
}
