package tts

import (
	"bytes"
	"context"
	"io"
	"time"
)

// DefaultLanguage is applied when a request leaves language empty.
const DefaultLanguage = "en"

// Request is a synthesis request as received from a caller. SpeakerWAV, when
// it names an existing file, takes precedence over Speaker.
type Request struct {
	Text       string
	Language   string
	Speaker    string
	SpeakerWAV string
}

// Mode records which voice selection was used for a request.
type Mode string

const (
	ModeClone   Mode = "clone"
	ModeSpeaker Mode = "speaker"
	ModeDefault Mode = "default"
)

// ModelRequest is what the model sees after speaker resolution. Exactly one of
// Reference and Speaker is set.
type ModelRequest struct {
	Text      string
	Language  string
	Speaker   string
	Reference string
}

// Model is a loaded multi-speaker synthesis model. Implementations need not be
// safe for concurrent use; the Service serializes calls.
type Model interface {
	// Speakers lists the named voices the model exposes, possibly none.
	Speakers() []string
	// Synthesize returns a complete WAV file.
	Synthesize(ctx context.Context, req ModelRequest) ([]byte, error)
	Close() error
}

// Loader builds the model. It is called exactly once per Service.
type Loader func(ctx context.Context) (Model, error)

// Result is a successful synthesis.
type Result struct {
	RequestID string
	Audio     []byte
	Mode      Mode
	Speaker   string
	Reference string
	Language  string
	Duration  time.Duration
}

// Reader returns the encoded audio positioned at its first byte.
func (r *Result) Reader() io.Reader { return bytes.NewReader(r.Audio) }

// Health is the liveness report of the service.
type Health struct {
	Status  string
	Model   string
	Speaker string
	Ready   bool
}
