package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-voice/internal/busapi"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusRemote reaches the sidecar through NATS instead of HTTP.
type BusRemote struct {
	requester *busapi.Requester
	language  string
}

func NewBusRemote(requester *busapi.Requester, language string) *BusRemote {
	return &BusRemote{requester: requester, language: language}
}

// Synthesize maps a missing responder or a request timeout to ErrUnreachable.
func (b *BusRemote) Synthesize(ctx context.Context, req protocol.SynthesisRequest) ([]byte, error) {
	if req.Language == "" {
		req.Language = b.language
	}
	data, _, err := b.requester.Synthesize(ctx, req)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, busapi.ErrNoResponders) || errors.Is(err, nats.ErrTimeout) ||
		(errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil, err
}
