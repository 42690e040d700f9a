package busapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/nats-io/nats.go"
)

// ErrNoResponders is returned when no synthesis node is subscribed.
var ErrNoResponders = errors.New("no tts responders on the bus")

// RemoteError is a failure reported by the responding node.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Requester calls a Responder.
type Requester struct {
	conn *nats.Conn
}

func NewRequester(conn *nats.Conn) *Requester {
	return &Requester{conn: conn}
}

// Synthesize returns the WAV bytes for req.
func (q *Requester) Synthesize(ctx context.Context, req protocol.SynthesisRequest) ([]byte, protocol.BusReply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, protocol.BusReply{}, err
	}
	reply, err := q.request(ctx, protocol.SubjectSynthesize, payload)
	if err != nil {
		return nil, reply, err
	}
	audio, err := base64.StdEncoding.DecodeString(reply.AudioBase64)
	if err != nil {
		return nil, reply, fmt.Errorf("decode bus audio: %w", err)
	}
	return audio, reply, nil
}

// Speakers lists the remote speaker catalog.
func (q *Requester) Speakers(ctx context.Context) ([]string, error) {
	reply, err := q.request(ctx, protocol.SubjectSpeakers, nil)
	if err != nil {
		return nil, err
	}
	if reply.Speakers == nil {
		return []string{}, nil
	}
	return reply.Speakers, nil
}

// Health fetches the remote health report.
func (q *Requester) Health(ctx context.Context) (protocol.HealthResponse, error) {
	reply, err := q.request(ctx, protocol.SubjectHealth, nil)
	if err != nil {
		return protocol.HealthResponse{}, err
	}
	return protocol.HealthResponse{Status: reply.Status, Model: reply.Model, Speaker: reply.Speaker}, nil
}

func (q *Requester) request(ctx context.Context, subject string, payload []byte) (protocol.BusReply, error) {
	msg, err := q.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return protocol.BusReply{}, fmt.Errorf("%s: %w", subject, ErrNoResponders)
		}
		return protocol.BusReply{}, fmt.Errorf("%s: %w", subject, err)
	}
	var reply protocol.BusReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return protocol.BusReply{}, fmt.Errorf("decode %s reply: %w", subject, err)
	}
	if reply.Error != "" {
		return reply, &RemoteError{Kind: reply.Kind, Message: reply.Error}
	}
	return reply, nil
}
