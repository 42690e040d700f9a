// Package busapi serves and calls the synthesis service over NATS request/reply.
package busapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/nats-io/nats.go"
)

// Backend is the synthesis service as seen by the bus.
type Backend interface {
	Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error)
	Health() tts.Health
	ListSpeakers() []string
}

// Responder answers tts.* requests on behalf of a Backend.
type Responder struct {
	backend    Backend
	conn       *nats.Conn
	maxPayload int64
	timeout    time.Duration
	log        *slog.Logger
	subs       []*nats.Subscription
}

// NewResponder subscribes the service subjects in queue group queue so that
// several nodes can share the load. timeout bounds each synthesis.
func NewResponder(client *bus.Client, backend Backend, queue string, timeout time.Duration, log *slog.Logger) (*Responder, error) {
	r := &Responder{
		backend:    backend,
		conn:       client.Conn(),
		maxPayload: client.MaxPayload(),
		timeout:    timeout,
		log:        log.With(slog.String("component", "bus-responder")),
	}
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectSynthesize: r.handleSynthesize,
		protocol.SubjectSpeakers:   r.handleSpeakers,
		protocol.SubjectHealth:     r.handleHealth,
	}
	for subject, handler := range handlers {
		sub, err := r.conn.QueueSubscribe(subject, queue, handler)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	if err := r.conn.Flush(); err != nil {
		r.Close()
		return nil, fmt.Errorf("flush subscriptions: %w", err)
	}
	r.log.Info("bus responder subscribed", slog.String("queue", queue), slog.Int("subjects", len(r.subs)))
	return r, nil
}

// Close drains the subscriptions.
func (r *Responder) Close() {
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.subs = nil
}

func (r *Responder) handleSynthesize(msg *nats.Msg) {
	var req protocol.SynthesisRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.respond(msg, protocol.BusReply{Error: "invalid request body: " + err.Error(), Kind: string(tts.KindInvalidRequest)})
		return
	}

	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	res, err := r.backend.Synthesize(ctx, tts.Request{
		Text:       req.Text,
		Language:   req.Language,
		Speaker:    req.Speaker,
		SpeakerWAV: req.SpeakerWAV,
	})
	if err != nil {
		r.respond(msg, protocol.BusReply{Error: err.Error(), Kind: string(tts.KindOf(err))})
		return
	}

	reply := protocol.BusReply{
		RequestID:   res.RequestID,
		AudioBase64: base64.StdEncoding.EncodeToString(res.Audio),
		Mode:        string(res.Mode),
		Speaker:     res.Speaker,
	}
	data, err := json.Marshal(reply)
	if err != nil {
		r.respond(msg, protocol.BusReply{RequestID: res.RequestID, Error: err.Error(), Kind: string(tts.KindSynthesis)})
		return
	}
	if r.maxPayload > 0 && int64(len(data)) > r.maxPayload {
		r.respond(msg, protocol.BusReply{
			RequestID: res.RequestID,
			Error:     fmt.Sprintf("audio reply of %d bytes exceeds bus max payload of %d bytes", len(data), r.maxPayload),
			Kind:      string(tts.KindSynthesis),
		})
		return
	}
	if err := msg.Respond(data); err != nil {
		r.log.Warn("failed to send synthesis reply", slog.String("request_id", res.RequestID), slog.String("error", err.Error()))
	}
}

func (r *Responder) handleSpeakers(msg *nats.Msg) {
	speakers := r.backend.ListSpeakers()
	if speakers == nil {
		speakers = []string{}
	}
	r.respond(msg, protocol.BusReply{Speakers: speakers})
}

func (r *Responder) handleHealth(msg *nats.Msg) {
	h := r.backend.Health()
	r.respond(msg, protocol.BusReply{Status: h.Status, Model: h.Model, Speaker: h.Speaker})
}

func (r *Responder) respond(msg *nats.Msg, reply protocol.BusReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		r.log.Warn("failed to encode bus reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		r.log.Warn("failed to send bus reply", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
	}
}
