package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-voice/tts"

// State is the lifecycle position of a Service.
type State int32

const (
	StateUnstarted State = iota
	StateLoading
	StateReady
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Recorder journals finished requests. *eventstore.Store satisfies it.
type Recorder interface {
	AppendSynthesis(ctx context.Context, evt eventstore.SynthesisEvent) error
}

// Service owns the loaded model and serves synthesis requests against it.
type Service struct {
	cfg      config.SidecarConfig
	load     Loader
	recorder Recorder
	logger   *slog.Logger

	state atomic.Int32

	// mu serializes every call into the model.
	mu     sync.Mutex
	model  Model
	closed bool

	catalogMu sync.RWMutex
	speakers  []string

	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram

	clock func() time.Time
	stat  func(string) (os.FileInfo, error)
}

// NewService builds an Unstarted service. recorder may be nil.
func NewService(cfg config.SidecarConfig, load Loader, recorder Recorder, log *slog.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		load:     load,
		recorder: recorder,
		logger:   log.With(slog.String("component", "tts-service")),
		tracer:   otel.Tracer(instrumentationName),
		clock:    time.Now,
		stat:     os.Stat,
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

func (s *Service) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	requests, err := meter.Int64Counter("loqa.tts.requests", metric.WithDescription("Synthesis requests by mode and outcome"))
	if err != nil {
		return err
	}
	duration, err := meter.Float64Histogram("loqa.tts.synthesis.duration",
		metric.WithDescription("Time spent in the model per request"), metric.WithUnit("s"))
	if err != nil {
		return err
	}
	s.requests = requests
	s.duration = duration
	return nil
}

// State reports the current lifecycle state.
func (s *Service) State() State { return State(s.state.Load()) }

// Load builds the model. It blocks until the model is ready and may be called once.
func (s *Service) Load(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateUnstarted), int32(StateLoading)) {
		return fmt.Errorf("load model: service is %s", s.State())
	}
	s.logger.Info("loading model",
		slog.String("model", s.cfg.ModelName),
		slog.String("model_id", s.cfg.ModelID),
		slog.Bool("gpu", s.cfg.UseGPU))

	started := s.clock()
	model, err := s.load(ctx)
	if err != nil {
		s.state.Store(int32(StateShuttingDown))
		return fmt.Errorf("load model %s: %w", s.cfg.ModelName, err)
	}

	speakers := append([]string{}, model.Speakers()...)
	s.catalogMu.Lock()
	s.speakers = speakers
	s.catalogMu.Unlock()

	s.mu.Lock()
	s.model = model
	s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(StateLoading), int32(StateReady)) {
		// Close ran while the model was loading.
		s.mu.Lock()
		s.model = nil
		s.mu.Unlock()
		_ = model.Close()
		return notReady(StateShuttingDown)
	}

	attrs := []any{
		slog.String("model", s.cfg.ModelName),
		slog.String("default_speaker", s.cfg.DefaultSpeaker),
		slog.Duration("load_time", s.clock().Sub(started)),
	}
	if len(speakers) > 0 {
		attrs = append(attrs, slog.Int("speakers", len(speakers)))
	}
	s.logger.Info("model loaded", attrs...)
	return nil
}

// Close stops accepting requests, waits for the in-flight one and releases the model.
func (s *Service) Close() error {
	s.state.Store(int32(StateShuttingDown))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.model == nil {
		return nil
	}
	err := s.model.Close()
	s.model = nil
	return err
}

// Health reports liveness and whether the model can serve requests.
func (s *Service) Health() Health {
	state := s.State()
	status := state.String()
	if state == StateReady {
		status = "ok"
	}
	return Health{
		Status:  status,
		Model:   s.cfg.ModelName,
		Speaker: s.cfg.DefaultSpeaker,
		Ready:   state == StateReady,
	}
}

// ListSpeakers returns the model's speaker catalog, empty before load or when
// the model exposes none.
func (s *Service) ListSpeakers() []string {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	return append(make([]string, 0, len(s.speakers)), s.speakers...)
}

// DefaultSpeaker is the named voice used when a request selects none.
func (s *Service) DefaultSpeaker() string { return s.cfg.DefaultSpeaker }

// Synthesize renders req to a complete WAV file. Failures are *Error values;
// none of them change the service state.
func (s *Service) Synthesize(ctx context.Context, req Request) (*Result, error) {
	requestID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "tts.synthesize", trace.WithAttributes(
		attribute.String("tts.request_id", requestID),
		attribute.Int("tts.text_chars", len([]rune(req.Text))),
	))
	defer span.End()

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = DefaultLanguage
	}

	started := s.clock()
	res, sel, err := s.synthesize(ctx, req, language)
	elapsed := s.clock().Sub(started)

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("tts.mode", string(sel.mode)), attribute.String("tts.outcome", outcome))
	s.observe(ctx, sel.mode, outcome, elapsed)
	s.record(ctx, requestID, req, language, sel, res, outcome, err, elapsed)

	if err != nil {
		if KindOf(err) == KindSynthesis {
			s.logger.Warn("tts synthesis error",
				slog.String("request_id", requestID),
				slog.String("mode", string(sel.mode)),
				slog.String("error", err.Error()))
		}
		return nil, err
	}
	res.RequestID = requestID
	res.Duration = elapsed
	s.logger.Debug("tts synthesis complete",
		slog.String("request_id", requestID),
		slog.String("mode", string(res.Mode)),
		slog.Int("bytes", len(res.Audio)),
		slog.Duration("duration", elapsed))
	return res, nil
}

type selection struct {
	mode      Mode
	speaker   string
	reference string
}

// resolve applies the voice selection policy: an existing reference sample
// wins, then an explicit speaker, then the configured default.
func (s *Service) resolve(req Request) selection {
	if ref := strings.TrimSpace(req.SpeakerWAV); ref != "" {
		if _, err := s.stat(ref); err == nil {
			return selection{mode: ModeClone, reference: ref}
		}
		s.logger.Debug("speaker reference not found, using named speaker", slog.String("speaker_wav", ref))
	}
	if speaker := strings.TrimSpace(req.Speaker); speaker != "" {
		return selection{mode: ModeSpeaker, speaker: speaker}
	}
	return selection{mode: ModeDefault, speaker: s.cfg.DefaultSpeaker}
}

func (s *Service) synthesize(ctx context.Context, req Request, language string) (*Result, selection, error) {
	if state := s.State(); state != StateReady {
		return nil, selection{}, notReady(state)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, selection{}, &Error{Kind: KindInvalidRequest, Message: ErrEmptyText.Error()}
	}

	sel := s.resolve(req)
	audio, err := s.invoke(ctx, ModelRequest{
		Text:      req.Text,
		Language:  language,
		Speaker:   sel.speaker,
		Reference: sel.reference,
	})
	if err != nil {
		return nil, sel, err
	}
	return &Result{
		Audio:     audio,
		Mode:      sel.mode,
		Speaker:   sel.speaker,
		Reference: sel.reference,
		Language:  language,
	}, sel, nil
}

func (s *Service) invoke(ctx context.Context, req ModelRequest) (audio []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.model == nil {
		return nil, notReady(s.State())
	}
	defer func() {
		if r := recover(); r != nil {
			audio = nil
			err = synthesisFailure(fmt.Errorf("model panic: %v", r))
		}
	}()
	audio, err = s.model.Synthesize(ctx, req)
	if err != nil {
		return nil, synthesisFailure(err)
	}
	if len(audio) == 0 {
		return nil, synthesisFailure(fmt.Errorf("model returned no audio"))
	}
	return audio, nil
}

func (s *Service) observe(ctx context.Context, mode Mode, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("mode", string(mode)), attribute.String("outcome", outcome))
	if s.requests != nil {
		s.requests.Add(ctx, 1, attrs)
	}
	if s.duration != nil && outcome == "ok" {
		s.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func (s *Service) record(ctx context.Context, requestID string, req Request, language string, sel selection, res *Result, outcome string, err error, elapsed time.Duration) {
	if s.recorder == nil {
		return
	}
	evt := eventstore.SynthesisEvent{
		RequestID:  requestID,
		Mode:       string(sel.mode),
		Speaker:    sel.speaker,
		Language:   language,
		TextChars:  len([]rune(req.Text)),
		DurationMS: elapsed.Milliseconds(),
		Outcome:    outcome,
	}
	if res != nil {
		evt.AudioBytes = len(res.Audio)
	}
	if err != nil {
		evt.Error = err.Error()
	}
	if recErr := s.recorder.AppendSynthesis(context.WithoutCancel(ctx), evt); recErr != nil {
		s.logger.Warn("failed to journal synthesis", slog.String("request_id", requestID), slog.String("error", recErr.Error()))
	}
}
