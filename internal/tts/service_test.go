package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubModel struct {
	mu       sync.Mutex
	speakers []string
	calls    []ModelRequest
	fail     map[string]error
	delay    time.Duration
	closed   bool

	active    atomic.Int32
	maxActive atomic.Int32
}

func (m *stubModel) Speakers() []string { return m.speakers }

func (m *stubModel) Synthesize(ctx context.Context, req ModelRequest) ([]byte, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		peak := m.maxActive.Load()
		if n <= peak || m.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if err, ok := m.fail[req.Speaker]; ok {
		return nil, err
	}
	return []byte("RIFF....WAVEfmt "), nil
}

func (m *stubModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *stubModel) lastCall(t *testing.T) ModelRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		t.Fatal("model was not called")
	}
	return m.calls[len(m.calls)-1]
}

func testConfig() config.SidecarConfig {
	cfg := config.Default().Sidecar
	cfg.DefaultSpeaker = "Claribel Dervla"
	return cfg
}

func readyService(t *testing.T, model *stubModel) *Service {
	t.Helper()
	svc := NewService(testConfig(), func(context.Context) (Model, error) { return model, nil }, nil, newLogger())
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func writeReference(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reference.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write reference: %v", err)
	}
	return path
}

func TestSynthesizeBeforeLoadIsNotReady(t *testing.T) {
	svc := NewService(testConfig(), func(context.Context) (Model, error) { return &stubModel{}, nil }, nil, newLogger())

	_, err := svc.Synthesize(context.Background(), Request{Text: "hello"})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if KindOf(err) != KindNotReady {
		t.Fatalf("expected kind not_ready, got %s", KindOf(err))
	}
	if h := svc.Health(); h.Ready || h.Status != "unstarted" {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestRequestsDuringLoadAreRejected(t *testing.T) {
	release := make(chan struct{})
	model := &stubModel{speakers: []string{"Claribel Dervla"}}
	svc := NewService(testConfig(), func(ctx context.Context) (Model, error) {
		<-release
		return model, nil
	}, nil, newLogger())
	t.Cleanup(func() { _ = svc.Close() })

	loaded := make(chan error, 1)
	go func() { loaded <- svc.Load(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for svc.State() != StateLoading {
		if time.Now().After(deadline) {
			t.Fatal("service never entered loading state")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := svc.Synthesize(context.Background(), Request{Text: "hello"}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady during load, got %v", err)
	}
	if h := svc.Health(); h.Status != "loading" || h.Ready {
		t.Fatalf("expected loading health, got %+v", h)
	}
	if got := svc.ListSpeakers(); len(got) != 0 {
		t.Fatalf("expected empty catalog during load, got %v", got)
	}

	close(release)
	if err := <-loaded; err != nil {
		t.Fatalf("load: %v", err)
	}
	if h := svc.Health(); h.Status != "ok" || !h.Ready || h.Model != "xtts-v2" || h.Speaker != "Claribel Dervla" {
		t.Fatalf("expected ready health, got %+v", h)
	}
	if len(model.calls) != 0 {
		t.Fatalf("model must not be called before ready, got %d calls", len(model.calls))
	}
}

func TestReferenceTakesPrecedenceOverSpeaker(t *testing.T) {
	model := &stubModel{}
	svc := readyService(t, model)
	ref := writeReference(t)

	res, err := svc.Synthesize(context.Background(), Request{Text: "hello", Speaker: "Gracie Wise", SpeakerWAV: ref})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	call := model.lastCall(t)
	if call.Reference != ref {
		t.Fatalf("expected clone mode with %s, got %+v", ref, call)
	}
	if call.Speaker != "" {
		t.Fatalf("speaker must not be consulted in clone mode, got %q", call.Speaker)
	}
	if res.Mode != ModeClone || res.Reference != ref {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMissingReferenceFallsBackToNamedSpeaker(t *testing.T) {
	model := &stubModel{}
	svc := readyService(t, model)

	res, err := svc.Synthesize(context.Background(), Request{Text: "hello", Speaker: "Gracie Wise", SpeakerWAV: "/nonexistent.wav"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	call := model.lastCall(t)
	if call.Speaker != "Gracie Wise" || call.Reference != "" {
		t.Fatalf("expected named speaker, got %+v", call)
	}
	if res.Mode != ModeSpeaker {
		t.Fatalf("expected speaker mode, got %s", res.Mode)
	}
}

func TestMissingReferenceWithoutSpeakerUsesDefault(t *testing.T) {
	model := &stubModel{}
	svc := readyService(t, model)

	res, err := svc.Synthesize(context.Background(), Request{Text: "hello", SpeakerWAV: "/nonexistent.wav"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if call := model.lastCall(t); call.Speaker != "Claribel Dervla" || call.Reference != "" {
		t.Fatalf("expected default speaker, got %+v", call)
	}
	if res.Mode != ModeDefault {
		t.Fatalf("expected default mode, got %s", res.Mode)
	}
}

func TestNeitherFieldUsesConfiguredDefault(t *testing.T) {
	model := &stubModel{}
	cfg := testConfig()
	cfg.DefaultSpeaker = "Daisy Studious"
	svc := NewService(cfg, func(context.Context) (Model, error) { return model, nil }, nil, newLogger())
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	if _, err := svc.Synthesize(context.Background(), Request{Text: "hello"}); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	call := model.lastCall(t)
	if call.Speaker != "Daisy Studious" {
		t.Fatalf("expected configured default, got %q", call.Speaker)
	}
	if call.Language != DefaultLanguage {
		t.Fatalf("expected default language %q, got %q", DefaultLanguage, call.Language)
	}
}

func TestListSpeakersIsStable(t *testing.T) {
	model := &stubModel{speakers: []string{"B", "A", "C"}}
	svc := readyService(t, model)

	first := svc.ListSpeakers()
	first[0] = "mutated"
	for i := 0; i < 3; i++ {
		got := svc.ListSpeakers()
		if len(got) != 3 || got[0] != "B" || got[1] != "A" || got[2] != "C" {
			t.Fatalf("call %d: unexpected catalog %v", i, got)
		}
	}
}

func TestListSpeakersEmptyCatalog(t *testing.T) {
	svc := readyService(t, &stubModel{})
	got := svc.ListSpeakers()
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil catalog, got %#v", got)
	}
}

func TestFailureKeepsServiceReady(t *testing.T) {
	model := &stubModel{fail: map[string]error{"Nobody": errors.New(`speaker "Nobody" not found`)}}
	svc := readyService(t, model)

	_, err := svc.Synthesize(context.Background(), Request{Text: "hello", Speaker: "Nobody"})
	var synthErr *Error
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if synthErr.Kind != KindSynthesis || synthErr.Message != `speaker "Nobody" not found` {
		t.Fatalf("unexpected error %+v", synthErr)
	}
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatal("expected errors.Is ErrSynthesisFailed")
	}
	if svc.State() != StateReady {
		t.Fatalf("expected ready after failure, got %s", svc.State())
	}

	if _, err := svc.Synthesize(context.Background(), Request{Text: "hello"}); err != nil {
		t.Fatalf("expected next request to succeed, got %v", err)
	}
}

func TestEmptyTextIsInvalid(t *testing.T) {
	model := &stubModel{}
	svc := readyService(t, model)

	_, err := svc.Synthesize(context.Background(), Request{Text: "  \n "})
	if !errors.Is(err, ErrEmptyText) || KindOf(err) != KindInvalidRequest {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if len(model.calls) != 0 {
		t.Fatal("model must not see empty text")
	}
}

func TestModelCallsAreSerialized(t *testing.T) {
	model := &stubModel{delay: 10 * time.Millisecond}
	svc := readyService(t, model)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Synthesize(context.Background(), Request{Text: "hello"}); err != nil {
				t.Errorf("synthesize: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := model.maxActive.Load(); peak != 1 {
		t.Fatalf("expected at most one concurrent model call, saw %d", peak)
	}
	if len(model.calls) != 8 {
		t.Fatalf("expected 8 calls, got %d", len(model.calls))
	}
}

func TestResultReaderStartsAtBeginning(t *testing.T) {
	svc := readyService(t, &stubModel{})
	res, err := svc.Synthesize(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	data, err := io.ReadAll(res.Reader())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "RIFF....WAVEfmt " {
		t.Fatalf("unexpected audio %q", data)
	}
	if res.RequestID == "" {
		t.Fatal("expected request id")
	}
}

func TestLoadFailureIsFatal(t *testing.T) {
	svc := NewService(testConfig(), func(context.Context) (Model, error) {
		return nil, errors.New("checkpoint corrupt")
	}, nil, newLogger())

	if err := svc.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if svc.State() != StateShuttingDown {
		t.Fatalf("expected shutting down after failed load, got %s", svc.State())
	}
	if err := svc.Load(context.Background()); err == nil {
		t.Fatal("expected second load to be refused")
	}
}

func TestCloseReleasesModelAndRejects(t *testing.T) {
	model := &stubModel{}
	svc := readyService(t, model)

	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !model.closed {
		t.Fatal("expected model closed")
	}
	if _, err := svc.Synthesize(context.Background(), Request{Text: "hello"}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected not ready after close, got %v", err)
	}
	if h := svc.Health(); h.Status != "shutting_down" {
		t.Fatalf("unexpected health %+v", h)
	}
}

type memRecorder struct {
	mu     sync.Mutex
	events []eventstore.SynthesisEvent
}

func (r *memRecorder) AppendSynthesis(_ context.Context, evt eventstore.SynthesisEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func TestSynthesisIsJournaled(t *testing.T) {
	rec := &memRecorder{}
	model := &stubModel{fail: map[string]error{"Nobody": errors.New("unknown speaker")}}
	svc := NewService(testConfig(), func(context.Context) (Model, error) { return model, nil }, rec, newLogger())
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	_, _ = svc.Synthesize(context.Background(), Request{Text: "héllo"})
	_, _ = svc.Synthesize(context.Background(), Request{Text: "hello", Speaker: "Nobody"})

	if len(rec.events) != 2 {
		t.Fatalf("expected 2 journal events, got %d", len(rec.events))
	}
	ok := rec.events[0]
	if ok.Outcome != "ok" || ok.Mode != "default" || ok.TextChars != 5 || ok.AudioBytes == 0 || ok.RequestID == "" {
		t.Fatalf("unexpected success event %+v", ok)
	}
	failed := rec.events[1]
	if failed.Outcome != string(KindSynthesis) || failed.Error != "unknown speaker" || failed.Speaker != "Nobody" {
		t.Fatalf("unexpected failure event %+v", failed)
	}
}
