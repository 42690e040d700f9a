// Package httpapi exposes the synthesis service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/tts"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// Backend is the synthesis service as seen by the transport.
type Backend interface {
	Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error)
	Health() tts.Health
	ListSpeakers() []string
}

// Journal lists recent synthesis events. *eventstore.Store satisfies it.
type Journal interface {
	ListRecent(ctx context.Context, limit int) ([]eventstore.SynthesisEvent, error)
}

// Server routes HTTP requests to a Backend.
type Server struct {
	backend Backend
	journal Journal
	maxBody int64
	log     *slog.Logger
}

// New builds a Server. journal may be nil, in which case /journal lists nothing.
func New(backend Backend, journal Journal, maxBody int64, log *slog.Logger) *Server {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Server{
		backend: backend,
		journal: journal,
		maxBody: maxBody,
		log:     log.With(slog.String("component", "http-api")),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tts", s.handleSynthesize)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /speakers", s.handleSpeakers)
	mux.HandleFunc("GET /journal", s.handleJournal)
	mux.HandleFunc("GET /healthz", s.handleLiveness)
	mux.HandleFunc("GET /readyz", s.handleReady)
	return mux
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var body protocol.SynthesisRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := s.backend.Synthesize(r.Context(), tts.Request{
		Text:       body.Text,
		Language:   body.Language,
		Speaker:    body.Speaker,
		SpeakerWAV: body.SpeakerWAV,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Audio)))
	w.Header().Set("X-Request-ID", res.RequestID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Audio); err != nil {
		s.log.Debug("client went away during audio write",
			slog.String("request_id", res.RequestID),
			slog.String("error", err.Error()))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.backend.Health()
	status := http.StatusOK
	if !h.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, protocol.HealthResponse{Status: h.Status, Model: h.Model, Speaker: h.Speaker})
}

func (s *Server) handleSpeakers(w http.ResponseWriter, _ *http.Request) {
	speakers := s.backend.ListSpeakers()
	if speakers == nil {
		speakers = []string{}
	}
	writeJSON(w, http.StatusOK, protocol.SpeakersResponse{Speakers: speakers})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJournalLimit)
	}

	entries := []protocol.JournalEntry{}
	if s.journal != nil {
		events, err := s.journal.ListRecent(r.Context(), limit)
		if err != nil {
			s.log.Warn("journal query failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, evt := range events {
			entries = append(entries, protocol.JournalEntry{
				RequestID:  evt.RequestID,
				Mode:       evt.Mode,
				Speaker:    evt.Speaker,
				Language:   evt.Language,
				TextChars:  evt.TextChars,
				AudioBytes: evt.AudioBytes,
				DurationMS: evt.DurationMS,
				Outcome:    evt.Outcome,
				Error:      evt.Error,
				CreatedAt:  evt.CreatedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, protocol.JournalResponse{Events: entries})
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.backend.Health().Ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func statusFor(err error) int {
	switch tts.KindOf(err) {
	case tts.KindNotReady:
		return http.StatusServiceUnavailable
	case tts.KindInvalidRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
