package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

// ErrUnreachable marks connection failures and timeouts. Callers treat the
// sidecar as down when they see it.
var ErrUnreachable = errors.New("tts sidecar not reachable")

// StatusError is a non-2xx answer from the sidecar.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tts sidecar error (%d): %s", e.StatusCode, e.Message)
}

// Sidecar calls the synthesis service over HTTP.
type Sidecar struct {
	baseURL  string
	language string
	http     *http.Client
}

// NewSidecar builds a client that fails fast on connect but allows slow inference.
func NewSidecar(cfg config.ClientConfig) *Sidecar {
	dialer := &net.Dialer{Timeout: time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	return &Sidecar{
		baseURL:  strings.TrimRight(cfg.SidecarURL, "/"),
		language: cfg.Language,
		http: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
		},
	}
}

// Synthesize posts req to /tts and returns the WAV body.
func (s *Sidecar) Synthesize(ctx context.Context, req protocol.SynthesisRequest) ([]byte, error) {
	if req.Language == "" {
		req.Language = s.language
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	data, err := s.do(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("tts sidecar returned no audio")
	}
	return data, nil
}

// Health fetches /health. A loading sidecar answers 503 with a health body;
// that body is returned together with the *StatusError.
func (s *Sidecar) Health(ctx context.Context) (protocol.HealthResponse, error) {
	var health protocol.HealthResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return health, err
	}
	data, err := s.do(ctx, req)
	var statusErr *StatusError
	if err != nil && !errors.As(err, &statusErr) {
		return health, err
	}
	body := data
	if statusErr != nil {
		body = []byte(statusErr.Message)
	}
	if jsonErr := json.Unmarshal(body, &health); jsonErr != nil && err == nil {
		return health, fmt.Errorf("decode health: %w", jsonErr)
	}
	return health, err
}

// Speakers lists the sidecar's speaker catalog.
func (s *Sidecar) Speakers(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/speakers", nil)
	if err != nil {
		return nil, err
	}
	data, err := s.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var resp protocol.SpeakersResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode speakers: %w", err)
	}
	if resp.Speakers == nil {
		resp.Speakers = []string{}
	}
	return resp.Speakers, nil
}

func (s *Sidecar) do(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if unreachable(err) {
			return nil, fmt.Errorf("%w at %s: %v", ErrUnreachable, s.baseURL, err)
		}
		return nil, fmt.Errorf("tts sidecar request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if unreachable(err) {
			return nil, fmt.Errorf("%w at %s: %v", ErrUnreachable, s.baseURL, err)
		}
		return nil, fmt.Errorf("read tts sidecar response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorText(resp.Header.Get("Content-Type"), data)}
	}
	return data, nil
}

// errorText extracts {"error": ...} from JSON bodies, keeping the raw body
// for health answers and non-JSON errors.
func errorText(contentType string, data []byte) string {
	if strings.HasPrefix(contentType, "application/json") {
		var body protocol.ErrorResponse
		if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}

func unreachable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
