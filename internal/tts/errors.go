package tts

import "errors"

// Kind classifies request-level failures.
type Kind string

const (
	KindNotReady       Kind = "not_ready"
	KindInvalidRequest Kind = "invalid_request"
	KindSynthesis      Kind = "synthesis_failure"
)

var (
	// ErrNotReady is returned while the model is loading or after shutdown began.
	ErrNotReady = errors.New("model not ready")

	// ErrEmptyText is returned for requests without any text to speak.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrSynthesisFailed matches every failure raised by the model.
	ErrSynthesisFailed = errors.New("speech synthesis failed")
)

// Error is a structured request failure. Message is safe to hand back to
// the caller as-is; for synthesis failures it is the model's own text.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotReady:
		return e.Kind == KindNotReady
	case ErrEmptyText:
		return e.Kind == KindInvalidRequest
	case ErrSynthesisFailed:
		return e.Kind == KindSynthesis
	}
	return false
}

// KindOf extracts the kind of err, defaulting to KindSynthesis.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSynthesis
}

func notReady(state State) *Error {
	return &Error{Kind: KindNotReady, Message: ErrNotReady.Error() + " (" + state.String() + ")"}
}

func synthesisFailure(cause error) *Error {
	return &Error{Kind: KindSynthesis, Message: cause.Error(), Cause: cause}
}
