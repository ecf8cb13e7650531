package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeNotConnected     = "not_connected"
	ErrCodeDecodeFallback   = "decode_fallback"
	ErrCodeConnectFailed    = "connect_failed"
	ErrCodeRetriesExhausted = "retries_exhausted"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeEmptyMessage     = "empty_message"
	ErrCodeStopped          = "stopped"
	ErrCodeInternal         = "internal"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrDecodeFallback   = errors.New("frame decoded as plain text")
	ErrConnectFailed    = errors.New("connect failed")
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrEmptyMessage     = errors.New("empty message")
	ErrStopped          = errors.New("session stopped")
	ErrAlreadyStarted   = errors.New("already started")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CoreError) Error() string {
	return e.Message
}

// AsCoreError maps an error onto its code. Unknown errors map to ErrCodeInternal.
func AsCoreError(err error) *CoreError {
	if err == nil {
		return nil
	}
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	return &CoreError{Code: codeFor(err), Message: err.Error()}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, ErrNotConnected):
		return ErrCodeNotConnected
	case errors.Is(err, ErrDecodeFallback):
		return ErrCodeDecodeFallback
	case errors.Is(err, ErrRetriesExhausted):
		return ErrCodeRetriesExhausted
	case errors.Is(err, ErrConnectFailed):
		return ErrCodeConnectFailed
	case errors.Is(err, ErrStoreUnavailable):
		return ErrCodeStoreUnavailable
	case errors.Is(err, ErrEmptyMessage):
		return ErrCodeEmptyMessage
	case errors.Is(err, ErrStopped):
		return ErrCodeStopped
	default:
		return ErrCodeInternal
	}
}
