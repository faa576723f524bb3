// Package translator defines the translation service capability and the
// error taxonomy shared by all client implementations. Errors are typed so
// the scheduler can decide between retrying a unit and failing it outright.
package translator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type ServiceConfig struct {
	Credentials string        `mapstructure:"credentials" json:"credentials"`
	APIKey      string        `mapstructure:"api_key" json:"api_key"`
	BaseURL     string        `mapstructure:"base_url" json:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
	ProjectID   string        `mapstructure:"project_id" json:"project_id"`
	Email       string        `mapstructure:"email" json:"email"`
}

// Request carries one string to translate. SourceLang is an ISO 639-1 code
// or "auto" for server-side detection.
type Request struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type Result struct {
	ServiceName    string        `json:"service_name"`
	TranslatedText string        `json:"translated_text"`
	Confidence     float64       `json:"confidence"`
	Latency        time.Duration `json:"latency"`
}

// Service is a single-call translation capability. Translate blocks for the
// duration of the network round trip; concurrency is the caller's concern.
type Service interface {
	Name() string
	Translate(ctx context.Context, cfg ServiceConfig, req Request) (*Result, error)
	IsAvailable(ctx context.Context) error
	SupportedLanguages(ctx context.Context) ([]string, error)

	// MaxTextLen is the longest text (in runes) the service accepts per
	// request, or 0 when unlimited. Longer texts are chunked by the caller.
	MaxTextLen() int
}

// ErrRateLimited marks a quota rejection. Retryable after backoff.
var ErrRateLimited = errors.New("rate limited by translation service")

// NetworkError wraps a transport-level failure. Retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// UnsupportedLanguageError marks a language code the service rejects.
// Never retried.
type UnsupportedLanguageError struct {
	Lang string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("unsupported language: %s", e.Lang)
}

// Retryable reports whether err is transient per the taxonomy above.
func Retryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var ne *NetworkError
	return errors.As(err, &ne)
}

// classifyTransport wraps errors from an HTTP round trip. Context
// cancellation passes through untouched so callers can tell an aborted run
// from a flaky network.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &NetworkError{Err: err}
}

// classifyStatus maps an HTTP status code to the shared taxonomy.
// Unknown codes become network errors, which keeps them retryable.
func classifyStatus(status int, detail string) error {
	switch {
	case status == 429:
		return ErrRateLimited
	case status >= 500:
		return &NetworkError{Err: fmt.Errorf("server status %d: %s", status, detail)}
	default:
		return &NetworkError{Err: fmt.Errorf("unexpected status %d: %s", status, detail)}
	}
}
