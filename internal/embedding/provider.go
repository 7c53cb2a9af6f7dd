// Package embedding turns face images into fixed-length vectors. The
// concrete provider is chosen once at startup; callers only see Provider.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/campus-attendance/internal/config"
)

// Provider converts an image into a face embedding.
type Provider interface {
	// Embed returns the embedding of the single face in image, or an *Error.
	Embed(ctx context.Context, image []byte) ([]float32, error)
	// Name identifies the provider in logs and the config endpoint.
	Name() string
}

// Kind classifies embedding failures.
type Kind string

const (
	KindNoFace              Kind = "no_face"
	KindMultipleFaces       Kind = "multiple_faces"
	KindDecode              Kind = "decode_error"
	KindProviderUnavailable Kind = "provider_unavailable"
)

// Error is returned by providers for every failure. Match with errors.Is
// against the sentinels below, or errors.As to read the Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "embedding: " + string(e.Kind)
	}
	return fmt.Sprintf("embedding: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNoFace              = &Error{Kind: KindNoFace}
	ErrMultipleFaces       = &Error{Kind: KindMultipleFaces}
	ErrDecode              = &Error{Kind: KindDecode}
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err, or KindProviderUnavailable for errors that
// did not come from a provider.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProviderUnavailable
}

// New creates the provider selected by cfg.Provider, wrapped with the
// configured per-call timeout.
func New(cfg config.EmbeddingConfig) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case "", "http":
		p = NewHTTPProvider(cfg.URL, cfg.Dim)
	case "local":
		p = NewLocalProvider(cfg.Dim)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (expected http or local)", cfg.Provider)
	}
	return WithTimeout(p, cfg.Timeout), nil
}

type timeoutProvider struct {
	next    Provider
	timeout time.Duration
}

// WithTimeout bounds every Embed call. A deadline hit is reported as
// ErrProviderUnavailable.
func WithTimeout(p Provider, timeout time.Duration) Provider {
	if timeout <= 0 {
		return p
	}
	return &timeoutProvider{next: p, timeout: timeout}
}

func (t *timeoutProvider) Embed(ctx context.Context, image []byte) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	vec, err := t.next.Embed(ctx, image)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrProviderUnavailable) {
		return nil, &Error{Kind: KindProviderUnavailable, Err: fmt.Errorf("timed out after %s: %w", t.timeout, err)}
	}
	return vec, err
}

func (t *timeoutProvider) Name() string { return t.next.Name() }
