// ABOUTME: Shared error taxonomy and engine interfaces for external backends
// ABOUTME: Transient errors are retried by workers, permanent errors fail the job

package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxrelay/voxrelay/internal/store"
)

// ErrTransient marks a failure worth retrying: timeout, backend unavailable,
// overload. Workers requeue the job up to its retry ceiling.
var ErrTransient = errors.New("transient backend error")

// ErrPermanent marks a failure that retrying cannot fix: malformed payload
// or an explicit rejection. The job fails immediately.
var ErrPermanent = errors.New("permanent backend error")

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent wraps err so errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Inferencer is the inference backend: a system prompt plus ordered history
// plus the new user message in, generated text out. Treated as a pure,
// possibly slow, function.
type Inferencer interface {
	Infer(ctx context.Context, systemPrompt string, history []*store.Message, userText string) (string, error)
}

// Transcriber is the GPU-resident speech-to-text engine.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Synthesizer is the text-to-speech engine.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
