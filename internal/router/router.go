// ABOUTME: JobRouter classifies inbound units of work and assigns them to priority queues
// ABOUTME: Voice notes go to the gpu queue, inference to priority or default, synthesis to default

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxrelay/voxrelay/internal/job"
)

// ErrUnroutable is returned for units that cannot be classified. Reported to
// the caller, never retried.
var ErrUnroutable = errors.New("unit cannot be routed")

// TextMessage is an inbound text message (or a transcription result) that
// needs an inference reply. Seq is the stored sequence of the user message
// being answered. Urgent marks a user waiting synchronously on the reply.
type TextMessage struct {
	ConversationID string
	Seq            int64
	Text           string
	Urgent         bool
	WantVoice      bool
}

// VoiceNote is an inbound voice message awaiting transcription. Audio is a
// WAV payload ready for the STT engine.
type VoiceNote struct {
	ConversationID string
	Audio          []byte
}

// SpeakRequest is an assistant reply flagged for voice delivery. Seq is the
// stored sequence of the assistant message being spoken.
type SpeakRequest struct {
	ConversationID string
	Seq            int64
	Text           string
}

// Enqueuer is what the router needs from the queue broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, j *job.Job) error
}

// Router assigns each unit of work to a queue. Transcription is isolated on
// the gpu queue so a long transcription never blocks inference for other
// users; synthesis rides the default queue.
type Router struct {
	broker Enqueuer
	logger *slog.Logger
}

// New creates a Router on the given broker.
func New(broker Enqueuer) *Router {
	return &Router{
		broker: broker,
		logger: slog.Default().With("component", "router"),
	}
}

// Route classifies the unit, durably enqueues the resulting job and returns
// it in status queued. Returns ErrUnroutable for malformed or unknown units.
func (r *Router) Route(ctx context.Context, unit any) (*job.Job, error) {
	var j *job.Job

	switch u := unit.(type) {
	case TextMessage:
		if u.ConversationID == "" || u.Text == "" {
			return nil, fmt.Errorf("%w: empty text message", ErrUnroutable)
		}
		class := job.ClassDefault
		if u.Urgent {
			class = job.ClassPriority
		}
		j = job.New(job.KindInfer, class, u.ConversationID, u.Seq, []byte(u.Text))
		j.WantVoice = u.WantVoice

	case VoiceNote:
		if u.ConversationID == "" || len(u.Audio) == 0 {
			return nil, fmt.Errorf("%w: empty voice note", ErrUnroutable)
		}
		// No message exists until the transcription lands; the origin
		// sequence is assigned when the correlator appends it.
		j = job.New(job.KindTranscribe, job.ClassGPU, u.ConversationID, -1, u.Audio)

	case SpeakRequest:
		if u.ConversationID == "" || u.Text == "" {
			return nil, fmt.Errorf("%w: empty speak request", ErrUnroutable)
		}
		j = job.New(job.KindSynthesize, job.ClassDefault, u.ConversationID, u.Seq, []byte(u.Text))

	default:
		return nil, fmt.Errorf("%w: unknown unit type %T", ErrUnroutable, unit)
	}

	if err := r.broker.Enqueue(ctx, j); err != nil {
		return nil, fmt.Errorf("enqueuing %s job: %w", j.Kind, err)
	}

	r.logger.Info("job routed",
		"job_id", j.ID, "kind", j.Kind, "class", j.Class,
		"conversation_id", j.ConversationID)
	return j, nil
}
