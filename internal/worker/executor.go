// ABOUTME: Executes a job by calling the engine matching its kind
// ABOUTME: Exhaustive dispatch over transcribe, infer and synthesize

package worker

import (
	"context"
	"fmt"

	"github.com/voxrelay/voxrelay/internal/assemble"
	"github.com/voxrelay/voxrelay/internal/backend"
	"github.com/voxrelay/voxrelay/internal/job"
)

// Executor maps a job to its transform. Each call blocks the worker for the
// full duration of the engine request; there is no mid-execution cancellation
// beyond the passed context.
type Executor struct {
	assembler *assemble.Assembler
	llm       backend.Inferencer
	stt       backend.Transcriber
	tts       backend.Synthesizer
}

// NewExecutor wires the engines the worker pools dispatch to.
func NewExecutor(assembler *assemble.Assembler, llm backend.Inferencer, stt backend.Transcriber, tts backend.Synthesizer) *Executor {
	return &Executor{
		assembler: assembler,
		llm:       llm,
		stt:       stt,
		tts:       tts,
	}
}

// Execute runs the transform for the job's kind and returns the raw result.
func (e *Executor) Execute(ctx context.Context, j *job.Job) ([]byte, error) {
	switch j.Kind {
	case job.KindTranscribe:
		text, err := e.stt.Transcribe(ctx, j.Payload)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil

	case job.KindInfer:
		// History strictly below the answered message; the message itself
		// travels in the payload.
		win, err := e.assembler.Assemble(ctx, j.ConversationID, j.OriginSeq)
		if err != nil {
			return nil, fmt.Errorf("assembling context: %w", err)
		}
		reply, err := e.llm.Infer(ctx, win.SystemPrompt, win.Messages, string(j.Payload))
		if err != nil {
			return nil, err
		}
		return []byte(reply), nil

	case job.KindSynthesize:
		audio, err := e.tts.Synthesize(ctx, string(j.Payload))
		if err != nil {
			return nil, err
		}
		return audio, nil

	default:
		return nil, backend.Permanent(fmt.Errorf("unknown job kind %q", j.Kind))
	}
}
