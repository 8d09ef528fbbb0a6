// ABOUTME: Job record and lifecycle types for queued pipeline work
// ABOUTME: Defines Kind, Class and Status enums plus the legal status transitions

package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrBadTransition is returned when a status change violates the job lifecycle
var ErrBadTransition = errors.New("illegal job status transition")

// Kind is the closed set of work a job can carry.
type Kind string

const (
	KindTranscribe Kind = "transcribe" // voice note -> text
	KindInfer      Kind = "infer"      // context window -> model reply
	KindSynthesize Kind = "synthesize" // reply text -> audio
)

// Class names the queue (and worker pool) a job is bound to.
// It is fixed at creation and determines resource isolation, not ordering
// across queues.
type Class string

const (
	ClassDefault  Class = "default"
	ClassPriority Class = "priority"
	ClassGPU      Class = "gpu"
)

// Classes lists every queue the broker maintains.
var Classes = []Class{ClassDefault, ClassPriority, ClassGPU}

// Status tracks a job through the broker.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether a status is absorbing.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Job is one unit of deferred work flowing through the broker.
// Payload carries kind-specific input; Result carries kind-specific output
// once the job is done.
type Job struct {
	ID             string
	Kind           Kind
	Class          Class
	ConversationID string
	OriginSeq      int64 // sequence of the message this job answers
	Payload        []byte
	Result         []byte
	Status         Status
	RetryCount     int
	WantVoice      bool // deliver the eventual reply as audio too
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// New creates a queued job with a fresh ID.
func New(kind Kind, class Class, conversationID string, originSeq int64, payload []byte) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:             uuid.New().String(),
		Kind:           kind,
		Class:          class,
		ConversationID: conversationID,
		OriginSeq:      originSeq,
		Payload:        payload,
		Status:         StatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// CanTransition reports whether moving from -> to is legal:
// queued -> running -> {done, failed}, plus running -> queued on
// visibility-timeout recovery. Terminal states are absorbing.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusDone || to == StatusFailed || to == StatusQueued
	default:
		return false
	}
}

// Transition applies a status change, enforcing the lifecycle.
func (j *Job) Transition(to Status) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrBadTransition, j.Status, to, j.ID)
	}
	if to == StatusQueued {
		j.RetryCount++
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}
