// ABOUTME: ResultCorrelator matches job results back to their conversation
// ABOUTME: Chains pipeline stages, appends history and emits failure notices

package correlate

import (
	"context"
	"log/slog"

	"github.com/voxrelay/voxrelay/internal/dedupe"
	"github.com/voxrelay/voxrelay/internal/job"
	"github.com/voxrelay/voxrelay/internal/router"
	"github.com/voxrelay/voxrelay/internal/store"
)

// Appender is what the correlator needs from the conversation store.
type Appender interface {
	AppendMessage(ctx context.Context, convID, role, content, origin string) (int64, error)
}

// UnitRouter routes the next stage of a multi-stage chain.
type UnitRouter interface {
	Route(ctx context.Context, unit any) (*job.Job, error)
}

// Deliverer sends final results to the chat transport. Delivery failures are
// logged and never roll back an already-appended message.
type Deliverer interface {
	SendText(ctx context.Context, convID, text string) error
	SendVoice(ctx context.Context, convID string, audio []byte) error
}

// Correlator is the single point where terminal jobs re-enter the pipeline
// or reach the user. History only ever records real exchanges: a failed job
// produces a notice, never a placeholder message.
type Correlator struct {
	store     Appender
	router    UnitRouter
	deliverer Deliverer
	seen      *dedupe.Cache
	logger    *slog.Logger
}

// New creates a Correlator. seen absorbs duplicate completions of the same
// job, which at-least-once delivery permits.
func New(appender Appender, unitRouter UnitRouter, deliverer Deliverer, seen *dedupe.Cache) *Correlator {
	return &Correlator{
		store:     appender,
		router:    unitRouter,
		deliverer: deliverer,
		seen:      seen,
		logger:    slog.Default().With("component", "correlate"),
	}
}

// OnResult handles one terminal job. Keyed by job ID in the dedupe cache so
// a completion observed twice chains and delivers at most once per process;
// the store's origin-keyed append is the durable backstop.
func (c *Correlator) OnResult(ctx context.Context, j *job.Job) {
	if c.seen.CheckAndMark(j.ID) {
		c.logger.Warn("duplicate completion dropped", "job_id", j.ID, "kind", j.Kind)
		return
	}

	if j.Status == job.StatusFailed {
		c.notifyFailure(ctx, j)
		return
	}

	switch j.Kind {
	case job.KindTranscribe:
		c.onTranscribed(ctx, j)
	case job.KindInfer:
		c.onReply(ctx, j)
	case job.KindSynthesize:
		c.onSynthesized(ctx, j)
	}
}

// onTranscribed records the transcription as the user's message and chains
// the inference stage. The reply to a voice note is delivered as voice too.
func (c *Correlator) onTranscribed(ctx context.Context, j *job.Job) {
	text := string(j.Result)
	seq, err := c.store.AppendMessage(ctx, j.ConversationID, store.RoleUser, text, j.ID+":user")
	if err != nil {
		c.logger.Error("recording transcription failed",
			"job_id", j.ID, "conversation_id", j.ConversationID, "error", err)
		return
	}

	_, err = c.router.Route(ctx, router.TextMessage{
		ConversationID: j.ConversationID,
		Seq:            seq,
		Text:           text,
		WantVoice:      true,
	})
	if err != nil {
		c.logger.Error("chaining inference failed",
			"job_id", j.ID, "conversation_id", j.ConversationID, "error", err)
	}
}

// onReply records the assistant message, delivers it as text and chains
// synthesis when voice delivery was requested.
func (c *Correlator) onReply(ctx context.Context, j *job.Job) {
	reply := string(j.Result)
	seq, err := c.store.AppendMessage(ctx, j.ConversationID, store.RoleAssistant, reply, j.ID+":assistant")
	if err != nil {
		c.logger.Error("recording reply failed",
			"job_id", j.ID, "conversation_id", j.ConversationID, "error", err)
		return
	}

	if err := c.deliverer.SendText(ctx, j.ConversationID, reply); err != nil {
		// Message is already durable; delivery is best-effort
		c.logger.Error("text delivery failed",
			"job_id", j.ID, "conversation_id", j.ConversationID, "error", err)
	}

	if j.WantVoice {
		_, err := c.router.Route(ctx, router.SpeakRequest{
			ConversationID: j.ConversationID,
			Seq:            seq,
			Text:           reply,
		})
		if err != nil {
			c.logger.Error("chaining synthesis failed",
				"job_id", j.ID, "conversation_id", j.ConversationID, "error", err)
		}
	}
}

func (c *Correlator) onSynthesized(ctx context.Context, j *job.Job) {
	if err := c.deliverer.SendVoice(ctx, j.ConversationID, j.Result); err != nil {
		c.logger.Error("voice delivery failed",
			"job_id", j.ID, "conversation_id", j.ConversationID, "error", err)
	}
}

// notifyFailure sends the user-visible notice for a failed job. Nothing is
// appended to history: failed turns leave no trace.
func (c *Correlator) notifyFailure(ctx context.Context, j *job.Job) {
	c.logger.Warn("job failed terminally",
		"job_id", j.ID, "kind", j.Kind,
		"conversation_id", j.ConversationID,
		"retry_count", j.RetryCount,
		"last_error", j.LastError)

	if err := c.deliverer.SendText(ctx, j.ConversationID, failureNotice(j.Kind)); err != nil {
		c.logger.Error("failure notice delivery failed",
			"job_id", j.ID, "conversation_id", j.ConversationID, "error", err)
	}
}

func failureNotice(kind job.Kind) string {
	switch kind {
	case job.KindTranscribe:
		return "Sorry, I couldn't understand that audio."
	case job.KindInfer:
		return "Sorry, I couldn't come up with a reply. Please try again."
	case job.KindSynthesize:
		return "Sorry, I couldn't read that reply aloud."
	default:
		return "Sorry, something went wrong."
	}
}
