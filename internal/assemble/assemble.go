// ABOUTME: ContextAssembler builds the bounded model context for one inference request
// ABOUTME: History below the answered message plus the active system prompt, truncated oldest-first

package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxrelay/voxrelay/internal/store"
)

// Window is the derived model input: the active system prompt and an ordered
// slice of history, oldest to newest. Never cached across requests.
type Window struct {
	SystemPrompt string
	Messages     []*store.Message
}

// HistorySource is what the assembler needs from storage.
type HistorySource interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	MessagesBefore(ctx context.Context, convID string, beforeSeq int64, limit int) ([]*store.Message, error)
}

// Assembler turns stored history into a Window. Deterministic for a given
// stored history and budget: no randomness, no hidden state.
type Assembler struct {
	source        HistorySource
	defaultPrompt string
	maxChars      int // total content budget, prompt included
	maxMessages   int // hard cap on history rows fetched
	logger        *slog.Logger
}

// New creates an Assembler with the given budgets. maxMessages <= 0 means
// no count cap; maxChars must be positive.
func New(source HistorySource, defaultPrompt string, maxChars, maxMessages int) *Assembler {
	return &Assembler{
		source:        source,
		defaultPrompt: defaultPrompt,
		maxChars:      maxChars,
		maxMessages:   maxMessages,
		logger:        slog.Default().With("component", "assemble"),
	}
}

// Assemble returns the context window for answering the message at upToSeq.
// Only messages with seq < upToSeq are included, so a result computed for an
// old message can never see messages appended after it.
func (a *Assembler) Assemble(ctx context.Context, convID string, upToSeq int64) (*Window, error) {
	prompt := a.defaultPrompt
	conv, err := a.source.GetConversation(ctx, convID)
	switch {
	case err == nil:
		if conv.SystemPrompt != nil {
			prompt = *conv.SystemPrompt
		}
	case errors.Is(err, store.ErrNotFound):
		// First message of a conversation that hasn't been recorded yet
	default:
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	messages, err := a.source.MessagesBefore(ctx, convID, upToSeq, a.maxMessages)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	// Truncate from the oldest end until within budget. Recency wins over
	// completeness; the prompt itself is always kept.
	total := len(prompt)
	for _, msg := range messages {
		total += len(msg.Content)
	}
	dropped := 0
	for total > a.maxChars && len(messages) > 0 {
		total -= len(messages[0].Content)
		messages = messages[1:]
		dropped++
	}
	if dropped > 0 {
		a.logger.Debug("history truncated",
			"conversation_id", convID, "dropped", dropped, "kept", len(messages))
	}

	return &Window{SystemPrompt: prompt, Messages: messages}, nil
}
