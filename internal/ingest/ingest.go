// ABOUTME: Inbound message handling: commands, user message recording and first-stage routing
// ABOUTME: Text goes straight to inference, voice notes are decoded and sent to transcription

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voxrelay/voxrelay/internal/audio"
	"github.com/voxrelay/voxrelay/internal/job"
	"github.com/voxrelay/voxrelay/internal/router"
	"github.com/voxrelay/voxrelay/internal/store"
)

// UnitRouter dispatches classified work onto the queues.
type UnitRouter interface {
	Route(ctx context.Context, unit any) (*job.Job, error)
}

// Notifier sends immediate confirmations back to the user (command replies,
// rejection notices). Pipeline results travel through the correlator instead.
type Notifier interface {
	SendText(ctx context.Context, convID, text string) error
}

// Handler is the entry point for everything the chat transport receives.
type Handler struct {
	store         store.ConversationStore
	router        UnitRouter
	notifier      Notifier
	defaultPrompt string
	logger        *slog.Logger
}

// New creates a Handler.
func New(convStore store.ConversationStore, unitRouter UnitRouter, notifier Notifier, defaultPrompt string) *Handler {
	return &Handler{
		store:         convStore,
		router:        unitRouter,
		notifier:      notifier,
		defaultPrompt: defaultPrompt,
		logger:        slog.Default().With("component", "ingest"),
	}
}

// SetNotifier installs the notifier after construction. The transport hub
// needs the handler to exist before it can be built, so the two are wired in
// two steps.
func (h *Handler) SetNotifier(notifier Notifier) {
	h.notifier = notifier
}

// HandleText processes an inbound text message. Slash commands mutate
// conversation settings; anything else is recorded and routed for inference
// on the priority queue, since the user is waiting on the reply.
func (h *Handler) HandleText(ctx context.Context, convID, text string) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "/") {
		return h.handleCommand(ctx, convID, text)
	}

	if _, err := h.store.EnsureConversation(ctx, convID); err != nil {
		return fmt.Errorf("ensuring conversation: %w", err)
	}

	seq, err := h.store.AppendMessage(ctx, convID, store.RoleUser, text, "")
	if err != nil {
		return fmt.Errorf("recording message: %w", err)
	}

	_, err = h.router.Route(ctx, router.TextMessage{
		ConversationID: convID,
		Seq:            seq,
		Text:           text,
		Urgent:         true,
	})
	if err != nil {
		return fmt.Errorf("routing message: %w", err)
	}

	h.logger.Info("text message routed", "conversation_id", convID, "seq", seq)
	return nil
}

// HandleVoice processes an inbound voice note: u-law frames are decoded to
// WAV and routed to the gpu transcription queue. The transcription result
// re-enters the pipeline through the correlator.
func (h *Handler) HandleVoice(ctx context.Context, convID string, ulaw []byte) error {
	if _, err := h.store.EnsureConversation(ctx, convID); err != nil {
		return fmt.Errorf("ensuring conversation: %w", err)
	}

	wav, err := audio.UlawToWAV(ulaw)
	if err != nil {
		return fmt.Errorf("%w: decoding voice note: %w", router.ErrUnroutable, err)
	}

	j, err := h.router.Route(ctx, router.VoiceNote{
		ConversationID: convID,
		Audio:          wav,
	})
	if err != nil {
		return fmt.Errorf("routing voice note: %w", err)
	}

	h.logger.Info("voice note routed",
		"conversation_id", convID, "job_id", j.ID, "audio_bytes", len(wav))
	return nil
}

// handleCommand dispatches the /start, /prompt and /reset commands.
func (h *Handler) handleCommand(ctx context.Context, convID, text string) error {
	cmd, args, _ := strings.Cut(text, " ")
	args = strings.TrimSpace(args)

	switch cmd {
	case "/start":
		if _, err := h.store.EnsureConversation(ctx, convID); err != nil {
			return fmt.Errorf("ensuring conversation: %w", err)
		}
		return h.reply(ctx, convID,
			"Welcome! Send me a message or a voice note and I'll respond.")

	case "/prompt":
		conv, err := h.store.EnsureConversation(ctx, convID)
		if err != nil {
			return fmt.Errorf("ensuring conversation: %w", err)
		}
		if args == "" {
			current := h.defaultPrompt
			if conv.SystemPrompt != nil {
				current = *conv.SystemPrompt
			}
			return h.reply(ctx, convID, fmt.Sprintf(
				"Current system prompt: %s\n\nTo change it, use /prompt followed by the new prompt.", current))
		}
		if err := h.store.SetSystemPrompt(ctx, convID, args); err != nil {
			return fmt.Errorf("setting prompt: %w", err)
		}
		h.logger.Info("system prompt updated", "conversation_id", convID)
		return h.reply(ctx, convID, "System prompt updated to: "+args)

	case "/reset":
		if _, err := h.store.EnsureConversation(ctx, convID); err != nil {
			return fmt.Errorf("ensuring conversation: %w", err)
		}
		if err := h.store.ResetContext(ctx, convID); err != nil {
			return fmt.Errorf("resetting context: %w", err)
		}
		h.logger.Info("context reset", "conversation_id", convID)
		return h.reply(ctx, convID, "Chat history has been reset.")

	default:
		return h.reply(ctx, convID, "Unknown command: "+cmd)
	}
}

func (h *Handler) reply(ctx context.Context, convID, text string) error {
	if h.notifier == nil {
		return nil
	}
	if err := h.notifier.SendText(ctx, convID, text); err != nil {
		h.logger.Error("command reply delivery failed",
			"conversation_id", convID, "error", err)
	}
	return nil
}
