// ABOUTME: Store interface and data types for conversation persistence
// ABOUTME: Defines Conversation, Message and the ConversationStore contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Message roles. Voice content is stored only as transcribed text.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is one chat session. SystemPrompt overrides the process-wide
// default when non-nil. ResetSeq is a watermark: messages below it are kept
// in the log but excluded from context assembly.
type Conversation struct {
	ID           string
	SystemPrompt *string
	ResetSeq     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is one immutable entry in a conversation log. Seq is monotonic and
// gap-free per conversation. Origin identifies the job completion that
// produced the message so duplicate completions collapse onto one append.
type Message struct {
	ConversationID string
	Seq            int64
	Role           string
	Content        string
	Origin         string
	CreatedAt      time.Time
}

// ConversationStore is the append-only history layer. Appends are serialized
// per conversation by sequence allocation and idempotent per origin key.
type ConversationStore interface {
	// EnsureConversation returns the conversation, creating it on first use.
	EnsureConversation(ctx context.Context, id string) (*Conversation, error)

	// GetConversation returns ErrNotFound for unknown ids.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// SetSystemPrompt replaces the prompt override. An empty prompt clears
	// the override so the process default applies again.
	SetSystemPrompt(ctx context.Context, id, prompt string) error

	// ResetContext moves the reset watermark past the current log tail.
	ResetContext(ctx context.Context, id string) error

	// AppendMessage allocates the next sequence number and appends. When a
	// message with the same (conversation, origin) already exists its
	// sequence is returned and nothing is written.
	AppendMessage(ctx context.Context, convID, role, content, origin string) (int64, error)

	// MessagesBefore returns up to limit messages with seq < beforeSeq and
	// seq >= the reset watermark, ascending, newest-biased (the oldest rows
	// beyond limit are dropped). beforeSeq < 0 means no upper bound.
	MessagesBefore(ctx context.Context, convID string, beforeSeq int64, limit int) ([]*Message, error)

	// ListConversations returns conversations by recent activity.
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)

	// Close releases any resources held by the store
	Close() error
}
