// Package store provides persistent conversation storage using SQLite.
//
// # Data Model
//
// Two tables:
//
//   - Conversation: one row per chat, carrying an optional system prompt
//     override and the reset watermark
//   - Message: append-only history rows keyed by (conversation_id, seq)
//
// Sequence numbers are dense and monotonic per conversation. Appends carry
// an optional origin key; re-appending with a seen origin returns the
// existing row's sequence instead of inserting, which makes pipeline
// completions idempotent under at-least-once delivery.
//
// A /reset never deletes rows. It moves the conversation's reset watermark
// past the newest message, and reads through MessagesBefore only return rows
// at or above the watermark.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// The job queue shares this database through the DB() accessor, so a single
// file holds both history and queue state.
//
// # Error Handling
//
// ErrNotFound is returned when a requested conversation does not exist.
// All methods accept context.Context for cancellation support.
package store
