// ABOUTME: Tests for inbound message and command handling
// ABOUTME: Validates recording, routing, command replies and malformed input rejection

package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxrelay/voxrelay/internal/job"
	"github.com/voxrelay/voxrelay/internal/router"
	"github.com/voxrelay/voxrelay/internal/store"
)

type fakeRouter struct {
	units []any
}

func (f *fakeRouter) Route(_ context.Context, unit any) (*job.Job, error) {
	f.units = append(f.units, unit)
	return job.New(job.KindInfer, job.ClassPriority, "conv", 0, nil), nil
}

type fakeNotifier struct {
	texts []string
}

func (f *fakeNotifier) SendText(_ context.Context, _ string, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func newFixture(t *testing.T) (*Handler, *store.SQLiteStore, *fakeRouter, *fakeNotifier) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := &fakeRouter{}
	n := &fakeNotifier{}
	return New(s, r, n, "default prompt"), s, r, n
}

func TestHandleText_RecordsAndRoutesUrgent(t *testing.T) {
	h, s, r, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, h.HandleText(ctx, "conv", "hello"))

	msgs, err := s.MessagesBefore(ctx, "conv", -1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)

	require.Len(t, r.units, 1)
	text, ok := r.units[0].(router.TextMessage)
	require.True(t, ok)
	assert.True(t, text.Urgent)
	assert.Equal(t, int64(0), text.Seq)
}

func TestHandleVoice_DecodesAndRoutesToGPU(t *testing.T) {
	h, s, r, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, h.HandleVoice(ctx, "conv", make([]byte, 160)))

	// No message recorded until the transcription lands
	msgs, err := s.MessagesBefore(ctx, "conv", -1, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.Len(t, r.units, 1)
	note, ok := r.units[0].(router.VoiceNote)
	require.True(t, ok)
	assert.Equal(t, "RIFF", string(note.Audio[0:4]), "audio arrives at STT as WAV")
}

func TestHandleVoice_EmptyAudioIsUnroutable(t *testing.T) {
	h, _, r, _ := newFixture(t)

	err := h.HandleVoice(context.Background(), "conv", nil)
	assert.ErrorIs(t, err, router.ErrUnroutable)
	assert.Empty(t, r.units)
}

func TestHandleCommand_PromptSetAndShow(t *testing.T) {
	h, s, r, n := newFixture(t)
	ctx := context.Background()

	require.NoError(t, h.HandleText(ctx, "conv", "/prompt answer briefly"))
	conv, err := s.GetConversation(ctx, "conv")
	require.NoError(t, err)
	require.NotNil(t, conv.SystemPrompt)
	assert.Equal(t, "answer briefly", *conv.SystemPrompt)

	require.NoError(t, h.HandleText(ctx, "conv", "/prompt"))
	require.Len(t, n.texts, 2)
	assert.Contains(t, n.texts[1], "answer briefly")

	assert.Empty(t, r.units, "commands never enqueue jobs")
}

func TestHandleCommand_Reset(t *testing.T) {
	h, s, _, n := newFixture(t)
	ctx := context.Background()

	require.NoError(t, h.HandleText(ctx, "conv", "old message"))
	require.NoError(t, h.HandleText(ctx, "conv", "/reset"))

	msgs, err := s.MessagesBefore(ctx, "conv", -1, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "history before the reset is out of context")
	assert.Contains(t, n.texts[len(n.texts)-1], "reset")
}

func TestHandleCommand_Unknown(t *testing.T) {
	h, _, r, n := newFixture(t)

	require.NoError(t, h.HandleText(context.Background(), "conv", "/dance"))
	require.Len(t, n.texts, 1)
	assert.Contains(t, n.texts[0], "Unknown command")
	assert.Empty(t, r.units)
}
