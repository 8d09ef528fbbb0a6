// ABOUTME: End-to-end pipeline tests over real store, broker, pools and correlator
// ABOUTME: Covers the text, voice-chain, permanent-failure and prompt-change flows

package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxrelay/voxrelay/internal/assemble"
	"github.com/voxrelay/voxrelay/internal/backend"
	"github.com/voxrelay/voxrelay/internal/correlate"
	"github.com/voxrelay/voxrelay/internal/dedupe"
	"github.com/voxrelay/voxrelay/internal/job"
	"github.com/voxrelay/voxrelay/internal/queue"
	"github.com/voxrelay/voxrelay/internal/router"
	"github.com/voxrelay/voxrelay/internal/store"
	"github.com/voxrelay/voxrelay/internal/worker"
)

const pipelinePrompt = "You are a helpful assistant."

// syncDeliverer records deliveries and signals each one.
type syncDeliverer struct {
	mu     sync.Mutex
	texts  map[string][]string
	voices map[string][][]byte
	events chan string
}

func newSyncDeliverer() *syncDeliverer {
	return &syncDeliverer{
		texts:  make(map[string][]string),
		voices: make(map[string][][]byte),
		events: make(chan string, 64),
	}
}

func (d *syncDeliverer) SendText(_ context.Context, convID, text string) error {
	d.mu.Lock()
	d.texts[convID] = append(d.texts[convID], text)
	d.mu.Unlock()
	d.events <- "text"
	return nil
}

func (d *syncDeliverer) SendVoice(_ context.Context, convID string, audio []byte) error {
	d.mu.Lock()
	d.voices[convID] = append(d.voices[convID], audio)
	d.mu.Unlock()
	d.events <- "voice"
	return nil
}

func (d *syncDeliverer) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-d.events:
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, n)
		}
	}
}

func (d *syncDeliverer) textsFor(convID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.texts[convID]...)
}

// scriptedLLM replies with a fixed string and captures the prompt it saw.
type scriptedLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *scriptedLLM) Infer(_ context.Context, systemPrompt string, _ []*store.Message, _ string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, systemPrompt)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type scriptedSTT struct {
	text string
	err  error
}

func (f *scriptedSTT) Transcribe(context.Context, []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type scriptedTTS struct{}

func (scriptedTTS) Synthesize(context.Context, string) ([]byte, error) {
	return []byte("synth-audio"), nil
}

type pipeline struct {
	handler   *Handler
	store     *store.SQLiteStore
	deliverer *syncDeliverer
}

func startPipeline(t *testing.T, llm backend.Inferencer, stt backend.Transcriber) *pipeline {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	broker, err := queue.New(s.DB(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(broker.Close)

	seen := dedupe.New(time.Minute, 1000)
	t.Cleanup(seen.Close)

	deliverer := newSyncDeliverer()
	unitRouter := router.New(broker)
	correlator := correlate.New(s, unitRouter, deliverer, seen)
	assembler := assemble.New(s, pipelinePrompt, 8000, 20)
	executor := worker.NewExecutor(assembler, llm, stt, scriptedTTS{})

	ceilings := map[job.Kind]int{
		job.KindTranscribe: 2,
		job.KindInfer:      2,
		job.KindSynthesize: 2,
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	for _, class := range job.Classes {
		pool := worker.NewPool(class, 1, broker, executor, correlator, ceilings)
		pool.Start(ctx)
	}

	return &pipeline{
		handler:   New(s, unitRouter, deliverer, pipelinePrompt),
		store:     s,
		deliverer: deliverer,
	}
}

// Scenario: plain text in, reply out, both recorded in order.
func TestPipeline_TextRoundTrip(t *testing.T) {
	p := startPipeline(t, &scriptedLLM{reply: "hi"}, &scriptedSTT{})
	ctx := context.Background()

	require.NoError(t, p.handler.HandleText(ctx, "C", "hello"))
	p.deliverer.wait(t, 1)

	msgs, err := p.store.MessagesBefore(ctx, "C", -1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, int64(0), msgs[0].Seq)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, int64(1), msgs[1].Seq)

	assert.Equal(t, []string{"hi"}, p.deliverer.textsFor("C"))
}

// Scenario: voice note chains transcribe -> infer -> synthesize, appending
// exactly two messages and delivering text plus audio.
func TestPipeline_VoiceChain(t *testing.T) {
	p := startPipeline(t, &scriptedLLM{reply: "queueing it up"}, &scriptedSTT{text: "play music"})
	ctx := context.Background()

	require.NoError(t, p.handler.HandleVoice(ctx, "C", make([]byte, 320)))
	p.deliverer.wait(t, 2) // text reply + synthesized voice

	msgs, err := p.store.MessagesBefore(ctx, "C", -1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "play music", msgs[0].Content)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, "queueing it up", msgs[1].Content)

	p.deliverer.mu.Lock()
	defer p.deliverer.mu.Unlock()
	require.Len(t, p.deliverer.voices["C"], 1)
	assert.Equal(t, []byte("synth-audio"), p.deliverer.voices["C"][0])
}

// Scenario: transcription fails permanently; nothing is appended and one
// notice is delivered.
func TestPipeline_VoiceFailureLeavesNoTrace(t *testing.T) {
	stt := &scriptedSTT{err: backend.Permanent(errors.New("no speech recognized"))}
	p := startPipeline(t, &scriptedLLM{reply: "unused"}, stt)
	ctx := context.Background()

	require.NoError(t, p.handler.HandleVoice(ctx, "C", make([]byte, 320)))
	p.deliverer.wait(t, 1)

	msgs, err := p.store.MessagesBefore(ctx, "C", -1, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	texts := p.deliverer.textsFor("C")
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Sorry")
}

// Scenario: inference rejected permanently; history unchanged, one notice.
func TestPipeline_PermanentInferenceFailure(t *testing.T) {
	llm := &scriptedLLM{err: backend.Permanent(errors.New("malformed request"))}
	p := startPipeline(t, llm, &scriptedSTT{})
	ctx := context.Background()

	require.NoError(t, p.handler.HandleText(ctx, "C", "hello"))
	p.deliverer.wait(t, 1)

	msgs, err := p.store.MessagesBefore(ctx, "C", -1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "only the user message; failed turns leave no reply")
	assert.Equal(t, store.RoleUser, msgs[0].Role)

	texts := p.deliverer.textsFor("C")
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Sorry")
}

// Scenario: a prompt change applies to the next inference call only.
func TestPipeline_PromptChangeAppliesForward(t *testing.T) {
	llm := &scriptedLLM{reply: "ok"}
	p := startPipeline(t, llm, &scriptedSTT{})
	ctx := context.Background()

	require.NoError(t, p.handler.HandleText(ctx, "C", "first"))
	p.deliverer.wait(t, 1)

	require.NoError(t, p.handler.HandleText(ctx, "C", "/prompt speak like a pirate"))
	p.deliverer.wait(t, 1) // command confirmation

	require.NoError(t, p.handler.HandleText(ctx, "C", "second"))
	p.deliverer.wait(t, 1)

	llm.mu.Lock()
	defer llm.mu.Unlock()
	require.Len(t, llm.prompts, 2)
	assert.Equal(t, pipelinePrompt, llm.prompts[0])
	assert.Equal(t, "speak like a pirate", llm.prompts[1])
}

// Two chains in different conversations never interleave sequence numbers
// within either conversation.
func TestPipeline_ConversationIsolation(t *testing.T) {
	p := startPipeline(t, &scriptedLLM{reply: "done"}, &scriptedSTT{text: "hello there"})
	ctx := context.Background()

	require.NoError(t, p.handler.HandleVoice(ctx, "A", make([]byte, 320)))
	require.NoError(t, p.handler.HandleVoice(ctx, "B", make([]byte, 320)))
	p.deliverer.wait(t, 4) // two text replies + two voice replies

	for _, conv := range []string{"A", "B"} {
		msgs, err := p.store.MessagesBefore(ctx, conv, -1, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2, "conversation %s", conv)
		assert.Equal(t, int64(0), msgs[0].Seq)
		assert.Equal(t, int64(1), msgs[1].Seq)
	}
}
