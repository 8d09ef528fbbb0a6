// ABOUTME: Tests for job routing and classification
// ABOUTME: Validates queue assignment per unit kind and rejection of malformed units

package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxrelay/voxrelay/internal/job"
)

// fakeBroker records enqueued jobs without persistence.
type fakeBroker struct {
	jobs []*job.Job
	err  error
}

func (f *fakeBroker) Enqueue(_ context.Context, j *job.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, j)
	return nil
}

func TestRoute_Classification(t *testing.T) {
	tests := []struct {
		name      string
		unit      any
		wantKind  job.Kind
		wantClass job.Class
	}{
		{
			name:      "urgent text goes to priority infer",
			unit:      TextMessage{ConversationID: "c", Seq: 0, Text: "hello", Urgent: true},
			wantKind:  job.KindInfer,
			wantClass: job.ClassPriority,
		},
		{
			name:      "background text goes to default infer",
			unit:      TextMessage{ConversationID: "c", Seq: 0, Text: "hello"},
			wantKind:  job.KindInfer,
			wantClass: job.ClassDefault,
		},
		{
			name:      "voice note goes to gpu transcribe",
			unit:      VoiceNote{ConversationID: "c", Audio: []byte{1, 2, 3}},
			wantKind:  job.KindTranscribe,
			wantClass: job.ClassGPU,
		},
		{
			name:      "speak request goes to default synthesize",
			unit:      SpeakRequest{ConversationID: "c", Seq: 1, Text: "hi"},
			wantKind:  job.KindSynthesize,
			wantClass: job.ClassDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &fakeBroker{}
			r := New(broker)

			j, err := r.Route(context.Background(), tt.unit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, j.Kind)
			assert.Equal(t, tt.wantClass, j.Class)
			assert.Equal(t, job.StatusQueued, j.Status)
			require.Len(t, broker.jobs, 1)
			assert.Equal(t, j, broker.jobs[0])
		})
	}
}

func TestRoute_ClassIsFixedAtCreation(t *testing.T) {
	broker := &fakeBroker{}
	r := New(broker)

	j, err := r.Route(context.Background(), VoiceNote{ConversationID: "c", Audio: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, job.ClassGPU, j.Class)
}

func TestRoute_MalformedUnits(t *testing.T) {
	tests := []struct {
		name string
		unit any
	}{
		{"empty text", TextMessage{ConversationID: "c"}},
		{"text without conversation", TextMessage{Text: "hi"}},
		{"empty audio", VoiceNote{ConversationID: "c"}},
		{"empty speak text", SpeakRequest{ConversationID: "c"}},
		{"unknown unit type", struct{ X int }{42}},
		{"nil unit", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &fakeBroker{}
			r := New(broker)

			_, err := r.Route(context.Background(), tt.unit)
			assert.ErrorIs(t, err, ErrUnroutable)
			assert.Empty(t, broker.jobs, "malformed units must not be enqueued")
		})
	}
}

func TestRoute_WantVoicePropagates(t *testing.T) {
	broker := &fakeBroker{}
	r := New(broker)

	j, err := r.Route(context.Background(), TextMessage{
		ConversationID: "c", Seq: 2, Text: "play music", WantVoice: true,
	})
	require.NoError(t, err)
	assert.True(t, j.WantVoice)
}
