// ABOUTME: Relay composition root: wires store, queues, workers, backends and transport
// ABOUTME: Owns startup order and graceful shutdown of the whole pipeline

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxrelay/voxrelay/internal/assemble"
	"github.com/voxrelay/voxrelay/internal/config"
	"github.com/voxrelay/voxrelay/internal/correlate"
	"github.com/voxrelay/voxrelay/internal/dedupe"
	"github.com/voxrelay/voxrelay/internal/ingest"
	"github.com/voxrelay/voxrelay/internal/job"
	"github.com/voxrelay/voxrelay/internal/llm"
	"github.com/voxrelay/voxrelay/internal/queue"
	"github.com/voxrelay/voxrelay/internal/router"
	"github.com/voxrelay/voxrelay/internal/speech"
	"github.com/voxrelay/voxrelay/internal/store"
	"github.com/voxrelay/voxrelay/internal/transport"
	"github.com/voxrelay/voxrelay/internal/worker"
)

// dedupeTTL bounds how long a completed job ID is remembered. Redeliveries
// arrive within the visibility timeout, so anything past a few of those is
// safe to forget.
const (
	dedupeTTL     = 30 * time.Minute
	dedupeMaxSize = 10000
)

// Relay is the assembled service.
type Relay struct {
	cfg    *config.Config
	logger *slog.Logger

	store  *store.SQLiteStore
	broker *queue.Broker
	seen   *dedupe.Cache
	pools  []*worker.Pool
	server *transport.Server
}

// New wires every component from configuration. Nothing starts running
// until Run is called.
func New(cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	broker, err := queue.New(s.DB(), cfg.Queue.VisibilityTimeout)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("opening queue broker: %w", err)
	}

	seen := dedupe.New(dedupeTTL, dedupeMaxSize)

	unitRouter := router.New(broker)
	assembler := assemble.New(s, cfg.Context.SystemPrompt, cfg.Context.MaxChars, cfg.Context.MaxMessages)

	inferencer := llm.New(llm.Config{
		BaseURL:     cfg.Inference.BaseURL,
		APIKey:      cfg.Inference.APIKey,
		Model:       cfg.Inference.Model,
		MaxTokens:   cfg.Inference.MaxTokens,
		Temperature: cfg.Inference.Temperature,
		Timeout:     cfg.Inference.Timeout,
	})
	stt := speech.NewSTT(cfg.Speech.STT.BaseURL, cfg.Speech.STT.Timeout)
	tts := speech.NewTTS(cfg.Speech.TTS.BaseURL, cfg.Speech.TTS.Voice, cfg.Speech.TTS.Timeout)

	executor := worker.NewExecutor(assembler, inferencer, stt, tts)

	handler := ingest.New(s, unitRouter, nil, cfg.Context.SystemPrompt)
	hub := transport.NewHub(handler)
	handler.SetNotifier(hub)

	correlator := correlate.New(s, unitRouter, hub, seen)

	ceilings := map[job.Kind]int{
		job.KindTranscribe: cfg.Queue.Retries.Transcribe,
		job.KindInfer:      cfg.Queue.Retries.Infer,
		job.KindSynthesize: cfg.Queue.Retries.Synthesize,
	}
	pools := []*worker.Pool{
		worker.NewPool(job.ClassDefault, cfg.Queue.Workers.Default, broker, executor, correlator, ceilings),
		worker.NewPool(job.ClassPriority, cfg.Queue.Workers.Priority, broker, executor, correlator, ceilings),
		worker.NewPool(job.ClassGPU, cfg.Queue.Workers.GPU, broker, executor, correlator, ceilings),
	}

	return &Relay{
		cfg:    cfg,
		logger: logger.With("component", "relay"),
		store:  s,
		broker: broker,
		seen:   seen,
		pools:  pools,
		server: transport.NewServer(cfg.Server.HTTPAddr, hub),
	}, nil
}

// Run starts the worker pools and the transport server and blocks until the
// context is canceled or the server fails. Shutdown is graceful: the broker
// closes first so workers drain, then everything else is released.
func (r *Relay) Run(ctx context.Context) error {
	for _, p := range r.pools {
		p.Start(ctx)
	}

	err := r.server.Run(ctx)

	r.broker.Close()
	for _, p := range r.pools {
		p.Wait()
	}
	r.seen.Close()
	if closeErr := r.store.Close(); closeErr != nil {
		r.logger.Error("store close failed", "error", closeErr)
	}

	if err != nil {
		return fmt.Errorf("transport server: %w", err)
	}
	r.logger.Info("relay stopped")
	return nil
}
