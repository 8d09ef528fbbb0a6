// ABOUTME: Durable priority-class job queues backed by the shared SQLite database
// ABOUTME: FIFO per queue, blocking dequeue, visibility-timeout redelivery

package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxrelay/voxrelay/internal/job"
)

// ErrClosed is returned by blocking calls after the broker shuts down
var ErrClosed = errors.New("broker closed")

// pollInterval bounds how long an idle Dequeue waits before re-checking the
// table. Wakeup channels cover the common case; polling covers jobs requeued
// by the reaper or enqueued by another process sharing the database.
const pollInterval = 500 * time.Millisecond

// Broker owns the three durable queues. A job is visible while queued,
// invisible while running, and returns to the head of its queue with an
// incremented retry count if it is not acknowledged before the visibility
// deadline. FIFO holds within a queue only.
type Broker struct {
	db         *sql.DB
	logger     *slog.Logger
	visibility time.Duration

	mu   sync.Mutex
	wake map[job.Class]chan struct{}

	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// New creates a broker on the given database handle, creating the jobs table
// if needed, and starts the visibility reaper.
func New(db *sql.DB, visibility time.Duration) (*Broker, error) {
	b := &Broker{
		db:         db,
		logger:     slog.Default().With("component", "queue"),
		visibility: visibility,
		wake:       make(map[job.Class]chan struct{}),
		done:       make(chan struct{}),
	}
	for _, class := range job.Classes {
		b.wake[class] = make(chan struct{}, 1)
	}

	if err := b.createSchema(); err != nil {
		return nil, fmt.Errorf("creating jobs schema: %w", err)
	}

	b.wg.Add(1)
	go b.reap()

	b.logger.Info("queue broker initialized", "visibility_timeout", visibility)
	return b, nil
}

func (b *Broker) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			position        INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			kind            TEXT NOT NULL,
			class           TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			origin_seq      INTEGER NOT NULL,
			payload         BLOB,
			result          BLOB,
			status          TEXT NOT NULL,
			retry_count     INTEGER NOT NULL DEFAULT 0,
			want_voice      INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT NOT NULL DEFAULT '',
			deadline_ms     INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL,
			updated_at      DATETIME NOT NULL,

			CHECK (kind IN ('transcribe', 'infer', 'synthesize')),
			CHECK (class IN ('default', 'priority', 'gpu')),
			CHECK (status IN ('queued', 'running', 'done', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_class_status
			ON jobs(class, status, position);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Enqueue durably persists the job before returning. A crash after Enqueue
// returns cannot lose the job.
func (b *Broker) Enqueue(ctx context.Context, j *job.Job) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, class, conversation_id, origin_seq, payload,
		                   status, retry_count, want_voice, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Kind), string(j.Class), j.ConversationID, j.OriginSeq,
		j.Payload, string(job.StatusQueued), j.RetryCount, boolToInt(j.WantVoice), now, now)
	if err != nil {
		return fmt.Errorf("enqueuing job: %w", err)
	}

	b.logger.Debug("job enqueued",
		"job_id", j.ID, "kind", j.Kind, "class", j.Class,
		"conversation_id", j.ConversationID)
	b.signal(j.Class)
	return nil
}

// Dequeue blocks until a job is available on the named queue or the context
// or broker is done. The returned job is marked running and invisible until
// acknowledged or its visibility deadline passes.
func (b *Broker) Dequeue(ctx context.Context, class job.Class) (*job.Job, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		j, err := b.claim(ctx, class)
		if err != nil {
			return nil, err
		}
		if j != nil {
			return j, nil
		}

		select {
		case <-b.wakeChan(class):
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.done:
			return nil, ErrClosed
		}
	}
}

// claim atomically takes the oldest queued job off the queue, if any.
func (b *Broker) claim(ctx context.Context, class job.Class) (*job.Job, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim: %w", err)
	}
	defer tx.Rollback()

	j := &job.Job{Status: job.StatusRunning, Class: class}
	var kind, createdAt string
	var wantVoice int
	err = tx.QueryRowContext(ctx,
		`SELECT id, kind, conversation_id, origin_seq, payload, retry_count, want_voice, created_at
		 FROM jobs WHERE class = ? AND status = 'queued'
		 ORDER BY position LIMIT 1`,
		string(class)).Scan(&j.ID, &kind, &j.ConversationID, &j.OriginSeq,
		&j.Payload, &j.RetryCount, &wantVoice, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting job: %w", err)
	}
	j.Kind = job.Kind(kind)
	j.WantVoice = wantVoice != 0
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	deadline := time.Now().Add(b.visibility).UnixMilli()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'running', deadline_ms = ?, updated_at = ? WHERE id = ?`,
		deadline, now, j.ID); err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	b.logger.Debug("job claimed", "job_id", j.ID, "class", class, "retry_count", j.RetryCount)
	return j, nil
}

// Ack records the result and marks the job done. This is the job's single
// terminal transition on the success path; a job already recovered by the
// reaper and completed elsewhere is left alone.
func (b *Broker) Ack(ctx context.Context, j *job.Job, result []byte) error {
	return b.finish(ctx, j, job.StatusDone, result, "")
}

// Fail marks the job failed, its terminal transition on the error path.
func (b *Broker) Fail(ctx context.Context, j *job.Job, reason string) error {
	return b.finish(ctx, j, job.StatusFailed, nil, reason)
}

func (b *Broker) finish(ctx context.Context, j *job.Job, status job.Status, result []byte, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := b.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = 'running'`,
		string(status), result, reason, now, j.ID)
	if err != nil {
		return fmt.Errorf("finishing job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Lost the race with the reaper: the job went back to queued and
		// will run again. At-least-once, so this completion is dropped.
		b.logger.Warn("stale completion ignored", "job_id", j.ID, "status", status)
		return nil
	}

	if err := j.Transition(status); err != nil {
		return err
	}
	j.Result = result
	j.LastError = reason
	b.logger.Debug("job finished", "job_id", j.ID, "status", status)
	return nil
}

// Requeue puts a running job back on its queue for a transient failure,
// incrementing the retry count. The job keeps its original position, so it
// returns to the head of the queue.
func (b *Broker) Requeue(ctx context.Context, j *job.Job, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := b.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'queued', retry_count = retry_count + 1,
		        last_error = ?, deadline_ms = 0, updated_at = ?
		 WHERE id = ? AND status = 'running'`,
		reason, now, j.ID)
	if err != nil {
		return fmt.Errorf("requeuing job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		b.logger.Warn("stale requeue ignored", "job_id", j.ID)
		return nil
	}

	if err := j.Transition(job.StatusQueued); err != nil {
		return err
	}
	j.LastError = reason
	b.logger.Debug("job requeued", "job_id", j.ID, "retry_count", j.RetryCount, "reason", reason)
	b.signal(j.Class)
	return nil
}

// Counts returns per-queue, per-status job totals.
func (b *Broker) Counts(ctx context.Context) (map[job.Class]map[job.Status]int, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT class, status, COUNT(*) FROM jobs GROUP BY class, status`)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[job.Class]map[job.Status]int)
	for rows.Next() {
		var class, status string
		var n int
		if err := rows.Scan(&class, &status, &n); err != nil {
			return nil, fmt.Errorf("scanning counts: %w", err)
		}
		c := job.Class(class)
		if counts[c] == nil {
			counts[c] = make(map[job.Status]int)
		}
		counts[c][job.Status(status)] = n
	}
	return counts, rows.Err()
}

// reap periodically returns running jobs whose visibility deadline has
// passed to their queues. This is the principal crash-recovery mechanism:
// a worker that died mid-job never acknowledges, and the job reappears.
func (b *Broker) reap() {
	defer b.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.runReap()
		case <-b.done:
			return
		}
	}
}

func (b *Broker) runReap() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := b.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'queued', retry_count = retry_count + 1,
		        deadline_ms = 0, updated_at = ?
		 WHERE status = 'running' AND deadline_ms > 0 AND deadline_ms < ?`,
		now, time.Now().UnixMilli())
	if err != nil {
		b.logger.Error("reaping expired jobs failed", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		b.logger.Warn("requeued expired jobs", "count", n)
		for _, class := range job.Classes {
			b.signal(class)
		}
	}
}

func (b *Broker) wakeChan(class job.Class) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wake[class]
}

func (b *Broker) signal(class job.Class) {
	b.mu.Lock()
	ch := b.wake[class]
	b.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Close stops the reaper and unblocks all waiting Dequeue calls.
// It is safe to call multiple times.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
