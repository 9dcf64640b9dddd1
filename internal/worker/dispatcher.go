package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vasu-devs/Socratis/internal/model"
	"github.com/vasu-devs/Socratis/internal/store"
)

// SessionSource reads sessions and accepts their reports.
type SessionSource interface {
	Get(ctx context.Context, id string) (*model.SessionView, error)
	SaveReport(ctx context.Context, id string, report model.Report) error
}

// Evaluator turns a question, code and transcript into a Report.
type Evaluator interface {
	Evaluate(ctx context.Context, q model.Question, code string, transcript []model.TranscriptEntry) model.Report
}

// Dispatcher pulls jobs from a Queue and evaluates them with a fixed
// number of workers. A non-forced job for a session another worker is
// already evaluating is dropped.
type Dispatcher struct {
	queue     Queue
	sessions  SessionSource
	evaluator Evaluator
	workers   int

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewDispatcher creates a dispatcher. workers <= 0 means one worker.
func NewDispatcher(q Queue, sessions SessionSource, ev Evaluator, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		queue:     q,
		sessions:  sessions,
		evaluator: ev,
		workers:   workers,
		inflight:  make(map[string]struct{}),
	}
}

// Run blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("evaluation workers started", "workers", d.workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.loop(ctx, i)
			return nil
		})
	}
	err := g.Wait()
	slog.Info("evaluation workers stopped")
	return err
}

func (d *Dispatcher) loop(ctx context.Context, worker int) {
	log := slog.With("worker", worker)
	for {
		job, err := d.queue.Dequeue(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error("dequeue evaluation job", "error", err)
			select {
			case <-time.After(pollTimeout):
			case <-ctx.Done():
				return
			}
			continue
		}
		if !job.Force && !d.claim(job.SessionID) {
			log.Debug("evaluation already running", "session_id", job.SessionID)
			continue
		}
		if err := Process(ctx, d.sessions, d.evaluator, job); err != nil {
			log.Error("evaluation job failed", "session_id", job.SessionID, "error", err)
		}
		if !job.Force {
			d.release(job.SessionID)
		}
	}
}

func (d *Dispatcher) claim(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[id]; ok {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

// Process evaluates one session and stores its report. Sessions that are
// missing, still active, or already evaluated (unless forced) are skipped.
// A cancelled ctx discards the result so a shutdown never stores a
// failure report.
func Process(ctx context.Context, sessions SessionSource, ev Evaluator, job model.EvaluationJob) error {
	log := slog.With("session_id", job.SessionID)

	sess, err := sessions.Get(ctx, job.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("evaluation job for unknown session dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.Status != model.StatusCompleted {
		log.Warn("evaluation job for active session skipped")
		return nil
	}
	if sess.Feedback != nil && !job.Force {
		log.Debug("session already evaluated")
		return nil
	}

	report := ev.Evaluate(ctx, sess.Question, sess.Code, sess.Transcript)
	if ctx.Err() != nil {
		return fmt.Errorf("evaluation interrupted: %w", ctx.Err())
	}
	if err := sessions.SaveReport(ctx, job.SessionID, report); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}
