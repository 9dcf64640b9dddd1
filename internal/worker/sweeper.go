package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vasu-devs/Socratis/internal/model"
)

const sweepBatch = 100

// AwaitingLister finds completed sessions that still lack a report.
type AwaitingLister interface {
	ListAwaitingReport(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// Sweeper periodically re-enqueues completed sessions whose report never
// arrived, for example after a crash or a failed enqueue.
type Sweeper struct {
	lister AwaitingLister
	queue  Queue
	grace  time.Duration
	cron   *cron.Cron
	now    func() time.Time
}

// NewSweeper creates a sweeper. Sessions updated within grace are left
// alone so in-flight evaluations are not duplicated.
func NewSweeper(lister AwaitingLister, q Queue, grace time.Duration) *Sweeper {
	return &Sweeper{
		lister: lister,
		queue:  q,
		grace:  grace,
		cron:   cron.New(),
		now:    time.Now,
	}
}

// Start schedules Sweep with a cron spec such as "@every 1m".
func (s *Sweeper) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			slog.Error("sweep sessions awaiting report", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("report sweeper started", "schedule", spec, "grace", s.grace)
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep enqueues one batch and returns how many jobs it queued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.lister.ListAwaitingReport(ctx, s.now().Add(-s.grace), sweepBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := s.queue.Enqueue(ctx, model.EvaluationJob{SessionID: id}); err != nil {
			slog.Warn("re-enqueue evaluation", "session_id", id, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		slog.Info("re-enqueued sessions awaiting report", "count", n)
	}
	return n, nil
}
