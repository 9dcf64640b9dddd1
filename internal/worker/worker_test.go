package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasu-devs/Socratis/internal/model"
	"github.com/vasu-devs/Socratis/internal/store"
)

type fakeSessions struct {
	mu      sync.Mutex
	byID    map[string]*model.Session
	reports map[string]model.Report
	saved   chan string
}

func newFakeSessions(sessions ...*model.Session) *fakeSessions {
	f := &fakeSessions{
		byID:    make(map[string]*model.Session),
		reports: make(map[string]model.Report),
		saved:   make(chan string, 16),
	}
	for _, s := range sessions {
		f.byID[s.SessionID] = s
	}
	return f
}

func (f *fakeSessions) Get(_ context.Context, id string) (*model.SessionView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.Clone().View(), nil
}

func (f *fakeSessions) SaveReport(_ context.Context, id string, r model.Report) error {
	f.mu.Lock()
	f.reports[id] = r
	f.byID[id].Feedback = &r
	f.mu.Unlock()
	f.saved <- id
	return nil
}

type fakeEvaluator struct {
	mu    sync.Mutex
	calls int
	code  string
}

func (e *fakeEvaluator) Evaluate(_ context.Context, _ model.Question, code string, _ []model.TranscriptEntry) model.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.code = code
	return model.Report{OverallScore: 8, DimensionScores: model.UniformScores(8)}
}

func completedSession(id string) *model.Session {
	q := model.Question{Title: "Q1"}
	return &model.Session{
		SessionID: id,
		Status:    model.StatusCompleted,
		Questions: []model.Question{q},
		Question:  q,
		Code:      "final code",
	}
}

func TestProcess(t *testing.T) {
	active := completedSession("active")
	active.Status = model.StatusActive
	done := completedSession("done")
	done.Feedback = &model.Report{OverallScore: 2}

	tests := []struct {
		name      string
		job       model.EvaluationJob
		wantCalls int
	}{
		{"completed session", model.EvaluationJob{SessionID: "s1"}, 1},
		{"unknown session", model.EvaluationJob{SessionID: "nope"}, 0},
		{"active session", model.EvaluationJob{SessionID: "active"}, 0},
		{"already evaluated", model.EvaluationJob{SessionID: "done"}, 0},
		{"forced re-run", model.EvaluationJob{SessionID: "done", Force: true}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := completedSession("done")
			d.Feedback = done.Feedback
			sessions := newFakeSessions(completedSession("s1"), active, d)
			ev := &fakeEvaluator{}

			require.NoError(t, Process(context.Background(), sessions, ev, tt.job))
			assert.Equal(t, tt.wantCalls, ev.calls)
			if tt.wantCalls > 0 {
				assert.Equal(t, "final code", ev.code)
				assert.Equal(t, 8.0, sessions.reports[tt.job.SessionID].OverallScore)
			}
		})
	}
}

func TestProcessCancelledDoesNotSave(t *testing.T) {
	sessions := newFakeSessions(completedSession("s1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Process(ctx, sessions, &fakeEvaluator{}, model.EvaluationJob{SessionID: "s1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sessions.reports)
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, model.EvaluationJob{SessionID: "a"}))
	assert.ErrorIs(t, q.Enqueue(ctx, model.EvaluationJob{SessionID: "b"}), ErrQueueFull)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", job.SessionID)

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(cctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisQueue(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := NewRedisQueue(rdb)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, model.EvaluationJob{SessionID: "a", Force: true}))
	require.NoError(t, q.Enqueue(ctx, model.EvaluationJob{SessionID: "b"}))

	items, err := mr.List(EvaluationQueueKey)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.EvaluationJob{SessionID: "a", Force: true}, job)

	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", job.SessionID)
}

func TestDispatcherRun(t *testing.T) {
	sessions := newFakeSessions(completedSession("s1"), completedSession("s2"))
	q := NewMemoryQueue(8)
	d := NewDispatcher(q, sessions, &fakeEvaluator{}, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, q.Enqueue(ctx, model.EvaluationJob{SessionID: "s1"}))
	require.NoError(t, q.Enqueue(ctx, model.EvaluationJob{SessionID: "s2"}))

	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case id := <-sessions.saved:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for reports")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

type blockingEvaluator struct {
	fakeEvaluator
	started chan struct{}
	unblock chan struct{}
}

func (e *blockingEvaluator) Evaluate(ctx context.Context, q model.Question, code string, tr []model.TranscriptEntry) model.Report {
	e.started <- struct{}{}
	select {
	case <-e.unblock:
	case <-ctx.Done():
	}
	return e.fakeEvaluator.Evaluate(ctx, q, code, tr)
}

func TestDispatcherDropsDuplicateWhileRunning(t *testing.T) {
	sessions := newFakeSessions(completedSession("s1"))
	q := NewMemoryQueue(8)
	ev := &blockingEvaluator{started: make(chan struct{}, 2), unblock: make(chan struct{})}
	d := NewDispatcher(q, sessions, ev, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, q.Enqueue(ctx, model.EvaluationJob{SessionID: "s1"}))
	select {
	case <-ev.started:
	case <-time.After(2 * time.Second):
		t.Fatal("evaluation did not start")
	}

	// A sweep re-enqueues the session while the first run is still going.
	require.NoError(t, q.Enqueue(ctx, model.EvaluationJob{SessionID: "s1"}))
	require.Eventually(t, func() bool { return len(q.jobs) == 0 }, 2*time.Second, 5*time.Millisecond)

	close(ev.unblock)
	select {
	case <-sessions.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for report")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	assert.Equal(t, 1, ev.calls)
	assert.Empty(t, ev.started, "duplicate job never reached the evaluator")
}

type fakeLister struct {
	ids    []string
	err    error
	before time.Time
}

func (l *fakeLister) ListAwaitingReport(_ context.Context, before time.Time, _ int) ([]string, error) {
	l.before = before
	return l.ids, l.err
}

func TestSweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{ids: []string{"a", "b"}}
	q := NewMemoryQueue(1)
	s := NewSweeper(lister, q, 5*time.Minute)
	s.now = func() time.Time { return now }

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "second job overflows the queue and is skipped")
	assert.Equal(t, now.Add(-5*time.Minute), lister.before)

	lister.err = errors.New("db down")
	_, err = s.Sweep(context.Background())
	assert.Error(t, err)
}

func TestSweeperStartRejectsBadSchedule(t *testing.T) {
	s := NewSweeper(&fakeLister{}, NewMemoryQueue(1), time.Minute)
	assert.Error(t, s.Start("not a schedule"))
}
