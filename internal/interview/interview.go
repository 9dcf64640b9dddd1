// Package interview implements the session state machine: creation,
// working-state updates, question advancement, finalization and the
// feedback write.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vasu-devs/Socratis/internal/metrics"
	"github.com/vasu-devs/Socratis/internal/model"
	"github.com/vasu-devs/Socratis/internal/questions"
	"github.com/vasu-devs/Socratis/internal/store"
)

var (
	// ErrSessionCompleted rejects working-state writes after completion.
	ErrSessionCompleted = errors.New("session is completed")
	// ErrInvalidTransition rejects a transition the current state does not allow.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrNoQueue means evaluation was requested but no queue is attached.
	ErrNoQueue = errors.New("evaluation queue not configured")

	// errNoChange aborts a mutation without writing.
	errNoChange = errors.New("no change")
)

const maxWriteAttempts = 3

// Advance result statuses.
const (
	StatusNextQuestion    = "next_question"
	StatusCompleted       = "completed"
	StatusAdvanced        = "advanced"
	StatusNoMoreQuestions = "no_more_questions"
)

// Store is the session persistence the service needs.
type Store interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	GetFresh(ctx context.Context, id string) (*model.Session, error)
	Create(ctx context.Context, s *model.Session) error
	Update(ctx context.Context, s *model.Session, expectedVersion int64) error
}

// Enqueuer schedules an asynchronous evaluation of a session.
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.EvaluationJob) error
}

// Service owns every transition of a session.
type Service struct {
	store Store
	pool  *questions.Pool
	cfg   model.InterviewConfig
	queue Enqueuer
	locks *keyedMutex
	now   func() time.Time
	newID func() string
}

// New creates a service. queue may be nil, in which case finalization
// does not schedule evaluation.
func New(st Store, pool *questions.Pool, cfg model.InterviewConfig, queue Enqueuer) *Service {
	if cfg.Language == "" {
		cfg.Language = model.DefaultLanguage
	}
	return &Service{
		store: st,
		pool:  pool,
		cfg:   cfg,
		queue: queue,
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// WorkingState carries optional replacements for the working view.
// A nil field leaves the stored value untouched.
type WorkingState struct {
	Code       *string
	Transcript *[]model.TranscriptEntry
}

// Submit carries the candidate's artifacts for advance and finalize. A nil
// Transcript keeps the stored transcript. QuestionIndex, when set, is the
// index the caller believes is current; a smaller value marks a replay.
type Submit struct {
	Code          string
	Transcript    *[]model.TranscriptEntry
	QuestionIndex *int
}

// AdvanceResult describes the outcome of an advance.
type AdvanceResult struct {
	Status               string          `json:"status"`
	Question             *model.Question `json:"question,omitempty"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex"`
	TotalQuestions       int             `json:"totalQuestions"`
	IsLastQuestion       bool            `json:"isLastQuestion"`
}

func resultFor(status string, s *model.Session) *AdvanceResult {
	r := &AdvanceResult{
		Status:               status,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		TotalQuestions:       len(s.Questions),
		IsLastQuestion:       s.IsLastQuestion(),
	}
	if status == StatusNextQuestion || status == StatusAdvanced {
		q := s.Question
		r.Question = &q
	}
	return r
}

// Create starts a session with questions drawn from the pool.
func (s *Service) Create(ctx context.Context) (*model.SessionView, error) {
	qs, err := s.pool.Draw(s.cfg.NumQuestions, s.cfg.Shuffle)
	if err != nil {
		return nil, fmt.Errorf("draw questions: %w", err)
	}
	now := s.now()
	sess := &model.Session{
		SessionID:   s.newID(),
		Status:      model.StatusActive,
		Language:    s.cfg.Language,
		Questions:   qs,
		Question:    qs[0],
		Code:        qs[0].StarterCode,
		Transcript:  []model.TranscriptEntry{},
		Submissions: []model.Submission{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	metrics.Transitions.WithLabelValues("create").Inc()
	slog.Info("session created", "session_id", sess.SessionID, "questions", len(qs))
	return sess.View(), nil
}

// Get returns the session view.
func (s *Service) Get(ctx context.Context, id string) (*model.SessionView, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.View(), nil
}

// Report returns the Report Access projection of a session.
func (s *Service) Report(ctx context.Context, id string) (*model.ReportView, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.ReportView{
		SessionID: sess.SessionID,
		Status:    sess.Status,
		Ready:     sess.Feedback != nil,
		Report:    sess.Feedback,
	}, nil
}

// UpdateWorkingState replaces code and/or transcript while the session is active.
func (s *Service) UpdateWorkingState(ctx context.Context, id string, ws WorkingState) (*model.SessionView, error) {
	sess, err := s.mutate(ctx, id, func(sess *model.Session) error {
		if sess.Status != model.StatusActive {
			return ErrSessionCompleted
		}
		if ws.Code == nil && ws.Transcript == nil {
			return errNoChange
		}
		if ws.Code != nil {
			sess.Code = *ws.Code
		}
		if ws.Transcript != nil {
			sess.Transcript = s.stamp(*ws.Transcript)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess.View(), nil
}

// AppendTranscript adds entries to the working transcript while active.
func (s *Service) AppendTranscript(ctx context.Context, id string, entries ...model.TranscriptEntry) (*model.SessionView, error) {
	sess, err := s.mutate(ctx, id, func(sess *model.Session) error {
		if sess.Status != model.StatusActive {
			return ErrSessionCompleted
		}
		if len(entries) == 0 {
			return errNoChange
		}
		sess.Transcript = append(sess.Transcript, s.stamp(entries)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess.View(), nil
}

// Advance records the candidate's submission for the current question and
// moves on, or completes the session when the current question is the last.
// The transcript is reset for the next question. Advancing a completed
// session reports completion without writing.
func (s *Service) Advance(ctx context.Context, id string, in Submit) (*AdvanceResult, error) {
	var (
		res                 *AdvanceResult
		advanced, completed bool
	)
	_, err := s.mutate(ctx, id, func(sess *model.Session) error {
		advanced, completed = false, false
		if sess.Status == model.StatusCompleted {
			res = resultFor(StatusCompleted, sess)
			return errNoChange
		}
		if in.QuestionIndex != nil {
			switch {
			case *in.QuestionIndex < sess.CurrentQuestionIndex:
				res = resultFor(StatusNextQuestion, sess)
				return errNoChange
			case *in.QuestionIndex > sess.CurrentQuestionIndex:
				return fmt.Errorf("%w: question %d is not current (current %d)",
					ErrInvalidTransition, *in.QuestionIndex, sess.CurrentQuestionIndex)
			}
		}

		transcript := sess.Transcript
		if in.Transcript != nil {
			transcript = s.stamp(*in.Transcript)
		}

		if sess.IsLastQuestion() {
			s.finish(sess, in.Code, transcript)
			res = resultFor(StatusCompleted, sess)
			completed = true
			return nil
		}

		sess.Submissions = append(sess.Submissions, s.submission(sess.CurrentQuestionIndex, in.Code, transcript, model.TriggerCandidate))
		s.moveTo(sess, sess.CurrentQuestionIndex+1)
		sess.Transcript = []model.TranscriptEntry{}
		res = resultFor(StatusNextQuestion, sess)
		advanced = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if completed {
		metrics.Transitions.WithLabelValues("complete").Inc()
		s.scheduleEvaluation(ctx, id)
	} else if advanced {
		metrics.Transitions.WithLabelValues("advance").Inc()
	}
	return res, nil
}

// AgentAdvance moves to the next question on the interviewer's behalf. The
// working code and transcript are snapshotted as a submission and the
// transcript continues across questions.
func (s *Service) AgentAdvance(ctx context.Context, id string) (*AdvanceResult, error) {
	var res *AdvanceResult
	_, err := s.mutate(ctx, id, func(sess *model.Session) error {
		if sess.Status != model.StatusActive {
			return ErrSessionCompleted
		}
		if sess.IsLastQuestion() {
			res = resultFor(StatusNoMoreQuestions, sess)
			return errNoChange
		}
		sess.Submissions = append(sess.Submissions, s.submission(sess.CurrentQuestionIndex, sess.Code, sess.Transcript, model.TriggerAgent))
		s.moveTo(sess, sess.CurrentQuestionIndex+1)
		res = resultFor(StatusAdvanced, sess)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Status == StatusAdvanced {
		metrics.Transitions.WithLabelValues("agent_advance").Inc()
	}
	return res, nil
}

// Finalize stores the final code and transcript and completes the session.
// Calling it again overwrites the working view without rescheduling
// evaluation.
func (s *Service) Finalize(ctx context.Context, id string, in Submit) (*AdvanceResult, error) {
	code := in.Code
	return s.finalize(ctx, id, &code, in.Transcript)
}

// EndCall completes the session with its current working code and
// transcript. The voice transport calls it when the call hangs up.
func (s *Service) EndCall(ctx context.Context, id string) (*AdvanceResult, error) {
	return s.finalize(ctx, id, nil, nil)
}

func (s *Service) finalize(ctx context.Context, id string, code *string, transcript *[]model.TranscriptEntry) (*AdvanceResult, error) {
	var wasActive bool
	sess, err := s.mutate(ctx, id, func(sess *model.Session) error {
		wasActive = sess.Status == model.StatusActive
		if code == nil && !wasActive {
			return errNoChange
		}
		finalCode, finalTranscript := sess.Code, sess.Transcript
		if code != nil {
			finalCode = *code
		}
		if transcript != nil {
			finalTranscript = s.stamp(*transcript)
		}
		s.finish(sess, finalCode, finalTranscript)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if wasActive {
		metrics.Transitions.WithLabelValues("complete").Inc()
		s.scheduleEvaluation(ctx, id)
	}
	return resultFor(StatusCompleted, sess), nil
}

// SaveReport attaches feedback and marks the session completed. It is the
// only write accepted after completion and may replace an earlier report.
func (s *Service) SaveReport(ctx context.Context, id string, report model.Report) error {
	report = report.Clone()
	_, err := s.mutate(ctx, id, func(sess *model.Session) error {
		if sess.Status == model.StatusActive {
			s.finish(sess, sess.Code, sess.Transcript)
		}
		r := report
		sess.Feedback = &r
		return nil
	})
	if err != nil {
		return err
	}
	metrics.Transitions.WithLabelValues("report").Inc()
	slog.Info("report saved", "session_id", id, "overall_score", report.OverallScore)
	return nil
}

// RequestEvaluation schedules a fresh evaluation of a completed session.
func (s *Service) RequestEvaluation(ctx context.Context, id string) error {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != model.StatusCompleted {
		return fmt.Errorf("%w: session %s is still active", ErrInvalidTransition, id)
	}
	if s.queue == nil {
		return ErrNoQueue
	}
	return s.queue.Enqueue(ctx, model.EvaluationJob{SessionID: id, Force: true})
}

// finish records the final submission (once) and completes the session.
func (s *Service) finish(sess *model.Session, code string, transcript []model.TranscriptEntry) {
	sess.Code = code
	sess.Transcript = copyTranscript(transcript)
	if !sess.HasSubmissionFor(sess.CurrentQuestionIndex) {
		sess.Submissions = append(sess.Submissions, s.submission(sess.CurrentQuestionIndex, code, transcript, model.TriggerFinal))
	}
	sess.Status = model.StatusCompleted
}

func (s *Service) moveTo(sess *model.Session, idx int) {
	sess.CurrentQuestionIndex = idx
	sess.Question = sess.Questions[idx]
	sess.Code = sess.Question.StarterCode
}

func (s *Service) submission(idx int, code string, transcript []model.TranscriptEntry, trigger model.SubmissionTrigger) model.Submission {
	return model.Submission{
		QuestionIndex: idx,
		Code:          code,
		Transcript:    copyTranscript(transcript),
		Trigger:       trigger,
		SubmittedAt:   s.now(),
	}
}

func (s *Service) scheduleEvaluation(ctx context.Context, id string) {
	if s.queue == nil {
		slog.Warn("no evaluation queue, session left without report", "session_id", id)
		return
	}
	// The sweeper retries sessions whose enqueue failed here.
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), model.EvaluationJob{SessionID: id}); err != nil {
		slog.Error("enqueue evaluation", "session_id", id, "error", err)
	}
}

// mutate applies fn to a copy of the session under the per-session lock and
// writes it with a compare-and-swap on the version. On a lost race fn is
// re-run against a fresh read. fn returning errNoChange skips the write.
func (s *Service) mutate(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	get := s.store.Get
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		cur, err := get(ctx, id)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, errNoChange) {
				return cur, nil
			}
			return nil, err
		}
		next.Version = cur.Version + 1
		next.UpdatedAt = s.now()

		err = s.store.Update(ctx, next, cur.Version)
		if errors.Is(err, store.ErrConflict) {
			slog.Debug("session write conflict, retrying", "session_id", id, "attempt", attempt+1)
			get = s.store.GetFresh
			continue
		}
		if err != nil {
			return nil, err
		}
		return next, nil
	}
	return nil, fmt.Errorf("write session %s: %w", id, store.ErrConflict)
}

// stamp copies entries, giving those without a timestamp the current time.
func (s *Service) stamp(entries []model.TranscriptEntry) []model.TranscriptEntry {
	out := copyTranscript(entries)
	now := s.now()
	for i := range out {
		if out[i].Timestamp.IsZero() {
			out[i].Timestamp = now
		}
	}
	return out
}

func copyTranscript(t []model.TranscriptEntry) []model.TranscriptEntry {
	return append([]model.TranscriptEntry{}, t...)
}
