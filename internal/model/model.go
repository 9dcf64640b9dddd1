package model

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who spoke a transcript entry.
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// ParseRole maps a wire role onto a Role. The voice transport and older
// clients send "ai"/"assistant" and "user"; anything else is rejected.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "interviewer", "ai", "assistant":
		return RoleInterviewer, nil
	case "candidate", "user":
		return RoleCandidate, nil
	default:
		return "", fmt.Errorf("unknown transcript role %q", s)
	}
}

// SessionStatus represents the lifecycle state of an interview session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// SubmissionTrigger records which operation produced a submission.
type SubmissionTrigger string

const (
	TriggerCandidate SubmissionTrigger = "candidate"
	TriggerAgent     SubmissionTrigger = "agent"
	TriggerFinal     SubmissionTrigger = "final"
)

// DefaultLanguage is the editor language assigned to new sessions.
const DefaultLanguage = "javascript"

// Question is a single interview problem.
type Question struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Examples    []string `json:"examples" yaml:"examples"`
	StarterCode string   `json:"starterCode" yaml:"starterCode"`
}

// TranscriptEntry is one spoken turn. A zero Timestamp is filled with the
// time the server received the entry.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Submission is an immutable snapshot of the candidate's work on one question.
type Submission struct {
	QuestionIndex int               `json:"questionIndex"`
	Code          string            `json:"code"`
	Transcript    []TranscriptEntry `json:"transcript"`
	Trigger       SubmissionTrigger `json:"trigger"`
	SubmittedAt   time.Time         `json:"submittedAt"`
}

// Session is the aggregate root of one interview.
//
// Question, Code and Transcript form the working view of the question at
// CurrentQuestionIndex. Version increments on every durable write and is
// used as the compare-and-swap token.
type Session struct {
	SessionID            string            `json:"sessionId"`
	Status               SessionStatus     `json:"status"`
	Language             string            `json:"language"`
	Questions            []Question        `json:"questions"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	Question             Question          `json:"question"`
	Code                 string            `json:"code"`
	Transcript           []TranscriptEntry `json:"transcript"`
	Submissions          []Submission      `json:"submissions"`
	Feedback             *Report           `json:"feedback,omitempty"`
	Version              int64             `json:"version"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// IsLastQuestion reports whether the working question is the final one.
func (s *Session) IsLastQuestion() bool {
	return s.CurrentQuestionIndex+1 >= len(s.Questions)
}

// HasSubmissionFor reports whether a submission already exists for index i.
func (s *Session) HasSubmissionFor(i int) bool {
	for _, sub := range s.Submissions {
		if sub.QuestionIndex == i {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (s *Session) Clone() *Session {
	c := *s
	c.Questions = append([]Question(nil), s.Questions...)
	c.Transcript = append([]TranscriptEntry{}, s.Transcript...)
	c.Submissions = make([]Submission, len(s.Submissions))
	for i, sub := range s.Submissions {
		sub.Transcript = append([]TranscriptEntry{}, sub.Transcript...)
		c.Submissions[i] = sub
	}
	if s.Feedback != nil {
		f := s.Feedback.Clone()
		c.Feedback = &f
	}
	return &c
}

// SessionView is the read projection returned to clients.
type SessionView struct {
	*Session
	TotalQuestions int `json:"totalQuestions"`
}

// View wraps the session with derived fields.
func (s *Session) View() *SessionView {
	return &SessionView{Session: s, TotalQuestions: len(s.Questions)}
}

// InterviewConfig holds runtime interview parameters set via CLI flags.
type InterviewConfig struct {
	NumQuestions int
	Shuffle      bool
	Language     string
}

// EvaluationJob asks the worker pool to evaluate a session. Force re-runs
// the evaluation even when feedback already exists.
type EvaluationJob struct {
	SessionID string `json:"session_id"`
	Force     bool   `json:"force,omitempty"`
}
