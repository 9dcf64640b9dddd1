package model

import "time"

// SessionsExport is the top-level JSON structure written by the export command.
type SessionsExport struct {
	ExportedAt time.Time       `json:"exported_at"`
	Status     string          `json:"status_filter,omitempty"`
	Count      int             `json:"count"`
	Sessions   []SessionExport `json:"sessions"`
}

// SessionExport holds one session's interview data for export.
type SessionExport struct {
	SessionID string           `json:"session_id"`
	Status    SessionStatus    `json:"status"`
	Language  string           `json:"language"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Questions []QuestionResult `json:"questions"`
	Report    *Report          `json:"report,omitempty"`
}

// QuestionResult holds per-question data for export.
type QuestionResult struct {
	Title      string            `json:"title"`
	Code       string            `json:"code"`
	Transcript []TranscriptEntry `json:"transcript"`
	Trigger    SubmissionTrigger `json:"trigger,omitempty"`
	Submitted  bool              `json:"submitted"`
}

// ExportOf flattens a session into its export form.
func ExportOf(s *Session) SessionExport {
	out := SessionExport{
		SessionID: s.SessionID,
		Status:    s.Status,
		Language:  s.Language,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Report:    s.Feedback,
	}
	byIndex := make(map[int]Submission, len(s.Submissions))
	for _, sub := range s.Submissions {
		byIndex[sub.QuestionIndex] = sub
	}
	for i, q := range s.Questions {
		qr := QuestionResult{Title: q.Title}
		if sub, ok := byIndex[i]; ok {
			qr.Code = sub.Code
			qr.Transcript = sub.Transcript
			qr.Trigger = sub.Trigger
			qr.Submitted = true
		} else if i == s.CurrentQuestionIndex {
			qr.Code = s.Code
			qr.Transcript = s.Transcript
		}
		out.Questions = append(out.Questions, qr)
	}
	return out
}
