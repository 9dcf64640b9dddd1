package handler

import (
	"encoding/json"
	"time"

	"github.com/vasu-devs/Socratis/internal/interview"
	"github.com/vasu-devs/Socratis/internal/model"
)

// transcriptEntry is the wire form of a transcript turn. Role accepts the
// aliases understood by model.ParseRole; a missing timestamp is set on write.
type transcriptEntry struct {
	Role      string     `json:"role" validate:"required"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

type submitRequest struct {
	SessionID     string             `json:"sessionId" validate:"required"`
	Code          string             `json:"code"`
	Transcript    *[]transcriptEntry `json:"transcript"`
	QuestionIndex *int               `json:"questionIndex" validate:"omitempty,min=0"`
}

func (r submitRequest) toSubmit() (interview.Submit, error) {
	in := interview.Submit{Code: r.Code, QuestionIndex: r.QuestionIndex}
	if r.Transcript != nil {
		t, err := toTranscript(*r.Transcript)
		if err != nil {
			return interview.Submit{}, err
		}
		in.Transcript = &t
	}
	return in, nil
}

type updateSessionRequest struct {
	Code       *string            `json:"code"`
	Transcript *[]transcriptEntry `json:"transcript"`
}

type appendTranscriptRequest struct {
	Entries []transcriptEntry `json:"entries" validate:"required,min=1,dive"`
}

// saveReportRequest keeps the report raw so it is checked against the same
// schema as provider output.
type saveReportRequest struct {
	SessionID string          `json:"sessionId" validate:"required"`
	Report    json.RawMessage `json:"report" validate:"required"`
}

func toTranscript(in []transcriptEntry) ([]model.TranscriptEntry, error) {
	out := make([]model.TranscriptEntry, 0, len(in))
	for _, e := range in {
		role, err := model.ParseRole(e.Role)
		if err != nil {
			return nil, validationError{detail: err.Error()}
		}
		out = append(out, newEntry(role, e.Content, e.Timestamp))
	}
	return out, nil
}

func newEntry(role model.Role, content string, ts *time.Time) model.TranscriptEntry {
	e := model.TranscriptEntry{Role: role, Content: content}
	if ts != nil {
		e.Timestamp = ts.UTC()
	}
	return e
}
