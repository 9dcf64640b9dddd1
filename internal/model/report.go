package model

// Severity grades a code issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// IssueCategory classifies a transcript issue.
type IssueCategory string

const (
	CategoryConcept       IssueCategory = "concept"
	CategoryComplexity    IssueCategory = "complexity"
	CategoryApproach      IssueCategory = "approach"
	CategoryCommunication IssueCategory = "communication"
)

// DimensionScores holds the six fixed scoring dimensions, each in [0, 10].
type DimensionScores struct {
	ProblemSolving      float64 `json:"problem_solving" validate:"min=0,max=10"`
	AlgorithmicThinking float64 `json:"algorithmic_thinking" validate:"min=0,max=10"`
	CodeImplementation  float64 `json:"code_implementation" validate:"min=0,max=10"`
	Testing             float64 `json:"testing" validate:"min=0,max=10"`
	TimeManagement      float64 `json:"time_management" validate:"min=0,max=10"`
	Communication       float64 `json:"communication" validate:"min=0,max=10"`
}

// UniformScores returns dimension scores all set to v.
func UniformScores(v float64) DimensionScores {
	return DimensionScores{v, v, v, v, v, v}
}

// CodeIssue points at one line of the submitted code.
type CodeIssue struct {
	LineNumber  int      `json:"line_number" validate:"min=1"`
	CodeSnippet string   `json:"code_snippet"`
	Issue       string   `json:"issue"`
	Suggestion  string   `json:"suggestion"`
	Severity    Severity `json:"severity" validate:"oneof=error warning info"`
}

// TranscriptIssue quotes the candidate and proposes a better answer.
type TranscriptIssue struct {
	Quote                  string        `json:"quote"`
	Issue                  string        `json:"issue"`
	WhatShouldHaveBeenSaid string        `json:"what_should_have_been_said"`
	Category               IssueCategory `json:"category" validate:"oneof=concept complexity approach communication"`
}

// Report is the structured evaluation of a session.
type Report struct {
	OverallScore     float64           `json:"overall_score" validate:"min=0,max=10"`
	Correctness      bool              `json:"correctness"`
	DimensionScores  DimensionScores   `json:"dimension_scores"`
	CodeIssues       []CodeIssue       `json:"code_issues" validate:"dive"`
	TranscriptIssues []TranscriptIssue `json:"transcript_issues" validate:"dive"`
	FeedbackMarkdown string            `json:"feedback_markdown"`
}

// Normalize replaces nil issue lists with empty ones.
func (r *Report) Normalize() {
	if r.CodeIssues == nil {
		r.CodeIssues = []CodeIssue{}
	}
	if r.TranscriptIssues == nil {
		r.TranscriptIssues = []TranscriptIssue{}
	}
}

// Clone returns a deep copy.
func (r Report) Clone() Report {
	r.CodeIssues = append([]CodeIssue(nil), r.CodeIssues...)
	r.TranscriptIssues = append([]TranscriptIssue(nil), r.TranscriptIssues...)
	r.Normalize()
	return r
}

// ReportView is the Report Access API projection.
type ReportView struct {
	SessionID string        `json:"sessionId"`
	Status    SessionStatus `json:"status"`
	Ready     bool          `json:"ready"`
	Report    *Report       `json:"report,omitempty"`
}
