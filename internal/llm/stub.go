package llm

import (
	"fmt"

	"github.com/vasu-devs/Socratis/internal/model"
)

// Sentinel scores that let a reader tell a stub from a real evaluation.
const (
	NotConfiguredScore = 1
	FailureScore       = 0
)

// NotConfiguredReport is returned when no reasoning provider is available.
func NotConfiguredReport() model.Report {
	return model.Report{
		OverallScore:    NotConfiguredScore,
		Correctness:     false,
		DimensionScores: model.UniformScores(NotConfiguredScore),
		CodeIssues: []model.CodeIssue{{
			LineNumber:  1,
			CodeSnippet: "// No code",
			Issue:       "Evaluation service is not configured",
			Suggestion:  "Configure an API key for the evaluation provider",
			Severity:    model.SeverityError,
		}},
		TranscriptIssues: []model.TranscriptIssue{{
			Quote:                  "N/A",
			Issue:                  "Evaluation service is not configured (missing API key)",
			WhatShouldHaveBeenSaid: "N/A",
			Category:               model.CategoryCommunication,
		}},
		FeedbackMarkdown: "## ⚠️ Evaluation Error\n\n" +
			"The report agent could not be initialized.\n\n" +
			"**Reason:** Missing API key for the evaluation provider.",
	}
}

// FailureReport is returned when the provider call or its output failed.
// reason is a short classification, never raw provider output.
func FailureReport(reason string) model.Report {
	return model.Report{
		OverallScore:    FailureScore,
		Correctness:     false,
		DimensionScores: model.UniformScores(FailureScore),
		CodeIssues: []model.CodeIssue{{
			LineNumber:  1,
			CodeSnippet: "// Error during evaluation",
			Issue:       "Report agent encountered an error",
			Suggestion:  "Please try submitting again",
			Severity:    model.SeverityError,
		}},
		TranscriptIssues: []model.TranscriptIssue{{
			Quote:                  "N/A",
			Issue:                  "Report agent could not complete analysis",
			WhatShouldHaveBeenSaid: "N/A",
			Category:               model.CategoryCommunication,
		}},
		FeedbackMarkdown: fmt.Sprintf("## ⚠️ Evaluation Error\n\n"+
			"The report agent encountered an error while analyzing your interview.\n\n"+
			"**Error Details:**\n%s\n\n"+
			"Please try submitting your interview again. If the problem persists, contact support.", reason),
	}
}
