package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vasu-devs/Socratis/internal/llm/prompts"
	"github.com/vasu-devs/Socratis/internal/metrics"
	"github.com/vasu-devs/Socratis/internal/model"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 60 * time.Second

// Outcome labels used in logs and metrics.
const (
	OutcomeOK            = "ok"
	OutcomeNotConfigured = "not_configured"
	OutcomeFailed        = "failed"
)

// Evaluator produces a Report for a question, code and transcript. It is
// either configured with a provider or explicitly unconfigured; in both
// cases Evaluate always returns a Report. It holds no per-call state and is
// safe for concurrent use.
type Evaluator struct {
	provider Provider
	timeout  time.Duration
}

// NewEvaluator returns a configured evaluator. timeout <= 0 uses DefaultTimeout.
func NewEvaluator(p Provider, timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Evaluator{provider: p, timeout: timeout}
}

// Unconfigured returns an evaluator that always yields the not-configured report.
func Unconfigured() *Evaluator {
	return &Evaluator{}
}

// Configured reports whether a provider is attached.
func (e *Evaluator) Configured() bool { return e.provider != nil }

// Evaluate never returns an error: capability failures become stub reports.
func (e *Evaluator) Evaluate(ctx context.Context, q model.Question, code string, transcript []model.TranscriptEntry) model.Report {
	log := slog.With("question", q.Title, "code_len", len(code), "transcript_entries", len(transcript))

	if e.provider == nil {
		log.Warn("evaluation provider not configured, returning stub report")
		metrics.Evaluations.WithLabelValues(OutcomeNotConfigured).Inc()
		return NotConfiguredReport()
	}

	start := time.Now()
	report, err := e.run(ctx, q, code, transcript)
	metrics.EvaluationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error("evaluation failed", "provider", e.provider.Name(), "error", err)
		metrics.Evaluations.WithLabelValues(OutcomeFailed).Inc()
		return FailureReport(failureReason(err))
	}

	log.Info("evaluation complete",
		"provider", e.provider.Name(),
		"overall_score", report.OverallScore,
		"correctness", report.Correctness,
		"code_issues", len(report.CodeIssues),
		"transcript_issues", len(report.TranscriptIssues),
	)
	metrics.Evaluations.WithLabelValues(OutcomeOK).Inc()
	return *report
}

func (e *Evaluator) run(ctx context.Context, q model.Question, code string, transcript []model.TranscriptEntry) (*model.Report, error) {
	system, err := prompts.BuildSystem(q)
	if err != nil {
		return nil, err
	}
	user, err := prompts.BuildUser(code, transcript)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.provider.Complete(ctx, system, user)
	if err != nil {
		return nil, err
	}
	slog.Debug("LLM response", "raw", raw)

	report, err := ParseReport(raw)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// failureReason classifies err into a short, non-sensitive description.
func failureReason(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case ErrCodeTimeout:
			return fmt.Sprintf("The %s provider did not respond in time.", pe.Provider)
		case ErrCodeAPIKey:
			return fmt.Sprintf("The %s provider rejected the configured credentials.", pe.Provider)
		case ErrCodeRateLimit:
			return fmt.Sprintf("The %s provider is rate limiting requests.", pe.Provider)
		case ErrCodeEmpty:
			return fmt.Sprintf("The %s provider returned an empty response.", pe.Provider)
		default:
			return fmt.Sprintf("The %s provider request failed.", pe.Provider)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The evaluation timed out."
	}
	return "The evaluation response was not a valid report."
}
