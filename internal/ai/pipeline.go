package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/huntrelay/huntrelay/internal/clock"
	"github.com/huntrelay/huntrelay/internal/domain"
)

// maxAttempts bounds StreamReport attempts on rate-limit/overload
// responses to 2 total (spec.md §4.5: "up to 2 attempts with
// 500ms/2s backoff"), retried only while no chunk has been emitted to
// the analyst yet — once prose has started streaming, a mid-stream
// failure is terminal, not retried, since there is no way to tell the
// analyst "discard what you just read."
const maxAttempts = 2

// Emitter is called with Gateway-facing events as a hunt's AI report
// streams. Kept as a narrow function type rather than importing
// internal/eventbus directly, so this package has no dependency on
// the transport layer.
type Emitter func(eventType string, payload any)

// Run drives a single hunt's AI Pipeline end to end: stream the
// report, then (on a clean finish) extract findings and a summary.
// evictedCount is surfaced to the system prompt so the model knows
// not to assume omitted steps succeeded.
func Run(ctx context.Context, driver Driver, c clock.Clock, budget ContextBudget, req ReportRequest, emit Emitter) (reportText string, findings []domain.Finding, summary string, err error) {
	trimmed, evicted := BuildContext(budget, req.Observations)
	req.Observations = trimmed
	if req.SystemPrompt == "" {
		req.SystemPrompt = SystemPrompt(req.ModuleName, req.AssetOS, len(evicted))
	}

	var report strings.Builder
	for attempt := 0; attempt < maxAttempts; attempt++ {
		report.Reset()
		streamedAny := false

		chunks, errc := driver.StreamReport(ctx, req)
		for chunk := range chunks {
			if chunk.Text != "" {
				streamedAny = true
				report.WriteString(chunk.Text)
				emit("ai_report_chunk", chunk.Text)
			}
			if chunk.State != "" {
				emit("ai_reasoning_state", chunk.State)
			}
		}

		streamErr := <-errc
		if streamErr == nil {
			reportText = report.String()
			break
		}
		if streamedAny || (!IsRateLimited(streamErr) && !IsOverloaded(streamErr)) {
			return "", nil, "", fmt.Errorf("ai: streaming report: %w", streamErr)
		}
		// Back off before retrying a clean (no prose yet) failure.
		select {
		case <-c.After(backoffFor(attempt)):
		case <-ctx.Done():
			return "", nil, "", ctx.Err()
		}
	}
	if reportText == "" {
		return "", nil, "", fmt.Errorf("ai: exhausted %d attempts without a usable report", maxAttempts)
	}

	findings, err = driver.ExtractFindings(ctx, reportText, req.Observations)
	if err != nil {
		return reportText, nil, "", fmt.Errorf("ai: extracting findings: %w", err)
	}

	summary, err = driver.SummarizeReport(ctx, reportText)
	if err != nil {
		return reportText, findings, "", fmt.Errorf("ai: summarizing report: %w", err)
	}

	return reportText, findings, summary, nil
}

func backoffFor(attempt int) time.Duration {
	base := []int{500, 2000} // ms: spec.md §4.5's AI retry ladder
	idx := attempt
	if idx >= len(base) {
		idx = len(base) - 1
	}
	return time.Duration(base[idx]) * time.Millisecond
}
