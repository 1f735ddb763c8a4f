package ai

import (
	"context"
	"testing"
	"time"

	"github.com/huntrelay/huntrelay/internal/clock"
	"github.com/huntrelay/huntrelay/internal/domain"
)

// fakeDriver is a scripted Driver: each call to StreamReport pops the
// next scripted response, so a test can simulate a rate-limited
// attempt followed by a clean one.
type fakeDriver struct {
	responses []streamResponse
	calls     int

	findings []domain.Finding
	summary  string
	extractErr error
	summarizeErr error
}

type streamResponse struct {
	chunks []Chunk
	err    error
}

func (d *fakeDriver) StreamReport(ctx context.Context, req ReportRequest) (<-chan Chunk, <-chan error) {
	resp := d.responses[d.calls]
	d.calls++

	chunks := make(chan Chunk, len(resp.chunks))
	errc := make(chan error, 1)
	for _, c := range resp.chunks {
		chunks <- c
	}
	close(chunks)
	errc <- resp.err
	return chunks, errc
}

func (d *fakeDriver) ExtractFindings(ctx context.Context, reportText string, obs []domain.Observation) ([]domain.Finding, error) {
	return d.findings, d.extractErr
}

func (d *fakeDriver) SummarizeReport(ctx context.Context, reportText string) (string, error) {
	return d.summary, d.summarizeErr
}

func TestRunReturnsReportFindingsAndSummaryOnCleanStream(t *testing.T) {
	driver := &fakeDriver{
		responses: []streamResponse{
			{chunks: []Chunk{{Text: "line one "}, {State: StateAnalyzing}, {Text: "line two"}}},
		},
		findings: []domain.Finding{{Title: "suspicious cron entry"}},
		summary:  "found one suspicious cron entry",
	}

	var emitted []string
	emit := func(eventType string, payload any) { emitted = append(emitted, eventType) }

	reportText, findings, summary, err := Run(context.Background(), driver, clock.Real(), ContextBudget{}, ReportRequest{ModuleName: "triage", AssetOS: domain.OSLinux}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reportText != "line one line two" {
		t.Fatalf("unexpected report text: %q", reportText)
	}
	if len(findings) != 1 || findings[0].Title != "suspicious cron entry" {
		t.Fatalf("unexpected findings: %+v", findings)
	}
	if summary != "found one suspicious cron entry" {
		t.Fatalf("unexpected summary: %q", summary)
	}
	if len(emitted) != 3 || emitted[1] != "ai_reasoning_state" {
		t.Fatalf("expected 2 chunk events + 1 state event, got %v", emitted)
	}
}

func TestRunRetriesRateLimitedAttemptBeforeAnyProse(t *testing.T) {
	driver := &fakeDriver{
		responses: []streamResponse{
			{err: &ProviderError{RateLimited: true, Message: "overloaded"}},
			{chunks: []Chunk{{Text: "recovered report"}}},
		},
		summary: "ok",
	}

	fc := clock.Fake(time.Now())
	done := make(chan struct{})
	var reportText string
	var runErr error
	go func() {
		reportText, _, _, runErr = Run(context.Background(), driver, fc, ContextBudget{}, ReportRequest{}, func(string, any) {})
		close(done)
	}()

	// Give Run a moment to register its backoff wait, then advance past it.
	time.Sleep(10 * time.Millisecond)
	fc.Advance(1 * time.Second)
	<-done

	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if reportText != "recovered report" {
		t.Fatalf("unexpected report text after retry: %q", reportText)
	}
	if driver.calls != 2 {
		t.Fatalf("expected exactly 2 StreamReport attempts, got %d", driver.calls)
	}
}

func TestRunDoesNotRetryAfterProseHasStreamed(t *testing.T) {
	driver := &fakeDriver{
		responses: []streamResponse{
			{chunks: []Chunk{{Text: "partial"}}, err: &ProviderError{RateLimited: true, Message: "dropped mid-stream"}},
		},
	}

	_, _, _, err := Run(context.Background(), driver, clock.Real(), ContextBudget{}, ReportRequest{}, func(string, any) {})
	if err == nil {
		t.Fatalf("expected a terminal error once prose has already streamed")
	}
	if driver.calls != 1 {
		t.Fatalf("expected no retry after partial prose, got %d calls", driver.calls)
	}
}

func TestRunFailsWhenFindingExtractionErrors(t *testing.T) {
	driver := &fakeDriver{
		responses:  []streamResponse{{chunks: []Chunk{{Text: "report"}}}},
		extractErr: errBoom,
	}

	_, _, _, err := Run(context.Background(), driver, clock.Real(), ContextBudget{}, ReportRequest{}, func(string, any) {})
	if err == nil {
		t.Fatalf("expected extraction failure to propagate")
	}
}

var errBoom = &ProviderError{Message: "boom"}
