package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/huntrelay/huntrelay/internal/domain"
)

// httpClient is shared by every Driver implementation; it has no
// timeout, so a request ends only when its context is cancelled. No
// idle timeout is applied to a stream: nothing reads
// internal/config.AIConfig.IdleTimeout.
var httpClient = &http.Client{}

// doJSONRequest POSTs body as JSON to endpoint with the given headers
// and returns the parsed response body. Used for the non-streaming
// ExtractFindings/SummarizeReport calls. Adapted from
// lib/llm/provider.go's doProviderRequest/readProviderError, trimmed
// to a single non-generic call site since this package only ever
// decodes into its own wire-response structs.
func doJSONRequest(ctx context.Context, endpoint string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ai: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ai: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readProviderError(resp)
	}
	return io.ReadAll(resp.Body)
}

// doStreamRequest POSTs body as JSON and returns the open response for
// SSE consumption. Caller owns closing resp.Body.
func doStreamRequest(ctx context.Context, endpoint string, headers map[string]string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ai: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ai: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai: sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readProviderError(resp)
	}
	return resp, nil
}

// readProviderError parses the common {"error":{"type","message"}}
// shape shared by Anthropic and OpenAI-compatible APIs.
func readProviderError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	message := string(body)
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		message = wire.Error.Message
	}

	return &ProviderError{
		StatusCode:  resp.StatusCode,
		Message:     message,
		RateLimited: resp.StatusCode == http.StatusTooManyRequests,
		Overloaded:  resp.StatusCode == 529 || resp.StatusCode == http.StatusServiceUnavailable,
	}
}

// renderObservations writes the budget-trimmed observation list as
// plain text turns, one per step, the common wire body every driver
// sends as the user-facing transcript.
func renderObservations(req ReportRequest, evicted []int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Module: %s\nTarget OS: %s\n\n", req.ModuleName, req.AssetOS)
	for i, o := range req.Observations {
		fmt.Fprintf(&b, "--- step %s ---\n$ %s\n", o.StepID, o.CommandAsSent)
		if o.Exit == domain.ExitSkipped {
			b.WriteString("(skipped: sudo required, no sudo policy configured)\n\n")
			continue
		}
		if o.Stdout != "" {
			fmt.Fprintf(&b, "stdout:\n%s\n", o.Stdout)
			if o.StdoutTrunc {
				b.WriteString("[stdout truncated]\n")
			}
		}
		if o.Stderr != "" {
			fmt.Fprintf(&b, "stderr:\n%s\n", o.Stderr)
			if o.StderrTrunc {
				b.WriteString("[stderr truncated]\n")
			}
		}
		fmt.Fprintf(&b, "exit: %s (code %d, %dms)\n\n", o.Exit, o.Code, o.WallMS)
		_ = i
	}
	return b.String()
}

// extractedFinding mirrors the JSON object the model is asked to
// return for each finding; decoded then converted to domain.Finding.
type extractedFinding struct {
	Title        string   `json:"title"`
	Severity     string   `json:"severity"`
	Confidence   float64  `json:"confidence"`
	TechniqueIDs []string `json:"technique_ids"`
	Remediation  struct {
		Immediate []string `json:"immediate"`
		ShortTerm []string `json:"short_term"`
		LongTerm  []string `json:"long_term"`
	} `json:"remediation"`
}

// parseFindingsJSON decodes the model's JSON array response, tolerant
// of a markdown code fence wrapping it (models frequently add one
// despite being asked not to).
func parseFindingsJSON(text string) ([]extractedFinding, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var out []extractedFinding
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("ai: parsing findings JSON: %w", err)
	}
	return out, nil
}

func toDomainFindings(extracted []extractedFinding, now time.Time) []domain.Finding {
	findings := make([]domain.Finding, 0, len(extracted))
	for _, e := range extracted {
		findings = append(findings, domain.Finding{
			Kind:         domain.FindingAIReport,
			Title:        e.Title,
			Severity:     domain.Severity(strings.ToLower(e.Severity)),
			Confidence:   e.Confidence,
			TechniqueIDs: e.TechniqueIDs,
			Status:       domain.FindingOpen,
			FirstSeen:    now,
			LastSeen:     now,
			Remediation: &domain.RemediationPlan{
				Immediate: e.Remediation.Immediate,
				ShortTerm: e.Remediation.ShortTerm,
				LongTerm:  e.Remediation.LongTerm,
			},
		})
	}
	return findings
}
