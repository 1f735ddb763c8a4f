// Package ai implements the AI Pipeline (spec.md §4.5): streaming a
// hunt's captured Observations through a language model to produce a
// narrative report, then extracting structured Findings and a short
// summary from that report. Adapted from the teacher's lib/llm
// Provider contract (Complete/Stream, ProviderError, generic decode
// helpers) but narrowed to the three operations the hunt scheduler
// actually needs, and built around the domain's Observation/Finding
// types instead of a general chat-completion API.
package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/huntrelay/huntrelay/internal/domain"
)

// ReasoningState is the coarse phase a Driver reports while streaming,
// surfaced to the Gateway as ai_reasoning_state events (spec.md §4.5).
type ReasoningState string

const (
	StateAnalyzing  ReasoningState = "analyzing"
	StateConcluding ReasoningState = "concluding"
	StateGenerating ReasoningState = "generating"
)

// Chunk is one piece of a streaming report. Exactly one of Text or
// State is meaningful per chunk: text chunks carry report prose,
// state chunks signal a ReasoningState transition.
type Chunk struct {
	Text  string
	State ReasoningState
}

// Driver is the contract every AI backend (Anthropic, an
// OpenAI-compatible endpoint, Ollama) must satisfy. Implementations
// live in anthropic.go, openai.go, and ollama.go.
type Driver interface {
	// StreamReport sends the hunt's observations to the model and
	// streams back the narrative report. The channel is closed when
	// the stream ends (successfully or via ctx cancellation); callers
	// must drain it to avoid leaking the underlying goroutine.
	StreamReport(ctx context.Context, req ReportRequest) (<-chan Chunk, <-chan error)

	// ExtractFindings asks the model to turn a completed report (plus
	// the same observations used to produce it) into structured
	// Findings. Called once StreamReport's channel closes cleanly.
	ExtractFindings(ctx context.Context, reportText string, obs []domain.Observation) ([]domain.Finding, error)

	// SummarizeReport produces the short one-paragraph summary stored
	// alongside the full report (spec.md §3, Hunt.AIReportText is the
	// full text; the summary is surfaced separately in REST responses).
	SummarizeReport(ctx context.Context, reportText string) (string, error)
}

// ReportRequest is the input to StreamReport: everything the model
// needs to narrate what a hunt observed, already budget-trimmed by
// BuildContext.
type ReportRequest struct {
	ModuleName  string
	AssetOS     domain.OSTag
	Observations []domain.Observation
	SystemPrompt string
}

// ProviderError wraps a transport or API-level failure, distinguishing
// the two retry-worthy conditions the hunt scheduler checks for.
// Grounded on lib/llm/provider.go's ProviderError/IsRateLimited/
// IsOverloaded shape.
type ProviderError struct {
	StatusCode int
	Message    string
	RateLimited bool
	Overloaded  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ai driver: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("ai driver: %s (status %d)", e.Message, e.StatusCode)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err (or a wrapped ProviderError within
// it) indicates the caller should back off and retry with streamed
// chunks discarded, per spec.md §4.5's retry semantics.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RateLimited
	}
	return false
}

// IsOverloaded reports whether err indicates transient upstream
// overload (retryable identically to rate limiting).
func IsOverloaded(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Overloaded
	}
	return false
}

// NewDriver constructs the Driver named by driverName ("anthropic",
// "openai", "ollama"), wiring endpoint/model/apiKey as that driver
// requires. Mirrors the teacher's pattern of a small constructor
// switch rather than a registry, since the set of drivers is closed
// and spec-defined (spec.md §4.5).
func NewDriver(driverName, endpoint, model, apiKey string) (Driver, error) {
	switch driverName {
	case "anthropic":
		return newAnthropicDriver(endpoint, model, apiKey), nil
	case "openai":
		return newOpenAIDriver(endpoint, model, apiKey), nil
	case "ollama":
		return newOllamaDriver(endpoint, model), nil
	default:
		return nil, fmt.Errorf("ai: unknown driver %q", driverName)
	}
}
