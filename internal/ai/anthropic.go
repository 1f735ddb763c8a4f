package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/huntrelay/huntrelay/internal/domain"
)

// anthropicDriver implements Driver against the Anthropic Messages
// API. Adapted from lib/llm/anthropic.go's wire types and SSE event
// handling, but the teacher's version talks to a local proxy's HTTP
// passthrough (dialing a Unix socket that injects credentials); this
// driver has no such proxy mesh in scope, so it dials the real
// Anthropic endpoint directly and carries its own API key.
type anthropicDriver struct {
	endpoint string
	model    string
	apiKey   string
}

func newAnthropicDriver(endpoint, model, apiKey string) *anthropicDriver {
	if endpoint == "" {
		endpoint = "https://api.anthropic.com/v1/messages"
	}
	return &anthropicDriver{endpoint: endpoint, model: model, apiKey: apiKey}
}

func (d *anthropicDriver) headers() map[string]string {
	return map[string]string{
		"x-api-key":         d.apiKey,
		"anthropic-version": "2023-06-01",
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Stream    bool               `json:"stream"`
	Messages  []anthropicMessage `json:"messages"`
}

func (d *anthropicDriver) StreamReport(ctx context.Context, req ReportRequest) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errc := make(chan error, 1)

	wire := anthropicRequest{
		Model:     d.model,
		MaxTokens: 4096,
		System:    req.SystemPrompt,
		Stream:    true,
		Messages:  []anthropicMessage{{Role: "user", Content: renderObservations(req, nil)}},
	}

	go func() {
		defer close(chunks)
		defer close(errc)

		chunks <- Chunk{State: StateAnalyzing}

		resp, err := doStreamRequest(ctx, d.endpoint, d.headers(), wire)
		if err != nil {
			errc <- err
			return
		}
		defer resp.Body.Close()

		scanner := NewSSEScanner(resp.Body)
		sawText := false
		for scanner.Next() {
			event := scanner.Event()
			switch event.Type {
			case "content_block_delta":
				var envelope struct {
					Delta struct {
						Text string `json:"text"`
					} `json:"delta"`
				}
				if err := json.Unmarshal([]byte(event.Data), &envelope); err != nil {
					continue
				}
				if envelope.Delta.Text == "" {
					continue
				}
				if !sawText {
					sawText = true
					select {
					case chunks <- Chunk{State: StateGenerating}:
					case <-ctx.Done():
						errc <- ctx.Err()
						return
					}
				}
				select {
				case chunks <- Chunk{Text: envelope.Delta.Text}:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			case "message_stop":
				select {
				case chunks <- Chunk{State: StateConcluding}:
				case <-ctx.Done():
				}
			}
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			errc <- fmt.Errorf("ai/anthropic: reading stream: %w", err)
		}
	}()

	return chunks, errc
}

func (d *anthropicDriver) complete(ctx context.Context, prompt string) (string, error) {
	wire := anthropicRequest{
		Model:     d.model,
		MaxTokens: 2048,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	body, err := doJSONRequest(ctx, d.endpoint, d.headers(), wire)
	if err != nil {
		return "", err
	}

	var wireResp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &wireResp); err != nil {
		return "", fmt.Errorf("ai/anthropic: decoding response: %w", err)
	}
	var out string
	for _, c := range wireResp.Content {
		out += c.Text
	}
	return out, nil
}

func (d *anthropicDriver) ExtractFindings(ctx context.Context, reportText string, obs []domain.Observation) ([]domain.Finding, error) {
	text, err := d.complete(ctx, FindingsPrompt(reportText))
	if err != nil {
		return nil, err
	}
	extracted, err := parseFindingsJSON(text)
	if err != nil {
		return nil, err
	}
	return toDomainFindings(extracted, time.Now()), nil
}

func (d *anthropicDriver) SummarizeReport(ctx context.Context, reportText string) (string, error) {
	return d.complete(ctx, SummaryPrompt(reportText))
}
