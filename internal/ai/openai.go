package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/huntrelay/huntrelay/internal/domain"
)

// openAIDriver implements Driver against any OpenAI Chat Completions
// compatible endpoint (OpenAI itself, or a self-hosted gateway that
// speaks the same wire format). Adapted from lib/llm/openai.go's
// wire shape, narrowed to the single chat-completions path this
// package needs.
type openAIDriver struct {
	endpoint string
	model    string
	apiKey   string
}

func newOpenAIDriver(endpoint, model, apiKey string) *openAIDriver {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}
	return &openAIDriver{endpoint: endpoint, model: model, apiKey: apiKey}
}

func (d *openAIDriver) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + d.apiKey}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

func (d *openAIDriver) buildMessages(req ReportRequest) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: req.SystemPrompt},
		{Role: "user", Content: renderObservations(req, nil)},
	}
}

func (d *openAIDriver) StreamReport(ctx context.Context, req ReportRequest) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errc := make(chan error, 1)

	wire := chatRequest{Model: d.model, Stream: true, Messages: d.buildMessages(req)}

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
			if event.Data == "[DONE]" {
				select {
				case chunks <- Chunk{State: StateConcluding}:
				case <-ctx.Done():
				}
				break
			}

			var envelope struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(event.Data), &envelope); err != nil {
				continue
			}
			for _, choice := range envelope.Choices {
				if choice.Delta.Content == "" {
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
				case chunks <- Chunk{Text: choice.Delta.Content}:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			errc <- fmt.Errorf("ai/openai: reading stream: %w", err)
		}
	}()

	return chunks, errc
}

func (d *openAIDriver) complete(ctx context.Context, prompt string) (string, error) {
	wire := chatRequest{Model: d.model, Messages: []chatMessage{{Role: "user", Content: prompt}}}
	body, err := doJSONRequest(ctx, d.endpoint, d.headers(), wire)
	if err != nil {
		return "", err
	}

	var wireResp struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &wireResp); err != nil {
		return "", fmt.Errorf("ai/openai: decoding response: %w", err)
	}
	if len(wireResp.Choices) == 0 {
		return "", fmt.Errorf("ai/openai: empty choices in response")
	}
	return wireResp.Choices[0].Message.Content, nil
}

func (d *openAIDriver) ExtractFindings(ctx context.Context, reportText string, obs []domain.Observation) ([]domain.Finding, error) {
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

func (d *openAIDriver) SummarizeReport(ctx context.Context, reportText string) (string, error) {
	return d.complete(ctx, SummaryPrompt(reportText))
}
