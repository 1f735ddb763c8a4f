package ai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/huntrelay/huntrelay/internal/domain"
)

// ollamaDriver implements Driver against a local Ollama server. Unlike
// Anthropic and OpenAI-compatible endpoints, Ollama's /api/chat
// streams newline-delimited JSON objects rather than Server-Sent
// Events, so this driver scans lines directly instead of reusing
// SSEScanner.
type ollamaDriver struct {
	endpoint string
	model    string
}

func newOllamaDriver(endpoint, model string) *ollamaDriver {
	if endpoint == "" {
		endpoint = "http://localhost:11434/api/chat"
	}
	return &ollamaDriver{endpoint: endpoint, model: model}
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (d *ollamaDriver) buildMessages(req ReportRequest) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: req.SystemPrompt},
		{Role: "user", Content: renderObservations(req, nil)},
	}
}

func (d *ollamaDriver) StreamReport(ctx context.Context, req ReportRequest) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errc := make(chan error, 1)

	wire := ollamaRequest{Model: d.model, Stream: true, Messages: d.buildMessages(req)}

	go func() {
		defer close(chunks)
		defer close(errc)

		chunks <- Chunk{State: StateAnalyzing}

		resp, err := doStreamRequest(ctx, d.endpoint, nil, wire)
		if err != nil {
			errc <- err
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		sawText := false
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var c ollamaChunk
			if err := json.Unmarshal(line, &c); err != nil {
				continue
			}
			if c.Message.Content != "" {
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
				case chunks <- Chunk{Text: c.Message.Content}:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
			if c.Done {
				select {
				case chunks <- Chunk{State: StateConcluding}:
				case <-ctx.Done():
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errc <- fmt.Errorf("ai/ollama: reading stream: %w", err)
		}
	}()

	return chunks, errc
}

func (d *ollamaDriver) complete(ctx context.Context, prompt string) (string, error) {
	wire := ollamaRequest{Model: d.model, Messages: []chatMessage{{Role: "user", Content: prompt}}}
	body, err := doJSONRequest(ctx, d.endpoint, nil, wire)
	if err != nil {
		return "", err
	}
	var c ollamaChunk
	if err := json.Unmarshal(body, &c); err != nil {
		return "", fmt.Errorf("ai/ollama: decoding response: %w", err)
	}
	return c.Message.Content, nil
}

func (d *ollamaDriver) ExtractFindings(ctx context.Context, reportText string, obs []domain.Observation) ([]domain.Finding, error) {
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

func (d *ollamaDriver) SummarizeReport(ctx context.Context, reportText string) (string, error) {
	return d.complete(ctx, SummaryPrompt(reportText))
}
