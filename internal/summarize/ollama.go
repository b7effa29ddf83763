package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxTextLen = 8000

const summaryPrompt = `Summarize the following email content:

%s

Summary:`

const draftPrompt = `%s

####
Draft a response email based on the contents of the thread.`

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Ollama generates text with a local Ollama instance.
type Ollama struct {
	Host  string
	Model string
	HTTP  *http.Client
}

// Summary asks the model to summarize an email thread.
func (o Ollama) Summary(ctx context.Context, content string) (string, error) {
	if len(content) > maxTextLen {
		content = content[:maxTextLen]
	}
	out, err := o.generate(ctx, fmt.Sprintf(summaryPrompt, content))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Draft asks the model for a reply based on a thread summary.
func (o Ollama) Draft(ctx context.Context, summary string) (string, error) {
	return o.generate(ctx, fmt.Sprintf(draftPrompt, summary))
}

// generate runs one non-streaming completion. Ollama reports failures such
// as an unknown model in an "error" field, sometimes with HTTP 200, so the
// body is decoded before the status decides the outcome.
func (o Ollama) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaRequest{Model: o.Model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	endpoint := strings.TrimRight(o.Host, "/") + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := o.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama %s: %w", o.Model, err)
	}
	defer resp.Body.Close()

	var out ollamaResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)
	switch {
	case out.Error != "":
		return "", fmt.Errorf("ollama %s: %s", o.Model, out.Error)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("ollama %s: HTTP %d", o.Model, resp.StatusCode)
	case decodeErr != nil:
		return "", fmt.Errorf("decode ollama response: %w", decodeErr)
	case strings.TrimSpace(out.Response) == "":
		return "", fmt.Errorf("ollama %s: empty response", o.Model)
	}
	return out.Response, nil
}
