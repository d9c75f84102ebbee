// Package assistant answers questions about a comparison report through an
// OpenAI-compatible chat completions endpoint.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = "You are an analyst for a sales ledger dashboard. " +
	"Answer questions using only the report data provided. " +
	"Amounts are signed movements between two snapshot dates. " +
	"If the data does not contain the answer, say so."

// ErrNotConfigured is returned when no endpoint is configured.
var ErrNotConfigured = errors.New("assistant not configured")

type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
}

// NewClient creates an assistant client. An empty baseURL yields a client
// whose Ask always returns ErrNotConfigured, so callers need no nil checks.
func NewClient(baseURL, model, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Ask sends a question plus the serialized report context and returns the
// model's answer.
func (c *Client) Ask(ctx context.Context, question, contextData string) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Report data:\n%s\n\nQuestion: %s", contextData, question)},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call assistant: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read assistant response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("assistant returned status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode assistant response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("assistant error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("assistant returned no choices")
	}

	answer := strings.TrimSpace(parsed.Choices[0].Message.Content)
	slog.DebugContext(ctx, "Assistant answered",
		"model", c.model,
		"question_len", len(question),
		"answer_len", len(answer))
	return answer, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
