package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

// Claude generates tests through the Anthropic Messages API.
type Claude struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewClaude creates the provider. An empty model selects a default.
func NewClaude(apiKey, model string) *Claude {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &Claude{apiKey: apiKey, model: model, baseURL: anthropicURL, client: newHTTPClient()}
}

// Name implements Provider.
func (c *Claude) Name() string { return "claude" }

// GenerateTest implements Provider.
func (c *Claude) GenerateTest(ctx context.Context, tc Context) (string, error) {
	prompt := BuildPrompt(tc)
	if c.apiKey == "" {
		return missingKeyMessage("Claude", "ANTHROPIC_API_KEY", prompt), nil
	}

	payload := map[string]any{
		"model":      c.model,
		"max_tokens": 1200,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("generate: marshal claude payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("generate: build claude request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Anthropic-Version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate: claude network error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("generate: read claude response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate: claude api error: %s: %s", resp.Status, data)
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("generate: decode claude response: %w", err)
	}
	if len(parsed.Content) == 0 || parsed.Content[0].Text == "" {
		return "", fmt.Errorf("generate: claude returned empty response")
	}
	return parsed.Content[0].Text, nil
}
