package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Gemini generates tests through the Generative Language API.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGemini creates the provider. An empty model selects a default.
func NewGemini(apiKey, model string) *Gemini {
	if model == "" {
		model = "gemini-pro"
	}
	return &Gemini{apiKey: apiKey, model: model, baseURL: geminiBaseURL, client: newHTTPClient()}
}

// Name implements Provider.
func (g *Gemini) Name() string { return "gemini" }

// GenerateTest implements Provider.
func (g *Gemini) GenerateTest(ctx context.Context, tc Context) (string, error) {
	prompt := BuildPrompt(tc)
	if g.apiKey == "" {
		return missingKeyMessage("Gemini", "GEMINI_API_KEY", prompt), nil
	}

	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("generate: marshal gemini payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", g.baseURL, g.model, url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("generate: build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate: gemini network error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("generate: read gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate: gemini api error: %s: %s", resp.Status, data)
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("generate: decode gemini response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("generate: gemini returned empty candidates")
	}

	var texts []string
	for _, part := range parsed.Candidates[0].Content.Parts {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	if len(texts) == 0 {
		return "", fmt.Errorf("generate: gemini returned no text parts")
	}
	return strings.Join(texts, "\n"), nil
}
