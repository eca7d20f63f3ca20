// Package genai is the client for the generative grading backend, speaking
// the OpenAI chat-completions protocol with JSON-object responses forced.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client issues low-temperature, JSON-only chat completions.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: 0.2,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// CompleteJSON sends one system+user exchange and returns the raw payload
// text with any surrounding code fences stripped.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	messages := []any{
		map[string]any{"role": "system", "content": system},
		map[string]any{"role": "user", "content": user},
	}
	return c.complete(ctx, messages)
}

// CompleteVisionJSON sends a grading instruction plus solution and student
// page images, labeled so the model can tell the two sets apart.
func (c *Client) CompleteVisionJSON(ctx context.Context, system, user string, solutionImgs, studentImgs [][]byte) (string, error) {
	parts := []any{
		map[string]any{"type": "text", "text": user},
		map[string]any{"type": "text", "text": "Official solution images:"},
	}
	for _, img := range solutionImgs {
		parts = append(parts, imagePart(img))
	}
	parts = append(parts, map[string]any{"type": "text", "text": "Student images for this question:"})
	for _, img := range studentImgs {
		parts = append(parts, imagePart(img))
	}

	messages := []any{
		map[string]any{"role": "system", "content": system},
		map[string]any{"role": "user", "content": parts},
	}
	return c.complete(ctx, messages)
}

func imagePart(img []byte) map[string]any {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)
	return map[string]any{
		"type":      "image_url",
		"image_url": map[string]any{"url": dataURL},
	}
}

func (c *Client) complete(ctx context.Context, messages []any) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("generative API key not set")
	}

	body := map[string]any{
		"model":           c.model,
		"messages":        messages,
		"temperature":     c.temperature,
		"response_format": map[string]any{"type": "json_object"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat completion %d: %s", resp.StatusCode, strings.TrimSpace(string(x)))
	}

	var raw chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(raw.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}

	return StripCodeFences(strings.TrimSpace(raw.Choices[0].Message.Content)), nil
}

// StripCodeFences removes a surrounding markdown code fence, which some
// models emit even in JSON mode.
func StripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 && !strings.HasPrefix(s, "{") {
		// drop a language tag like ```json
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
