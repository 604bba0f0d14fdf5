package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CoopDesk/CoopDesk/internal/convo"
	"github.com/CoopDesk/CoopDesk/internal/store"
)

// OpenAIGenerator implements Generator against an OpenAI-compatible chat
// completions API (OpenAI, OpenRouter, or a local proxy in front of the
// cooperative's retrieval service).
type OpenAIGenerator struct {
	apiKey     string
	apiBase    string
	model      string
	httpClient *http.Client
}

// NewOpenAIGenerator creates a generator client. The http.Client timeout
// is a hard upper bound; per-call deadlines still come from ctx.
func NewOpenAIGenerator(apiKey, apiBase, model string) *OpenAIGenerator {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIGenerator{
		apiKey:  apiKey,
		apiBase: strings.TrimSuffix(apiBase, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Answer sends the query plus history window and returns the completion
// text.
func (g *OpenAIGenerator) Answer(ctx context.Context, query string, history []store.HistoryTurn, instructions string) (string, error) {
	messages := make([]map[string]string, 0, len(history)+2)
	if instructions != "" {
		messages = append(messages, map[string]string{"role": "system", "content": instructions})
	}
	for _, turn := range history {
		messages = append(messages, map[string]string{"role": apiRole(turn.Role), "content": turn.Content})
	}
	messages = append(messages, map[string]string{"role": "user", "content": query})

	body := map[string]any{
		"model":    g.model,
		"messages": messages,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", g.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	return apiResp.text()
}

// apiRole maps the store's sender labels onto chat API roles. Human-agent
// replies count as assistant turns: from the model's perspective both ai
// and human answers are "our side" of the conversation.
func apiRole(role string) string {
	if role == string(convo.SenderCustomer) {
		return "user"
	}
	return "assistant"
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// text flattens the completion into a plain string. Some gateways return
// content as a string, others as a list of typed parts; both collapse here
// so callers never branch on shape.
func (r *chatResponse) text() (string, error) {
	if len(r.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	raw := r.Choices[0].Message.Content

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(p.Text)
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("unrecognized content shape: %s", string(raw))
}
