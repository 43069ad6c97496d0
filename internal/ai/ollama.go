package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultSystemPrompt keeps the assistant on rental topics and points users
// at the agent hand-off.
const DefaultSystemPrompt = "You are the support assistant of a car-rental marketplace. " +
	"Answer questions about listings, bookings, payments and verification briefly. " +
	"If the user asks for a person, tell them to use the \"talk to an agent\" option."

// OllamaProvider answers through a local Ollama server's /api/chat endpoint.
type OllamaProvider struct {
	BaseURL      string
	Model        string
	SystemPrompt string
	// Temperature is passed through when non-zero.
	Temperature float64
	// KeepAlive keeps the model loaded between replies, e.g. "10m".
	KeepAlive string
	Client    *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Model:        model,
		SystemPrompt: DefaultSystemPrompt,
		KeepAlive:    "10m",
		Client:       &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type ollamaChatReq struct {
	Model     string         `json:"model"`
	Messages  []ollamaTurn   `json:"messages"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   *ollamaOptions `json:"options,omitempty"`
}

type ollamaChatResp struct {
	Message ollamaTurn `json:"message"`
	Error   string     `json:"error,omitempty"`
}

func (p *OllamaProvider) request(messages []Message) ollamaChatReq {
	req := ollamaChatReq{Model: p.Model, KeepAlive: p.KeepAlive}
	if p.Temperature != 0 {
		req.Options = &ollamaOptions{Temperature: p.Temperature}
	}
	if p.SystemPrompt != "" {
		req.Messages = append(req.Messages, ollamaTurn{Role: "system", Content: p.SystemPrompt})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, ollamaTurn{Role: m.Role, Content: m.Content})
	}
	return req
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", errors.New("ollama: http client is nil")
	}

	payload, err := json.Marshal(p.request(messages))
	if err != nil {
		return "", errors.Wrap(err, "ollama: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "ollama: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "ollama")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return "", errors.Errorf("ollama: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "ollama: decode response")
	}
	if out.Error != "" {
		return "", errors.Errorf("ollama: %s", out.Error)
	}
	return strings.TrimSpace(out.Message.Content), nil
}
