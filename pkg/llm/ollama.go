package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/klauspost/compress/gzhttp"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "phi3.5:3.8b-mini-instruct-q4_K_M"

	defaultOllamaTries = 3
)

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// statusError is a non-2xx response from the chat endpoint.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ollama chat http %d: %s", e.code, e.body)
}

// OllamaClient implements agent.LLMClient against a local Ollama server.
// Transport errors and 5xx responses are retried with exponential backoff
// inside the caller's context; 4xx responses are not.
type OllamaClient struct {
	log        *slog.Logger
	baseURL    string
	httpClient *http.Client
	model      string
	maxTokens  int64
	tries      uint
	newBackOff func() backoff.BackOff
}

// NewOllamaClient creates a new Ollama client. A nil httpClient uses one
// without a timeout; callers bound each call through the context.
func NewOllamaClient(log *slog.Logger, baseURL string, httpClient *http.Client, model string, maxTokens int64) *OllamaClient {
	if httpClient == nil {
		httpClient = &http.Client{Transport: gzhttp.Transport(http.DefaultTransport)}
	}
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &OllamaClient{
		log:        log,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		model:      model,
		maxTokens:  maxTokens,
		tries:      defaultOllamaTries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Complete sends the prompts as a two-message chat and returns the reply.
func (c *OllamaClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream: false,
		Options: map[string]any{
			"num_predict": c.maxTokens,
			"temperature": 0,
		},
	}

	attempt := 0
	resp, err := backoff.Retry(ctx, func() (ollamaChatResponse, error) {
		if attempt > 0 && c.log != nil {
			c.log.Warn("llm: ollama chat failed, retrying", "attempt", attempt, "model", c.model)
		}
		attempt++
		resp, err := c.chat(ctx, req)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.code < 500 {
				return resp, backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return resp, backoff.Permanent(err)
			}
			return resp, err
		}
		return resp, nil
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.tries))
	if err != nil {
		return "", fmt.Errorf("failed to get response: %w", err)
	}

	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return "", fmt.Errorf("no text content in response")
	}
	return content, nil
}

// chat performs the HTTP request to Ollama's chat endpoint.
func (c *OllamaClient) chat(ctx context.Context, req ollamaChatRequest) (ollamaChatResponse, error) {
	var out ollamaChatResponse

	b, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("json marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return out, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return out, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	// Ollama may send newline-delimited chunks even when stream=false.
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return out, fmt.Errorf("stream decode: %w (line=%q)", err, string(line))
		}
		if chunk.Error != "" {
			return out, fmt.Errorf("ollama error: %s", chunk.Error)
		}
		out.Message.Content += chunk.Message.Content
		if chunk.Message.Role != "" {
			out.Message.Role = chunk.Message.Role
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		out.Done = chunk.Done
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("stream read: %w", err)
	}
	return out, nil
}
