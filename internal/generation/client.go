package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL  = "https://api.openai.com"
	defaultChatPath = "/v1/chat/completions"
	defaultModel    = "gpt-3.5-turbo"
	validateTokens  = 5
	maxErrorBody    = 1 << 20
)

// ClientConfig configures an OpenAI-compatible chat-completions client.
type ClientConfig struct {
	BaseURL             string
	ChatCompletionsPath string
	APIKey              string
	Model               string
	Temperature         float64
	// Timeout bounds a single HTTP exchange. Zero means no client-side limit.
	Timeout time.Duration
}

// Client calls a chat-completions endpoint.
type Client struct {
	baseURL     string
	chatPath    string
	apiKey      string
	model       string
	temperature float64
	timeout     time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a client with a pooled transport.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("generation: api key required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	chatPath := strings.TrimSpace(cfg.ChatCompletionsPath)
	if chatPath == "" {
		chatPath = defaultChatPath
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL:     baseURL,
		chatPath:    chatPath,
		apiKey:      apiKey,
		model:       model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		httpClient:  &http.Client{Transport: tr},
		logger:      logger,
	}, nil
}

// NewClientWithHTTPClient is intended for tests; it avoids network access by using a custom RoundTripper.
func NewClientWithHTTPClient(cfg ClientConfig, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	c, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements Generator.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	msgs := toChatMessages(req)
	if len(msgs) == 0 {
		return "", &Error{Message: "no messages to send"}
	}

	body := chatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: c.temperature,
	}

	var resp chatCompletionResponse
	if err := c.doJSON(ctx, body, &resp); err != nil {
		return "", err
	}

	for _, choice := range resp.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			return text, nil
		}
	}
	return "", &Error{Message: "the response contained no text"}
}

// Validate makes a minimal request to confirm the key and endpoint work.
func (c *Client) Validate(ctx context.Context) error {
	body := chatCompletionRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: RoleUser, Content: "Hello"}},
		MaxTokens:   validateTokens,
		Temperature: c.temperature,
	}
	if err := c.doJSON(ctx, body, nil); err != nil {
		c.logger.Warn("generation endpoint validation failed", "error", err)
		return err
	}
	return nil
}

func toChatMessages(req Request) []chatMessage {
	out := make([]chatMessage, 0, len(req.Messages)+1)
	if sys := strings.TrimSpace(req.SystemPrompt); sys != "" {
		out = append(out, chatMessage{Role: RoleSystem, Content: sys})
	}
	for _, m := range req.Messages {
		role := strings.TrimSpace(m.Role)
		content := strings.TrimSpace(m.Content)
		if role == "" || content == "" {
			continue
		}
		out = append(out, chatMessage{Role: role, Content: content})
	}
	return out
}

func (c *Client) doJSON(ctx context.Context, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return &Error{Message: "could not encode request", Err: err}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.chatPath, &buf)
	if err != nil {
		return &Error{Message: "could not build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Wrap(fmt.Errorf("network error: %w", err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close generation response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{
			Message:    upstreamMessage(raw),
			StatusCode: resp.StatusCode,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Message: "malformed response payload", Err: err}
	}
	return nil
}

func upstreamMessage(raw []byte) string {
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && strings.TrimSpace(er.Error.Message) != "" {
		return er.Error.Message
	}
	return "Unknown error"
}
