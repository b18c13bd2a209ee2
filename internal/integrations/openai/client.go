package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/integrations/paramstore"
)

// TokenParameter is the SSM leaf name holding the API token.
const TokenParameter = "open-ai-token"

const defaultBaseURL = "https://api.openai.com/v1"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Choices []struct {
		Index   int         `json:"index"`
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible client for chat completions and
// embeddings.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	token       *paramstore.Token
	temperature *float64
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTemperature pins the sampling temperature of chat completions.
func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = &t
	}
}

// NewClient creates a Client authenticated with token. The token is resolved
// on the first request and reused for the lifetime of the process.
func NewClient(token *paramstore.Token, opts ...Option) (*Client, error) {
	if token == nil {
		return nil, errors.New("openai: token must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 30s timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func endpointURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + path
	}
	return base + "/v1" + path
}

// wireRole maps transcript roles onto chat completion roles.
func wireRole(role string) string {
	switch role {
	case domain.RoleHuman:
		return "user"
	case domain.RoleAI:
		return "assistant"
	case domain.RoleSystem:
		return "system"
	default:
		return role
	}
}

// Chat sends messages to model and returns the first choice as an ai message.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.Message) (domain.Message, error) {
	if model == "" {
		return domain.Message{}, errors.New("openai: model must not be empty")
	}

	wire := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, chatMessage{Role: wireRole(m.Role), Content: m.Content, Name: m.Name})
	}

	var payload chatResponse
	if err := c.postJSON(ctx, "/chat/completions", chatRequest{Model: model, Messages: wire, Temperature: c.temperature}, &payload); err != nil {
		return domain.Message{}, err
	}
	if len(payload.Choices) == 0 {
		return domain.Message{}, errors.New("openai: no choices in response")
	}
	return domain.Message{
		Role:    domain.RoleAI,
		Content: payload.Choices[0].Message.Content,
		ID:      payload.ID,
	}, nil
}

// Embed returns the embedding of text under model.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	var payload embeddingResponse
	if err := c.postJSON(ctx, "/embeddings", embeddingRequest{Model: model, Input: text}, &payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 || len(payload.Data[0].Embedding) == 0 {
		return nil, errors.New("openai: no embedding in response")
	}
	return payload.Data[0].Embedding, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	apiKey, err := c.token.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("openai: resolve api key: %w", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("openai: marshal request: %w", err)
	}

	url := endpointURL(c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return fmt.Errorf("openai: request failed: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// Completer binds a Client to one chat model.
type Completer struct {
	Client *Client
	Model  string
}

func (c Completer) Complete(ctx context.Context, messages []domain.Message) (domain.Message, error) {
	return c.Client.Chat(ctx, c.Model, messages)
}

// Embedder binds a Client to one embedding model.
type Embedder struct {
	Client *Client
	Model  string
}

func (e Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.Client.Embed(ctx, e.Model, text)
}
