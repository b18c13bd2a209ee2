// Package gemini adapts the Google Gen AI SDK to the completion and embedding
// capabilities used by the conversation pipeline.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/integrations/paramstore"
)

// TokenParameter is the SSM leaf name holding the API token.
const TokenParameter = "gemini-token"

// modelsAPI is the subset of *genai.Models used by Client.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// StatusError carries the HTTP status of a failed Gemini API call.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func (e *StatusError) HTTPStatusCode() int { return e.Code }

// Client talks to the Gemini API. The SDK client is built on the first call
// that can resolve the API token; failed attempts are retried by later calls.
type Client struct {
	token       *paramstore.Token
	temperature *float32

	mu     sync.Mutex
	models modelsAPI
}

type Option func(*Client)

// WithTemperature pins the sampling temperature of completions.
func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = &t
	}
}

// NewClient creates a Client authenticated with token.
func NewClient(token *paramstore.Token, opts ...Option) (*Client, error) {
	if token == nil {
		return nil, errors.New("gemini: token must not be nil")
	}
	c := &Client{token: token}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) api(ctx context.Context) (modelsAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.models != nil {
		return c.models, nil
	}
	key, err := c.token.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini: resolve api key: %w", err)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	c.models = client.Models
	return c.models, nil
}

// splitSystem folds system messages into a single instruction and maps the
// remaining transcript onto Gemini roles.
func splitSystem(messages []domain.Message) (*genai.Content, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAI:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) == 0 {
		return nil, contents
	}
	return genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser), contents
}

// Generate sends messages to model and returns the reply as an ai message.
func (c *Client) Generate(ctx context.Context, model string, messages []domain.Message) (domain.Message, error) {
	if model == "" {
		return domain.Message{}, errors.New("gemini: model must not be empty")
	}
	api, err := c.api(ctx)
	if err != nil {
		return domain.Message{}, err
	}

	system, contents := splitSystem(messages)
	cfg := &genai.GenerateContentConfig{SystemInstruction: system, Temperature: c.temperature}
	resp, err := api.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return domain.Message{}, wrapError("generate content", err)
	}
	if resp == nil {
		return domain.Message{}, errors.New("gemini: empty response")
	}
	return domain.Message{Role: domain.RoleAI, Content: resp.Text()}, nil
}

// Embed returns the embedding of text under model.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if model == "" {
		return nil, errors.New("gemini: model must not be empty")
	}
	api, err := c.api(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := api.EmbedContent(ctx, model, genai.Text(text), nil)
	if err != nil {
		return nil, wrapError("embed content", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini: no embedding in response")
	}
	return resp.Embeddings[0].Values, nil
}

func wrapError(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return fmt.Errorf("gemini: %s: %w", op, &StatusError{Code: apiErr.Code, Err: err})
	}
	return fmt.Errorf("gemini: %s: %w", op, err)
}

// Completer binds a Client to one chat model.
type Completer struct {
	Client *Client
	Model  string
}

func (c Completer) Complete(ctx context.Context, messages []domain.Message) (domain.Message, error) {
	return c.Client.Generate(ctx, c.Model, messages)
}

// Embedder binds a Client to one embedding model.
type Embedder struct {
	Client *Client
	Model  string
}

func (e Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.Client.Embed(ctx, e.Model, text)
}
