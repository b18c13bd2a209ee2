// Package pinecone is a data-plane REST client for a single Pinecone index.
package pinecone

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
	"campus-assistant/internal/logger"
)

// TokenParameter is the SSM leaf name holding the API key.
const TokenParameter = "pinecone-token"

// campusField is the metadata key every indexed chunk carries its campus in.
const campusField = "university"

type Config struct {
	Token      *paramstore.Token
	Host       string
	Namespace  string
	APIVersion string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// Client queries one index host.
type Client struct {
	log       *logger.Logger
	token     *paramstore.Token
	baseURL   string
	namespace string
	version   string
	http      *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.Token == nil {
		return nil, errors.New("pinecone: token must not be nil")
	}
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, errors.New("pinecone: index host must not be empty")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = "2025-10"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Client{
		log:       cfg.Logger.With("client", "PineconeClient"),
		token:     cfg.Token,
		baseURL:   host,
		namespace: cfg.Namespace,
		version:   cfg.APIVersion,
		http:      cfg.HTTPClient,
	}, nil
}

// HTTPStatusError captures non-2xx responses from the index.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("pinecone: http %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int { return e.StatusCode }

type QueryRequest struct {
	Namespace       string         `json:"namespace,omitempty"`
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeValues   bool           `json:"includeValues"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type QueryMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type QueryResponse struct {
	Matches []QueryMatch `json:"matches"`
}

// Query runs a raw similarity query against the index.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if len(req.Vector) == 0 {
		return nil, errors.New("pinecone: query vector required")
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if req.Namespace == "" {
		req.Namespace = c.namespace
	}
	return doJSON[QueryResponse](ctx, c, http.MethodPost, c.baseURL+"/query", req)
}

// Search returns the topK chunks closest to vector whose campus metadata
// equals campus.
func (c *Client) Search(ctx context.Context, vector []float32, campus string, topK int) ([]domain.Match, error) {
	start := time.Now()
	resp, err := c.Query(ctx, QueryRequest{
		Vector:          vector,
		TopK:            topK,
		Filter:          map[string]any{campusField: map[string]any{"$eq": campus}},
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		out = append(out, domain.Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	c.log.Debug("pinecone query", "campus", campus, "top_k", topK, "matches", len(out), "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// Ping checks that the index answers describe_index_stats.
func (c *Client) Ping(ctx context.Context) error {
	_, err := doJSON[map[string]any](ctx, c, http.MethodPost, c.baseURL+"/describe_index_stats", struct{}{})
	return err
}

func doJSON[T any](ctx context.Context, c *Client, method, url string, body any) (*T, error) {
	apiKey, err := c.token.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("pinecone: resolve api key: %w", err)
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("pinecone: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("pinecone: create request: %w", err)
	}
	req.Header.Set("Api-Key", apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-Api-Version", c.version)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pinecone: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(raw) > 4096 {
			raw = raw[:4096]
		}
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pinecone: decode response: %w", err)
	}
	return &out, nil
}
