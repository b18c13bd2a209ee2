// Package paramstore reads API tokens kept as SecureString parameters in SSM.
package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the subset of *ssm.Client used by Client.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// tokenPayload is the JSON shape stored for every API token.
type tokenPayload struct {
	Token string `json:"token"`
}

// Client reads the parameters of one deployment, all kept under a common
// path prefix such as /campus-assistant.
type Client struct {
	api    ssmAPI
	prefix string
}

func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("paramstore: prefix is required")
	}
	return &Client{api: api, prefix: prefix}, nil
}

// Path returns the full parameter name of leaf.
func (c *Client) Path(leaf string) string {
	return c.prefix + "/" + strings.TrimLeft(strings.TrimSpace(leaf), "/")
}

// GetToken reads the {"token": ...} document stored under leaf.
func (c *Client) GetToken(ctx context.Context, leaf string) (string, error) {
	name := c.Path(leaf)
	raw, err := c.getParameter(ctx, name)
	if err != nil {
		return "", err
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal token %q as JSON: %w", name, err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", fmt.Errorf("paramstore: token %q is empty", name)
	}
	return tp.Token, nil
}

// Token returns a lazily resolved token for leaf.
func (c *Client) Token(leaf string) (*Token, error) {
	return NewToken(c, leaf)
}

func (c *Client) getParameter(ctx context.Context, name string) (string, error) {
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

func boolPtr(b bool) *bool { return &b }
