// Package api implements the client for the chat completion endpoint.
package api

import (
	"context"
	"fmt"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"

	"github.com/diogo/boltchat/internal/credential"
	"github.com/diogo/boltchat/internal/models"
)

// HTTPDoer is the part of tls_client.HttpClient the completion client uses.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Completer is implemented by anything that can turn a system prompt and a
// user message into a reply.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userText string) (string, error)
}

// Client talks to an OpenAI-compatible chat completion endpoint
type Client struct {
	httpClient  HTTPDoer
	credentials credential.Reader
	endpoint    string
	model       models.Model
	maxTokens   int
	timeout     time.Duration
}

var _ Completer = (*Client)(nil)

// ClientOption is a function that configures the client
type ClientOption func(*Client)

// WithModel sets the model sent with every request
func WithModel(model models.Model) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithEndpoint overrides the completion endpoint URL
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithMaxTokens sets the response length cap
func WithMaxTokens(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTimeout bounds each request; expiry is reported as a timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the transport (used by tests)
func WithHTTPClient(doer HTTPDoer) ClientOption {
	return func(c *Client) {
		c.httpClient = doer
	}
}

// NewClient creates a new Client. The credential is read from creds on every call.
func NewClient(creds credential.Reader, opts ...ClientOption) (*Client, error) {
	if creds == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	client := &Client{
		credentials: creds,
		endpoint:    models.EndpointChatCompletions,
		model:       models.DefaultModel,
		maxTokens:   models.DefaultMaxTokens,
		timeout:     models.DefaultTimeoutSeconds * time.Second,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.httpClient == nil {
		options := []tls_client.HttpClientOption{
			tls_client.WithTimeoutSeconds(int(client.timeout / time.Second)),
			tls_client.WithClientProfile(profiles.Chrome_120),
			tls_client.WithNotFollowRedirects(),
		}

		httpClient, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
		client.httpClient = httpClient
	}

	return client, nil
}

// GetModel returns the configured model
func (c *Client) GetModel() models.Model {
	return c.model
}

// Endpoint returns the completion endpoint URL
func (c *Client) Endpoint() string {
	return c.endpoint
}
