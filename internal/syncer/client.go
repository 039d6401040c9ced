// Package syncer notifies the internal contact-sync service of new
// interactions so downstream CRM lists stay current. Best-effort: dispatch
// outcomes never depend on it.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"github.com/replydeck/helmsman/pkg/clients"
)

// APIError is returned for non-2xx sync service responses.
type APIError struct {
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sync service returned status: %d", e.StatusCode)
}

// Client wraps the internal sync service API.
type Client struct {
	baseURL      string
	serviceToken string
	client       *http.Client
	httpExecutor failsafe.Executor[*http.Response]
	shouldRetry  func(resp *http.Response, err error) bool
}

// Option customizes the client.
type Option func(*Client)

// NewClient creates a sync service client with retrying HTTP execution.
func NewClient(baseURL, serviceToken string, opts ...Option) *Client {
	defaultConfig := clients.DefaultHTTPExecutorConfig()
	c := &Client{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		client:       &http.Client{Timeout: 10 * time.Second},
		httpExecutor: clients.NewHTTPExecutor(defaultConfig),
		shouldRetry:  defaultConfig.ShouldRetry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

// WithHTTPExecutorConfig overrides retry behavior.
func WithHTTPExecutorConfig(cfg clients.HTTPExecutorConfig) Option {
	return func(c *Client) {
		c.httpExecutor = clients.NewHTTPExecutor(cfg)
		c.shouldRetry = cfg.ShouldRetry
	}
}

type contactUpsert struct {
	AccountID string `json:"account_id"`
	Handle    string `json:"handle"`
	Source    string `json:"source"`
}

// UpsertContact records that actor handle interacted with the account.
func (c *Client) UpsertContact(ctx context.Context, accountID, handle, source string) error {
	body, err := json.Marshal(contactUpsert{AccountID: accountID, Handle: handle, Source: source})
	if err != nil {
		return fmt.Errorf("marshal contact: %w", err)
	}

	resp, err := clients.ExecuteHTTP(ctx, c.httpExecutor, func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/contacts", bytes.NewReader(body))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)

		resp, doErr := c.client.Do(req)
		if c.shouldRetry != nil && c.shouldRetry(resp, doErr) {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return resp, doErr
	})
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}
