// Package token provides the credential service client used to obtain
// short-lived access tokens for the avatar streaming vendor.
//
// The credential endpoint is a simple authenticated POST; its failure is
// fatal to session start and is never retried automatically.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Credential is a short-lived access token issued by the credential service.
type Credential struct {
	// Token is the opaque bearer value handed to the avatar service.
	Token string

	// ExpiresAt is the server-reported expiry. Zero when the service does
	// not report one.
	ExpiresAt time.Time
}

// Service is the abstraction over the credential endpoint.
//
// Implementations must be safe for concurrent use.
type Service interface {
	// Issue requests a fresh short-lived credential. Returns an error if the
	// request fails or ctx is cancelled; callers treat any failure as fatal
	// to the operation that needed the credential.
	Issue(ctx context.Context) (Credential, error)
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (10 s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client implements [Service] against an HTTP credential endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a credential Client. endpoint and apiKey must be non-empty.
func NewClient(endpoint, apiKey string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("token: endpoint must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("token: apiKey must not be empty")
	}
	c := &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// issueResponse is the JSON body returned by the credential endpoint.
type issueResponse struct {
	Data struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"data"`
}

// Issue implements [Service]. It POSTs to the endpoint with the configured
// API key and parses the token from the response body.
func (c *Client) Issue(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("token: build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("token: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("token: credential service returned status %d", resp.StatusCode)
	}

	var body issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Credential{}, fmt.Errorf("token: decode response: %w", err)
	}
	if body.Data.Token == "" {
		return Credential{}, errors.New("token: credential service returned an empty token")
	}

	cred := Credential{Token: body.Data.Token}
	if body.Data.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(body.Data.ExpiresAt, 0)
	}
	return cred, nil
}

// Compile-time interface check.
var _ Service = (*Client)(nil)
