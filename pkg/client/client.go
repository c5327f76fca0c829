// Package client is the signing HTTP client: it derives the protected
// headers for each request and decodes the server's envelopes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/evolutius/apix/pkg/sign"
)

// Client signs every outbound request with a fresh nonce and timestamp.
// A rejected request is terminal; retrying means calling again, which
// produces a new, independent signed request.
type Client struct {
	BaseURL      string
	APIKeyID     string
	Secret       string
	SessionToken string
	HTTPClient   *http.Client
}

func New(baseURL, apiKeyID, secret string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKeyID:   apiKeyID,
		Secret:     secret,
		HTTPClient: &http.Client{},
	}
}

// APIError is a decoded failure envelope.
type APIError struct {
	Status  int
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.ID, e.Message)
}

// Do signs and sends one request. pathWithQuery is the server path plus
// optional query string; payload is marshaled as the JSON body when
// non-nil. The decoded success payload lands in out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, pathWithQuery string, payload, out any) error {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = b
	}
	headers, err := sign.Build(c.APIKeyID, c.Secret, method, pathWithQuery, body, c.SessionToken)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+pathWithQuery, bytes.NewReader(body))
	if err != nil {
		return err
	}
	headers.Apply(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var envelope struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.ID == "" {
			return &APIError{Status: resp.StatusCode, ID: "unknown", Message: string(raw)}
		}
		envelope.Error.Status = resp.StatusCode
		return &envelope.Error
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Login exchanges user credentials for a session token on the exempt
// login endpoint and attaches it to subsequent requests.
func (c *Client) Login(ctx context.Context, loginPath, username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.Do(ctx, http.MethodPost, loginPath, map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Token == "" {
		return fmt.Errorf("login response carried no token")
	}
	c.SessionToken = resp.Token
	return nil
}
