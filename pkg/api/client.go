package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/park-link/pkg/types"
)

// ErrAuthRejected indicates the server refused the credentials
var ErrAuthRejected = errors.New("server rejected the credentials")

const (
	loginPath  = "/link/client/login"
	createPath = "/link/client/create"
)

// authRequest is the credential payload for login and account creation
type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// authResponse carries the session token on success
type authResponse struct {
	Token string `json:"token"`
}

// errorResponse is the server's failure payload
type errorResponse struct {
	Reason string `json:"reason"`
}

// Client talks to the account endpoints of a connected alternative server
type Client struct {
	base       string
	httpClient *http.Client
}

// NewClient creates an API client for the given trusted server
func NewClient(record types.ServerRecord, skipTLSVerify bool) *Client {
	scheme := "http"
	if record.Endpoint.Transport == types.TransportTLS {
		scheme = "https"
	}
	return &Client{
		base: scheme + "://" + record.Endpoint.Key(),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: skipTLSVerify},
			},
		},
	}
}

// Login authenticates an existing account and returns the session token
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	return c.auth(ctx, loginPath, username, password)
}

// CreateAccount registers a new account and returns its session token
func (c *Client) CreateAccount(ctx context.Context, username, password string) (string, error) {
	return c.auth(ctx, createPath, username, password)
}

func (c *Client) auth(ctx context.Context, path, username, password string) (string, error) {
	body, err := json.Marshal(authRequest{Username: username, Password: password})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read server response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Reason != "" {
			return "", fmt.Errorf("%w: %s", ErrAuthRejected, errResp.Reason)
		}
		return "", fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
	}

	var authResp authResponse
	if err := json.Unmarshal(data, &authResp); err != nil || authResp.Token == "" {
		return "", fmt.Errorf("invalid auth response from server")
	}
	return authResp.Token, nil
}
