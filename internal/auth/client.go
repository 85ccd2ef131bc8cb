// Package auth provides a client for the external identity service. The
// synchronization engine never touches identity; this client exists for
// the login and registration flows around it.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnauthenticated is returned when no token is held or the held token
// was rejected by the identity service.
var ErrUnauthenticated = errors.New("not authenticated")

// User is the identity service's view of the current user.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type credentialsResponse struct {
	JWT   string `json:"jwt"`
	User  User   `json:"user"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client talks to the identity service over HTTP. The JWT is held in
// memory only; it is never written to the durable store.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// NewClient creates an identity client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Login authenticates with an identifier (username or email) and password.
func (c *Client) Login(ctx context.Context, identifier, password string) (User, error) {
	return c.credentials(ctx, "/api/auth/local", map[string]string{
		"identifier": identifier,
		"password":   password,
	})
}

// Register creates an account and authenticates in one step.
func (c *Client) Register(ctx context.Context, username, email, password string) (User, error) {
	return c.credentials(ctx, "/api/auth/local/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
}

func (c *Client) credentials(ctx context.Context, path string, body map[string]string) (User, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return User{}, fmt.Errorf("encode credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return User{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("identity request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var creds credentialsResponse
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return User{}, fmt.Errorf("decode identity response: %w", err)
	}
	if creds.JWT == "" {
		if creds.Error != nil && creds.Error.Message != "" {
			return User{}, fmt.Errorf("identity service: %s", creds.Error.Message)
		}
		return User{}, fmt.Errorf("identity service returned status %d without a token", resp.StatusCode)
	}

	c.token = creds.JWT
	return creds.User, nil
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (User, error) {
	if c.token == "" {
		return User{}, ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/users/me", nil)
	if err != nil {
		return User{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("identity request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.token = ""
		return User{}, ErrUnauthenticated
	}
	if resp.StatusCode != http.StatusOK {
		return User{}, fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return User{}, fmt.Errorf("decode profile: %w", err)
	}
	return user, nil
}

// Authenticated reports whether a token is currently held.
func (c *Client) Authenticated() bool {
	return c.token != ""
}

// Logout drops the held token.
func (c *Client) Logout() {
	c.token = ""
}
