// Package subsonic provides access to a Subsonic-style music server's REST
// API: session tokens, ratings and raw media downloads.
package subsonic

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

const apiVersion = "1.16.1"

// Client provides access to the server's REST API. The session token is an
// md5(password + salt) pair; rotating the salt yields a fresh token.
type Client struct {
	baseURL    string
	username   string
	password   string
	clientName string
	httpClient *http.Client

	mu    sync.Mutex
	salt  string
	token string
}

// NewClient creates a new API client and derives an initial session token.
func NewClient(baseURL, username, password, clientName string) *Client {
	c := &Client{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		clientName: clientName,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	c.RotateToken()
	return c
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// RotateToken derives a fresh session token from a new salt and returns it.
func (c *Client) RotateToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.salt = uuid.NewString()[:8]
	c.token = fmt.Sprintf("%x", md5.Sum([]byte(c.password+c.salt)))
	return c.token
}

// Ping checks that the server accepts the current token.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", nil)
}

// SetRating stores a 0-5 rating for a song. Zero removes the rating.
func (c *Client) SetRating(ctx context.Context, mediaID string, rating int) error {
	return c.call(ctx, "setRating", url.Values{
		"id":     {mediaID},
		"rating": {fmt.Sprint(rating)},
	})
}

// SetFavourite stars or unstars a song.
func (c *Client) SetFavourite(ctx context.Context, mediaID string, favourite bool) error {
	endpoint := "star"
	if !favourite {
		endpoint = "unstar"
	}
	return c.call(ctx, endpoint, url.Values{"id": {mediaID}})
}

// APIError is a failure reported by the server rather than the transport.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// IsAuthError reports whether err is the server rejecting the credentials or
// token, as opposed to any other API failure.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	// Codes 40-44 are the authentication range.
	return apiErr.Code >= 40 && apiErr.Code <= 44
}

type envelope struct {
	Response struct {
		Status string    `json:"status"`
		Error  *APIError `json:"error"`
	} `json:"subsonic-response"`
}

func (c *Client) call(ctx context.Context, endpoint string, params url.Values) error {
	c.mu.Lock()
	token, salt := c.token, c.salt
	c.mu.Unlock()

	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("u", c.username)
	q.Set("t", token)
	q.Set("s", salt)
	q.Set("c", c.clientName)
	q.Set("v", apiVersion)
	q.Set("f", "json")

	reqURL := fmt.Sprintf("%s/rest/%s?%s", c.baseURL, endpoint, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Response.Status != "ok" {
		if env.Response.Error != nil {
			return env.Response.Error
		}
		return fmt.Errorf("request %s failed without error detail", endpoint)
	}
	return nil
}
