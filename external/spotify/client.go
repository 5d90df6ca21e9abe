package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
)

const (
	DefaultBaseURL  = "https://api.spotify.com/v1"
	DefaultTokenURL = "https://accounts.spotify.com/api/token"

	maxBodyBytes = 1 << 20
)

// Client calls the Spotify Web API. The zero value is not usable; use NewClient.
type Client struct {
	http    *http.Client
	baseURL string
}

var _ goSession.ExternalAPI = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default client, which has a 10 second timeout.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithBaseURL points the client at another API root, e.g. an httptest server.
func WithBaseURL(base string) ClientOption {
	return func(cl *Client) {
		cl.baseURL = strings.TrimRight(base, "/")
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TopItems returns the user's top artists as a JSON array of at most limit items.
func (c *Client) TopItems(ctx context.Context, accessToken string, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	body, _, err := c.do(ctx, http.MethodGet, "/me/top/artists?"+q.Encode(), accessToken, nil, false)
	if err != nil {
		return nil, err
	}

	var page struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: decode top items: %v", goSession.ErrUpstreamUnavailable, err)
	}
	if page.Items == nil {
		page.Items = []json.RawMessage{}
	}
	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
	}
	return json.Marshal(page.Items)
}

// NowPlaying returns the currently playing object, or JSON null when nothing plays.
func (c *Client) NowPlaying(ctx context.Context, accessToken string) ([]byte, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/me/player/currently-playing", accessToken, nil, true)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: now playing payload is not JSON", goSession.ErrUpstreamUnavailable)
	}
	return body, nil
}

// StartPlayback plays trackURI on the user's active device.
func (c *Client) StartPlayback(ctx context.Context, accessToken, trackURI string) error {
	payload, err := json.Marshal(struct {
		URIs []string `json:"uris"`
	}{URIs: []string{trackURI}})
	if err != nil {
		return err
	}
	_, _, err = c.do(ctx, http.MethodPut, "/me/player/play", accessToken, payload, true)
	return err
}

type device struct {
	ID       string `json:"id"`
	IsActive bool   `json:"is_active"`
}

// PausePlayback pauses the active device. It returns ErrNoActiveTarget when the
// user has no active device.
func (c *Client) PausePlayback(ctx context.Context, accessToken string) error {
	body, _, err := c.do(ctx, http.MethodGet, "/me/player/devices", accessToken, nil, true)
	if err != nil {
		return err
	}
	var list struct {
		Devices []device `json:"devices"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return fmt.Errorf("%w: decode devices: %v", goSession.ErrUpstreamUnavailable, err)
	}

	var active *device
	for i := range list.Devices {
		if list.Devices[i].IsActive {
			active = &list.Devices[i]
			break
		}
	}
	if active == nil {
		return goSession.ErrNoActiveTarget
	}

	q := url.Values{"device_id": {active.ID}}
	_, _, err = c.do(ctx, http.MethodPut, "/me/player/pause?"+q.Encode(), accessToken, nil, true)
	return err
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, payload []byte, player bool) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, fmt.Errorf("%w: %v", goSession.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read body: %v", goSession.ErrUpstreamUnavailable, err)
	}
	if err := statusError(resp.StatusCode, player, body); err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// APIError carries the upstream status and message behind a classified error.
type APIError struct {
	Status  int
	Message string
	kind    error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("spotify: status %d", e.Status)
	}
	return fmt.Sprintf("spotify: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

func statusError(status int, player bool, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var kind error
	switch {
	case status == http.StatusUnauthorized:
		kind = goSession.ErrUpstreamCredential
	case status == http.StatusForbidden:
		kind = goSession.ErrPermissionRequired
	case status == http.StatusNotFound && player:
		kind = goSession.ErrNoActiveTarget
	default:
		kind = goSession.ErrUpstreamUnavailable
	}
	return &APIError{Status: status, Message: errorMessage(body), kind: kind}
}

func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Error.Message
}

// IsAPIError reports whether err carries an upstream status.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
