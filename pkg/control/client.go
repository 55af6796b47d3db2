package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/offlinefirst/keyhole/pkg/routing"
)

// Client talks to a running daemon's control API.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient targets the daemon listening on addr (host:port or a full URL).
func NewClient(addr string) (*Client, error) {
	raw := strings.TrimSpace(addr)
	if raw == "" {
		return nil, errors.New("control address must not be empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse control address: %w", err)
	}
	return &Client{base: base, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

// Send simulates a press and release of the key behind command.
func (c *Client) Send(ctx context.Context, command string) (CommandResponse, error) {
	var out CommandResponse
	err := c.do(ctx, http.MethodPost, "/v1/commands/"+url.PathEscape(command), nil, &out)
	return out, err
}

// PreferredApp returns the resolved preferred target.
func (c *Client) PreferredApp(ctx context.Context) (string, error) {
	var out PreferredAppResponse
	err := c.do(ctx, http.MethodGet, "/v1/properties/preferred-app", nil, &out)
	return out.BundleID, err
}

// Status fetches the controller snapshot.
func (c *Client) Status(ctx context.Context) (routing.Status, error) {
	var out routing.Status
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out)
	return out, err
}

// UpdateSettings applies req and returns the resulting status.
func (c *Client) UpdateSettings(ctx context.Context, req SettingsRequest) (routing.Status, error) {
	var out routing.Status
	err := c.do(ctx, http.MethodPut, "/v1/settings", req, &out)
	return out, err
}

// ContinueOnboarding triggers the onboarding continue action.
func (c *Client) ContinueOnboarding(ctx context.Context) (routing.OnboardingResult, error) {
	var out routing.OnboardingResult
	err := c.do(ctx, http.MethodPost, "/v1/onboarding/continue", nil, &out)
	return out, err
}

// Refresh asks the daemon to re-check permissions and sessions.
func (c *Client) Refresh(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/refresh", nil, nil)
}

// Follow streams status snapshots to fn until ctx is cancelled or the connection drops.
func (c *Client) Follow(ctx context.Context, fn func(routing.Status)) error {
	wsURL := *c.base
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimSuffix(wsURL.Path, "/") + "/v1/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("dial status stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read status stream: %w", err)
		}
		if msg.Type == MsgStatus {
			fn(msg.Payload)
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
