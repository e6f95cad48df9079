package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/whisper/chatroom/internal/chat"
)

// Client is one simulated participant talking to the chat API.
type Client struct {
	base string
	name string
	http *http.Client
}

// NewClient creates a Client for name against the server at base, e.g.
// "http://localhost:5000".
func NewClient(base, name string, hc *http.Client) *Client {
	return &Client{base: base, name: name, http: hc}
}

// Register joins the room under the client's name.
func (c *Client) Register(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"name": c.name})
	if err != nil {
		return err
	}
	return c.expect(ctx, http.MethodPost, "/participants", body, http.StatusCreated, nil)
}

// Heartbeat refreshes the client's presence.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.expect(ctx, http.MethodPost, "/status", nil, http.StatusOK, nil)
}

// Post sends a message.
func (c *Client) Post(ctx context.Context, body chat.MessageBody) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.expect(ctx, http.MethodPost, "/messages", data, http.StatusCreated, nil)
}

// List fetches the client's view of the log, limited to the last limit
// messages when limit > 0.
func (c *Client) List(ctx context.Context, limit int) ([]chat.Message, error) {
	path := "/messages"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var msgs []chat.Message
	if err := c.expect(ctx, http.MethodGet, path, nil, http.StatusOK, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// expect performs one request and fails unless the response has status want.
// When out is non-nil the response body is decoded into it.
func (c *Client) expect(ctx context.Context, method, path string, body []byte, want int, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User", c.name)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: status %d, want %d", method, path, resp.StatusCode, want)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
	}
	return nil
}
