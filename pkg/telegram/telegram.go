// Package telegram is a minimal Telegram Bot API client covering what the
// republisher needs: sending channel posts and long-polling bot commands.
// API errors are classified into typed values so callers can decide what is
// retryable.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.telegram.org"

// RateLimitedError reports that the API asked us to back off.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// BadRequestError reports a request the API rejected outright (bad photo URL,
// malformed caption). Retrying the same payload cannot succeed.
type BadRequestError struct {
	Description string
}

func (e *BadRequestError) Error() string {
	return "bad request: " + e.Description
}

// ServerError reports a server-side failure (5xx). Retryable.
type ServerError struct {
	Status      int
	Description string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Description)
}

// User is the bot identity returned by getMe.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Chat identifies where a message came from.
type Chat struct {
	ID int64 `json:"id"`
}

// Message is an incoming bot message.
type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
}

// Update is one getUpdates result.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *responseParams `json:"parameters"`
	Result      json.RawMessage `json:"result"`
}

type responseParams struct {
	RetryAfter int `json:"retry_after"`
}

// Client talks to the Telegram Bot API.
type Client struct {
	httpc   *http.Client
	baseURL string
	token   string
}

// New creates a client for the given bot token.
func New(token string) *Client {
	return &Client{
		httpc:   &http.Client{Timeout: 60 * time.Second},
		baseURL: defaultBaseURL,
		token:   token,
	}
}

// NewWithBaseURL creates a client against a custom API endpoint. Tests use it
// to point at a local server.
func NewWithBaseURL(token, baseURL string) *Client {
	c := New(token)
	c.baseURL = baseURL
	return c
}

// GetMe verifies the token and returns the bot identity.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var user User
	if err := c.call(ctx, "getMe", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SendMessage posts plain text to a chat or channel.
func (c *Client) SendMessage(ctx context.Context, chat, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chat,
		"text":    text,
	}, nil)
}

// SendPhoto posts a photo by URL with a caption.
func (c *Client) SendPhoto(ctx context.Context, chat, photoURL, caption string) error {
	return c.call(ctx, "sendPhoto", map[string]any{
		"chat_id": chat,
		"photo":   photoURL,
		"caption": caption,
	}, nil)
}

// GetUpdates long-polls for incoming updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":  offset,
		"timeout": int(timeout.Seconds()),
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// call performs one API method call and classifies failures.
func (c *Client) call(ctx context.Context, method string, params map[string]any, result any) error {
	var body bytes.Buffer
	if params != nil {
		if err := json.NewEncoder(&body).Encode(params); err != nil {
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		if resp.StatusCode >= 500 {
			return &ServerError{Status: resp.StatusCode, Description: "unreadable response"}
		}
		return fmt.Errorf("decode %s response: %w", method, err)
	}

	if !api.OK {
		return classify(resp.StatusCode, &api)
	}

	if result != nil && len(api.Result) > 0 {
		if err := json.Unmarshal(api.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func classify(status int, api *apiResponse) error {
	code := api.ErrorCode
	if code == 0 {
		code = status
	}

	switch {
	case code == http.StatusTooManyRequests:
		wait := time.Second
		if api.Parameters != nil && api.Parameters.RetryAfter > 0 {
			wait = time.Duration(api.Parameters.RetryAfter) * time.Second
		}
		return &RateLimitedError{RetryAfter: wait}
	case code >= 500:
		return &ServerError{Status: code, Description: api.Description}
	case code >= 400:
		return &BadRequestError{Description: api.Description}
	default:
		return fmt.Errorf("telegram error %d: %s", code, api.Description)
	}
}
