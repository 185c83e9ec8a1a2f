// Package telegram is a minimal Bot API client: sending replies and
// registering the webhook.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/utils"
	"github.com/MrSnakeDoc/pinbook/internal/version"
)

const DefaultAPIURL = "https://api.telegram.org"

// Sender delivers a text reply to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// APIError is a Bot API answer with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
	}
	return fmt.Sprintf("telegram %s: error %d", e.Method, e.Code)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(apiURL, token string, timeout time.Duration) (*Client, error) {
	if token == "" {
		return nil, errors.New("telegram: bot token is empty")
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// SendMessage posts a plain-text reply.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	})
}

// SetWebhook registers url; secret is echoed back by Telegram in the
// X-Telegram-Bot-Api-Secret-Token header of every update.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	body := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message"},
	}
	if secret != "" {
		body["secret_token"] = secret
	}
	return c.call(ctx, "setWebhook", body)
}

func (c *Client) call(ctx context.Context, method string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("telegram %s: encode: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bot"+c.token+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram %s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		// the URL embeds the bot token
		return fmt.Errorf("telegram %s: %s", method, strings.ReplaceAll(err.Error(), c.token, "REDACTED"))
	}
	defer utils.CloseBody(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram %s: read: %w", method, err)
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return &APIError{Method: method, Code: resp.StatusCode, Description: "undecodable response"}
	}
	if !out.OK {
		apiErr := &APIError{Method: method, Code: out.ErrorCode, Description: out.Description}
		if out.Parameters != nil {
			apiErr.RetryAfter = time.Duration(out.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	return nil
}
