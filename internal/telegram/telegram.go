// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram is a small client for the Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.astrophena.name/horobot/internal/request"
	"go.astrophena.name/horobot/internal/tgmarkup"
)

const (
	tgAPI          = "https://api.telegram.org"
	sendRetryLimit = 5 // N attempts to retry message sending
)

// Config configures a [Client].
type Config struct {
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
	// APIURL overrides the Bot API endpoint. Used in tests.
	APIURL string
}

// Client talks to the Telegram Bot API.
type Client struct {
	token    string
	apiURL   string
	httpc    *http.Client
	scrubber *strings.Replacer
	slog     *slog.Logger

	makeRequest func(ctx context.Context, httpc *http.Client, method string, args any) (json.RawMessage, error)
	sleep       func(context.Context, time.Duration) bool
}

// New returns a new Client.
func New(cfg Config) *Client {
	c := &Client{
		token:    cfg.Token,
		apiURL:   cfg.APIURL,
		httpc:    cfg.HTTPClient,
		scrubber: Scrubber(cfg.Token),
		slog:     cfg.Logger,
	}
	if c.apiURL == "" {
		c.apiURL = tgAPI
	}
	if c.httpc == nil {
		c.httpc = request.DefaultClient
	}
	if c.slog == nil {
		c.slog = slog.Default()
	}
	c.makeRequest = c.makeTelegramRequest
	c.sleep = sleep
	return c
}

// Scrubber returns a replacer that hides the token in error messages.
func Scrubber(token string) *strings.Replacer {
	if token == "" {
		return strings.NewReplacer()
	}
	return strings.NewReplacer(token, "[EXPUNGED]")
}

// DeliveryError is returned by [Client.SendMessage] when a message couldn't
// be delivered.
type DeliveryError struct {
	RecipientID int64
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering to %d: %v", e.RecipientID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// User is a Telegram user or bot.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Chat is a Telegram chat.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Message is an incoming message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// Update is an incoming update returned by getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type outgoingMessage struct {
	ChatID             int64 `json:"chat_id"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
	tgmarkup.Message
}

// SendMessage sends msg to the chat, splitting it when it exceeds the
// Telegram length limit and retrying requests when rate limited. Errors are
// returned as [*DeliveryError].
func (c *Client) SendMessage(ctx context.Context, chatID int64, msg tgmarkup.Message) error {
	if err := c.sendMessage(ctx, chatID, msg); err != nil {
		return &DeliveryError{RecipientID: chatID, Err: err}
	}
	return nil
}

func (c *Client) sendMessage(ctx context.Context, chatID int64, msg tgmarkup.Message) error {
	tgmsg := &outgoingMessage{ChatID: chatID}
	tgmsg.LinkPreviewOptions.IsDisabled = true

	for _, chunk := range splitMessage(msg) {
		tgmsg.Message = chunk

		var err error
		for attempt := range sendRetryLimit {
			_, err = c.makeRequest(ctx, c.httpc, "sendMessage", tgmsg)
			if err == nil {
				break
			}

			retryable, wait := isRateLimited(err)
			if !retryable || attempt == sendRetryLimit-1 {
				break
			}

			c.slog.Warn("sending rate limited, waiting", slog.Int64("chat_id", chatID), slog.Duration("wait", wait))
			if !c.sleep(ctx, wait) {
				return ctx.Err()
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// GetUpdates long-polls for updates starting at offset. It blocks for up to
// timeout when there are none.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	// The request must outlive the server-side wait.
	ctx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()
	pollc := &http.Client{Transport: c.httpc.Transport}

	args := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message"},
	}
	raw, err := c.makeRequest(ctx, pollc, "getUpdates", args)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("decoding updates: %w", err)
	}
	return updates, nil
}

// GetMe returns the bot's own user.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	raw, err := c.makeRequest(ctx, c.httpc, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var me User
	if err := json.Unmarshal(raw, &me); err != nil {
		return nil, fmt.Errorf("decoding getMe result: %w", err)
	}
	return &me, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (c *Client) makeTelegramRequest(ctx context.Context, httpc *http.Client, method string, args any) (json.RawMessage, error) {
	resp, err := request.Make[apiResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        c.apiURL + "/bot" + c.token + "/" + method,
		Body:       args,
		HTTPClient: httpc,
		Scrubber:   c.scrubber,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("%s: %s", method, resp.Description)
	}
	return resp.Result, nil
}

func isRateLimited(err error) (bool, time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return false, 0
	}

	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}

// IsBlocked reports whether err means the recipient blocked the bot or
// deleted the chat.
func IsBlocked(err error) bool {
	var statusErr *request.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusForbidden
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
