// Package chat sends messages through a Telegram-compatible Bot API.
package chat

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
	"unicode/utf8"

	"golang.org/x/time/rate"

	"feedrelay/internal/resilience/faults"
	"feedrelay/internal/usecase/deliver"
)

// MaxMessageLength is the Bot API limit on message text, in characters.
const MaxMessageLength = 4096

const truncationSuffix = "..."

// ErrNoToken is returned by NewClient without a bot token.
var ErrNoToken = errors.New("chat: bot token is required")

// Config configures a Client.
type Config struct {
	// APIURL is the Bot API base, e.g. https://api.telegram.org.
	APIURL string
	Token  string
	// Timeout bounds one HTTP request.
	Timeout time.Duration
	// RatePerSecond and Burst shape the global send rate. The Bot API allows
	// about 30 messages per second across chats.
	RatePerSecond float64
	Burst         int
}

// DefaultConfig returns the public API with 10s, 25 msg/s and a burst of 5.
func DefaultConfig() Config {
	return Config{
		APIURL:        "https://api.telegram.org",
		Timeout:       10 * time.Second,
		RatePerSecond: 25,
		Burst:         5,
	}
}

// Client implements deliver.Sender.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	endpoint   string
}

var _ deliver.Sender = (*Client)(nil)

// NewClient returns a Client. Zero fields of cfg take DefaultConfig values.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	def := DefaultConfig()
	if cfg.APIURL == "" {
		cfg.APIURL = def.APIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		endpoint:   strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token + "/sendMessage",
	}, nil
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send posts text to chatID. Failures are *faults.TransportError; a 429
// carries the API's retry_after hint.
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &faults.TransportError{Kind: faults.Classify(err), Message: "send rate wait", Err: err}
	}

	payload, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: Truncate(text, MaxMessageLength)})
	if err != nil {
		return fmt.Errorf("marshal sendMessage: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &faults.TransportError{Kind: faults.ClientError, Message: "invalid request", Err: redact(err, c.cfg.Token)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The request URL embeds the token; keep it out of logs.
		err = redact(err, c.cfg.Token)
		return &faults.TransportError{Kind: faults.Classify(err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var ar apiResponse
	_ = json.Unmarshal(body, &ar)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && ar.OK {
		return nil
	}

	msg := ar.Description
	if msg == "" {
		msg = resp.Status
	}
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		// ok:false inside a 2xx envelope.
		code = ar.ErrorCode
		if code == 0 {
			code = http.StatusBadRequest
		}
		return faults.FromStatus(code, msg)
	}
	te := faults.FromResponse(resp, msg)
	if ar.Parameters.RetryAfter > 0 {
		te.RetryAfter = time.Duration(ar.Parameters.RetryAfter) * time.Second
	}
	return te
}

// Truncate shortens text to at most max characters, ending in "..." when
// cut. It never splits a multi-byte character.
func Truncate(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	keep := max - len(truncationSuffix)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(text)
	return string(runes[:keep]) + truncationSuffix
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<redacted>"), err: err}
}
