// ABOUTME: HTTP client for the gateway history API, used by the session as its backend
// ABOUTME: Every failure is classified as a network or validation error before it reaches the core

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-inbox/internal/chat"
)

const defaultTimeout = 15 * time.Second

// StatusError is a non-2xx reply from the gateway.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Code, e.Message)
}

// Unwrap classifies the status: rejected input is a validation failure,
// anything else is retryable.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return chat.ErrValidation
	default:
		return chat.ErrNetwork
	}
}

// Client talks to the gateway on behalf of one authenticated participant.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the gateway at baseURL authenticating with
// a bearer token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "api_client")
	return c
}

// ListConversations fetches the directory of the caller. Malformed entries
// are skipped.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var body ConversationList
	if err := c.do(ctx, http.MethodGet, PathConversations, nil, nil, &body); err != nil {
		return nil, err
	}
	out := make([]chat.Conversation, 0, len(body.Conversations))
	for _, w := range body.Conversations {
		conv, err := w.Decode()
		if err != nil {
			c.logger.Warn("skipping malformed conversation", "conversation_id", w.ID, "error", err)
			continue
		}
		out = append(out, conv)
	}
	return out, nil
}

// GetMessages loads the history selected by q.
func (c *Client) GetMessages(ctx context.Context, q chat.HistoryQuery) ([]chat.Message, error) {
	params := url.Values{}
	if q.Job.Valid() {
		params.Set("job_id", strconv.FormatInt(int64(q.Job), 10))
	}
	switch {
	case q.Counterparty.IsCustomer():
		params.Set("customer_id", strconv.FormatInt(q.Counterparty.ID(), 10))
	case q.Counterparty.IsProvider():
		params.Set("provider_id", strconv.FormatInt(q.Counterparty.ID(), 10))
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: history query needs a job or a counterparty", chat.ErrValidation)
	}

	var body MessageList
	if err := c.do(ctx, http.MethodGet, PathMessages, params, nil, &body); err != nil {
		return nil, err
	}
	return c.decodeMessages(body.Messages), nil
}

// Send posts a message and returns the stored copy with its server id.
func (c *Client) Send(ctx context.Context, req chat.SendRequest) (chat.Message, error) {
	if err := req.Validate(); err != nil {
		return chat.Message{}, err
	}
	var w chat.WireMessage
	if err := c.do(ctx, http.MethodPost, PathMessages, nil, chat.EncodeSendRequest(req), &w); err != nil {
		return chat.Message{}, err
	}
	msg, err := w.Decode()
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: send response: %w", chat.ErrNetwork, err)
	}
	return msg, nil
}

// MarkRead marks ids as read in one all-or-nothing request.
func (c *Client) MarkRead(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := chat.ValidateIDs(ids); err != nil {
		return err
	}
	var res MarkReadResult
	return c.do(ctx, http.MethodPost, PathMarkRead, nil, chat.WireMarkReadRequest{MessageIDs: ids}, &res)
}

// UnreadCount returns the server-side unread total of the caller.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var body chat.WireUnreadCount
	if err := c.do(ctx, http.MethodGet, PathUnreadCount, nil, nil, &body); err != nil {
		return 0, err
	}
	return max(body.Count, 0), nil
}

// UnreadMessages lists every unread message addressed to the caller.
func (c *Client) UnreadMessages(ctx context.Context) ([]chat.Message, error) {
	var body MessageList
	if err := c.do(ctx, http.MethodGet, PathUnread, nil, nil, &body); err != nil {
		return nil, err
	}
	return c.decodeMessages(body.Messages), nil
}

// UpdateProfile sets the display metadata others see for the caller.
func (c *Client) UpdateProfile(ctx context.Context, p ProfileUpdate) error {
	if strings.TrimSpace(p.DisplayName) == "" {
		return fmt.Errorf("%w: display name is required", chat.ErrValidation)
	}
	return c.do(ctx, http.MethodPut, PathProfile, nil, p, nil)
}

// Health checks that the gateway is up. It does not need a token.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, PathHealth, nil, nil, nil)
}

func (c *Client) decodeMessages(ws []chat.WireMessage) []chat.Message {
	out := make([]chat.Message, 0, len(ws))
	for _, w := range ws {
		m, err := w.Decode()
		if err != nil {
			c.logger.Warn("skipping malformed message", "message_id", w.ID, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, in, out any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", chat.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s %s: %w", chat.ErrNetwork, method, path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errResp ErrorResponse
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return &StatusError{Code: resp.StatusCode, Message: errResp.Error}
	}
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
