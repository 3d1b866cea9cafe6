package forumapi

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

	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/chat"
)

// DefaultRequestTimeout bounds every call unless configured otherwise.
const DefaultRequestTimeout = 15 * time.Second

// StatusError is a non-2xx answer from the forum.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("forum returned %d", e.Code)
	}
	return fmt.Sprintf("forum returned %d: %s", e.Code, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// Client calls the forum's chat REST endpoints.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a client for the forum at cfg.BaseURL.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("forum base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		timeout:    cfg.RequestTimeout,
		httpClient: cfg.HTTPClient,
		logger:     logger,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("forum request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb ErrorBody
		_ = json.Unmarshal(data, &eb)
		return &StatusError{Code: resp.StatusCode, Message: eb.Error}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// FetchMessages returns one page of history with peer, newest first,
// strictly older than cursor unless cursor is zero.
func (c *Client) FetchMessages(ctx context.Context, peer int64, cursor chat.Cursor, limit int) (chat.MessagePage, error) {
	q := url.Values{}
	q.Set("peer_id", strconv.FormatInt(peer, 10))
	if !cursor.IsZero() {
		q.Set("cursor", cursor.String())
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var body MessagePageBody
	if err := c.do(ctx, http.MethodGet, "/api/chat/messages", q, nil, &body); err != nil {
		return chat.MessagePage{}, err
	}
	next, err := chat.ParseCursor(body.NextCursor)
	if err != nil {
		return chat.MessagePage{}, err
	}
	return chat.MessagePage{Messages: body.Messages, NextCursor: next, HasMore: body.HasMore}, nil
}

// SendMessage posts a message and returns the canonical copy.
func (c *Client) SendMessage(ctx context.Context, req chat.SendRequest) (chat.Message, error) {
	in := SendBody{To: req.To, Kind: req.Kind, Body: req.Body, ClientToken: req.ClientToken}
	if in.Kind == "" {
		in.Kind = chat.KindText
	}
	var out MessageBody
	if err := c.do(ctx, http.MethodPost, "/api/chat/messages", nil, in, &out); err != nil {
		return chat.Message{}, err
	}
	return out.Message, nil
}

// RecallMessage asks the forum to recall message id.
func (c *Client) RecallMessage(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, "/api/chat/messages/"+strconv.FormatInt(id, 10)+"/recall", nil, nil, nil)
}

// FetchThreads returns one page of thread summaries.
func (c *Client) FetchThreads(ctx context.Context, cursor string, limit int) (chat.ThreadPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var body ThreadPageBody
	if err := c.do(ctx, http.MethodGet, "/api/chat/threads", q, nil, &body); err != nil {
		return chat.ThreadPage{}, err
	}
	return chat.ThreadPage{Threads: body.Threads, NextCursor: body.NextCursor, HasMore: body.HasMore}, nil
}

// Presence looks up the presence of ids in one round trip.
func (c *Client) Presence(ctx context.Context, ids []int64) ([]chat.PresenceState, error) {
	var body PresenceBody
	if err := c.do(ctx, http.MethodPost, "/api/chat/presence", nil, PresenceRequestBody{UserIDs: ids}, &body); err != nil {
		return nil, err
	}
	return body.Presence, nil
}

// User returns the public profile of user id.
func (c *Client) User(ctx context.Context, id int64) (chat.Profile, error) {
	var p chat.Profile
	if err := c.do(ctx, http.MethodGet, "/api/users/"+strconv.FormatInt(id, 10), nil, nil, &p); err != nil {
		return chat.Profile{}, err
	}
	return p, nil
}

// Me returns the profile the token belongs to.
func (c *Client) Me(ctx context.Context) (chat.Profile, error) {
	var p chat.Profile
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, nil, &p); err != nil {
		return chat.Profile{}, err
	}
	return p, nil
}
