// Package api is the HTTP client of the Wisdm REST API: comment thread pages,
// comment writes and the notification list.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wisdm-app/threadsync/pkg/auth"
	"github.com/wisdm-app/threadsync/pkg/notify"
	"github.com/wisdm-app/threadsync/pkg/thread"
)

const (
	commentThreadPath     = "/comments/get/get_comment_thread"
	createCommentPath     = "/comments/post/comment"
	updateCommentPath     = "/comments/put/comment"
	deleteCommentPath     = "/comments/delete/comment"
	notificationsPath     = "/notifications/get/notifications"
	markAllReadPath       = "/notifications/mark_all_read"
	defaultRequestTimeout = 20 * time.Second
)

// APIError is a non-2xx response
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

type apiErrorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Client talks to the REST API. Requests are not retried.
type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
	logger     *log.Logger
}

// NewClient creates a client for baseURL, e.g. https://api.wisdm.app/api.
// tokens may be nil for anonymous access.
func NewClient(baseURL string, tokens auth.TokenSource) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: normalized,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}, nil
}

// NormalizeBaseURL trims whitespace and trailing slashes and requires a scheme
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("api url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("api url must use http or https: %q", raw)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("api url missing host: %q", raw)
	}
	return strings.TrimRight(value, "/"), nil
}

// SetHTTPClient replaces the HTTP client
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// SetLogger sets a logger for requests
func (c *Client) SetLogger(logger *log.Logger) {
	c.logger = logger
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// FetchCommentThread loads one page of a comment thread
func (c *Client) FetchCommentThread(ctx context.Context, threadID, startID string, filters thread.Filters) (*thread.Page, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread id cannot be empty")
	}
	if startID == "" {
		startID = threadID
	}
	if filters.Limit <= 0 {
		filters.Limit = thread.DefaultPageSize
	}
	if filters.ReferenceType == "" {
		filters.ReferenceType = thread.DefaultReferenceType
	}

	query := url.Values{}
	query.Set("thread_id", threadID)
	query.Set("start_id", startID)
	query.Set("order_by", filters.OrderBy.String())
	query.Set("offset", strconv.Itoa(filters.Offset))
	query.Set("limit", strconv.Itoa(filters.Limit))
	query.Set("reference_type", filters.ReferenceType)

	var page thread.Page
	if err := c.doJSON(ctx, http.MethodGet, commentThreadPath, query, nil, &page); err != nil {
		return nil, err
	}
	if page.CommentsByParent == nil {
		page.CommentsByParent = map[string][]*thread.Patch{}
	}
	return &page, nil
}

// CreateComment posts a new comment. An empty or root parent posts a
// top-level comment.
func (c *Client) CreateComment(ctx context.Context, in thread.CommentInput) (*thread.Patch, error) {
	if in.ThreadID == "" {
		return nil, fmt.Errorf("thread id cannot be empty")
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, fmt.Errorf("comment body cannot be empty")
	}
	if in.ParentID == "" || in.ParentID == thread.RootParent {
		in.ParentID = in.ThreadID
	}

	var record thread.Patch
	if err := c.doJSON(ctx, http.MethodPost, createCommentPath, nil, in, &record); err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, fmt.Errorf("create comment response: %w", thread.ErrMissingID)
	}
	return &record, nil
}

// UpdateComment replaces the body of a comment. When the server answers
// without a record the returned patch carries just the new body.
func (c *Client) UpdateComment(ctx context.Context, id, body string) (*thread.Patch, error) {
	if id == "" {
		return nil, fmt.Errorf("comment id cannot be empty")
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("comment body cannot be empty")
	}

	req := struct {
		ID   string `json:"id"`
		Body string `json:"body"`
	}{ID: id, Body: body}

	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPut, updateCommentPath, nil, req, &raw); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if record, err := thread.DecodePatch(raw); err == nil {
			return record, nil
		}
	}
	return &thread.Patch{ID: id, Body: &body}, nil
}

// DeleteComment deletes a comment
func (c *Client) DeleteComment(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("comment id cannot be empty")
	}
	query := url.Values{}
	query.Set("id", id)
	return c.doJSON(ctx, http.MethodDelete, deleteCommentPath, query, nil, nil)
}

// FetchNotifications loads a page of the user's notifications, newest first
func (c *Client) FetchNotifications(ctx context.Context, offset, limit int) ([]notify.Notification, error) {
	if limit <= 0 {
		limit = thread.DefaultPageSize
	}
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Notifications map[string]notify.Notification `json:"notifications"`
	}
	if err := c.doJSON(ctx, http.MethodGet, notificationsPath, query, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]notify.Notification, 0, len(resp.Notifications))
	for _, n := range resp.Notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// MarkAllNotificationsRead marks every notification read on the server
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPut, markAllReadPath, nil, struct{}{}, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody any, respBody any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logf("%s %s", method, path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload apiErrorPayload
		if err := json.Unmarshal(respData, &payload); err == nil {
			apiErr.Message = payload.Message
			if apiErr.Message == "" {
				apiErr.Message = payload.Error
			}
		} else {
			apiErr.Message = strings.TrimSpace(string(respData))
		}
		return apiErr
	}

	if respBody == nil || len(respData) == 0 {
		return nil
	}
	if err := json.Unmarshal(respData, respBody); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// token returns the bearer token; requests go out anonymous without one
func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	token, err := c.tokens.Token(ctx)
	if errors.Is(err, auth.ErrNoToken) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

var (
	_ thread.Fetcher = (*Client)(nil)
	_ thread.Poster  = (*Client)(nil)
)
