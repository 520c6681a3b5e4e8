package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdm-app/threadsync/pkg/auth"
	"github.com/wisdm-app/threadsync/pkg/thread"
)

const threadResponse = `{
	"start_id": "T1",
	"root_comment_count": 2,
	"comments_by_parent": {
		"T1": [
			{"id":"c2","parent_id":"T1","thread_id":"T1","body":"second","created_at":"2026-01-01T00:00:02Z","comment_count":1,"vote":true},
			{"id":"c1","parent_id":"T1","thread_id":"T1","body":"first","created_at":"2026-01-01T00:00:01Z"}
		],
		"c2": [
			{"id":"r1","parent_id":"c2","thread_id":"T1","body":"reply","created_at":"2026-01-01T00:00:03Z"}
		]
	}
}`

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/api/", auth.NewStaticTokenSource("tok"))
	require.NoError(t, err)
	return c
}

func TestFetchCommentThread(t *testing.T) {
	var got *http.Request
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(threadResponse))
	})

	page, err := c.FetchCommentThread(context.Background(), "T1", "", thread.Filters{
		OrderBy: thread.SortAsc,
		Offset:  40,
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/api/comments/get/get_comment_thread", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "T1", q.Get("thread_id"))
	assert.Equal(t, "T1", q.Get("start_id"))
	assert.Equal(t, "ASC", q.Get("order_by"))
	assert.Equal(t, "40", q.Get("offset"))
	assert.Equal(t, "20", q.Get("limit"))
	assert.Equal(t, "timelines", q.Get("reference_type"))
	assert.Equal(t, "Bearer tok", got.Header.Get("Authorization"))

	assert.Equal(t, 3, page.Len())
	require.NotNil(t, page.RootCommentCount)
	assert.Equal(t, 2, *page.RootCommentCount)
	roots := page.CommentsByParent["T1"]
	require.Len(t, roots, 2)
	assert.Equal(t, "c2", roots[0].ID)
	require.NotNil(t, roots[0].ViewerVote)
	assert.Equal(t, thread.VoteUp, *roots[0].ViewerVote)
	require.NotNil(t, roots[0].ChildCount)
	assert.Equal(t, 1, *roots[0].ChildCount)
}

func TestFetchCommentThreadDefaults(t *testing.T) {
	var query map[string][]string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_, _ = w.Write([]byte(`{}`))
	})

	page, err := c.FetchCommentThread(context.Background(), "T1", "c7", thread.DefaultFilters())
	require.NoError(t, err)
	assert.NotNil(t, page.CommentsByParent)
	assert.Nil(t, page.RootCommentCount)

	assert.Equal(t, []string{"c7"}, query["start_id"])
	assert.Equal(t, []string{"DESC"}, query["order_by"])
	assert.Equal(t, []string{"0"}, query["offset"])

	_, err = c.FetchCommentThread(context.Background(), "", "", thread.DefaultFilters())
	assert.Error(t, err)
}

func TestFetchCommentThreadErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"json message", http.StatusNotFound, `{"message":"thread not found"}`, "thread not found"},
		{"json error", http.StatusForbidden, `{"error":"forbidden"}`, "forbidden"},
		{"plain text", http.StatusBadGateway, "upstream down\n", "upstream down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.FetchCommentThread(context.Background(), "T1", "", thread.DefaultFilters())
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}

	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"comments_by_parent": [1, 2]}`))
	})
	_, err := c.FetchCommentThread(context.Background(), "T1", "", thread.DefaultFilters())
	assert.ErrorContains(t, err, "failed to decode")
}

func TestFetchCommentThreadCancelled(t *testing.T) {
	release := make(chan struct{})
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.FetchCommentThread(ctx, "T1", "", thread.DefaultFilters())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenHandling(t *testing.T) {
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// Without a token the request is anonymous
	c, err := NewClient(srv.URL, auth.NewStaticTokenSource(""))
	require.NoError(t, err)
	_, err = c.FetchCommentThread(context.Background(), "T1", "", thread.DefaultFilters())
	require.NoError(t, err)
	assert.Empty(t, header)

	boom := errors.New("keychain locked")
	c, err = NewClient(srv.URL, auth.TokenFunc(func(ctx context.Context) (string, error) {
		return "", boom
	}))
	require.NoError(t, err)
	_, err = c.FetchCommentThread(context.Background(), "T1", "", thread.DefaultFilters())
	assert.ErrorIs(t, err, boom)
}

func TestFetchNotifications(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notifications/get/notifications", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"notifications": {
			"a": {"id":"a","action":"replied","username":"bo","created_at":"2026-01-01T00:00:01Z"},
			"b": {"id":"b","action":"voted","username":"cy","created_at":"2026-01-01T00:00:09Z","is_read":true}
		}}`))
	})

	list, err := c.FetchNotifications(context.Background(), 0, 5)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.True(t, list[0].IsRead)
	assert.Equal(t, "a", list[1].ID)
}

func TestMarkAllNotificationsRead(t *testing.T) {
	var method, contentType string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		assert.Equal(t, "/api/notifications/mark_all_read", r.URL.Path)
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	})

	require.NoError(t, c.MarkAllNotificationsRead(context.Background()))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "application/json", contentType)
}

func TestNormalizeBaseURL(t *testing.T) {
	got, err := NormalizeBaseURL("  https://api.wisdm.app/api//  ")
	require.NoError(t, err)
	assert.Equal(t, "https://api.wisdm.app/api", got)

	for _, bad := range []string{"", "api.wisdm.app", "ftp://host", "https://"} {
		_, err := NormalizeBaseURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestCreateComment(t *testing.T) {
	var (
		method string
		body   map[string]any
	)
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		assert.Equal(t, "/api/comments/post/comment", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"id":"c9","parent_id":"T1","thread_id":"T1","body":"hello","username":"ana","created_at":"2026-01-01T00:00:05Z"}`))
	})

	record, err := c.CreateComment(context.Background(), thread.CommentInput{
		ThreadID: "T1",
		ParentID: thread.RootParent,
		Body:     "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, map[string]any{"thread_id": "T1", "parent_id": "T1", "body": "hello"}, body)

	assert.Equal(t, "c9", record.ID)
	require.NotNil(t, record.AuthorUsername)
	assert.Equal(t, "ana", *record.AuthorUsername)
	assert.Nil(t, record.ChildCount)
}

func TestCreateCommentValidation(t *testing.T) {
	calls := 0
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	_, err := c.CreateComment(context.Background(), thread.CommentInput{Body: "x"})
	assert.ErrorContains(t, err, "thread id")
	_, err = c.CreateComment(context.Background(), thread.CommentInput{ThreadID: "T1", Body: "  "})
	assert.ErrorContains(t, err, "body")
	assert.Zero(t, calls)

	// A response without a record is an error
	_, err = c.CreateComment(context.Background(), thread.CommentInput{ThreadID: "T1", Body: "x"})
	assert.ErrorIs(t, err, thread.ErrMissingID)
	assert.Equal(t, 1, calls)
}

func TestCreateCommentUnauthorized(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"login required"}`))
	})

	_, err := c.CreateComment(context.Background(), thread.CommentInput{ThreadID: "T1", Body: "x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "login required", apiErr.Message)
}

func TestUpdateComment(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantBody string
		wantUser bool
	}{
		{"record", `{"id":"c1","body":"server copy","username":"ana"}`, "server copy", true},
		{"message only", `{"message":"updated"}`, "edited", false},
		{"empty", ``, "edited", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				method string
				body   map[string]any
			)
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				method = r.Method
				assert.Equal(t, "/api/comments/put/comment", r.URL.Path)
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				_, _ = w.Write([]byte(tt.response))
			})

			record, err := c.UpdateComment(context.Background(), "c1", "edited")
			require.NoError(t, err)
			assert.Equal(t, http.MethodPut, method)
			assert.Equal(t, map[string]any{"id": "c1", "body": "edited"}, body)

			assert.Equal(t, "c1", record.ID)
			require.NotNil(t, record.Body)
			assert.Equal(t, tt.wantBody, *record.Body)
			assert.Equal(t, tt.wantUser, record.AuthorUsername != nil)
			assert.Nil(t, record.CreatedAt)
		})
	}

	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := c.UpdateComment(context.Background(), "", "x")
	assert.Error(t, err)
	_, err = c.UpdateComment(context.Background(), "c1", "")
	assert.Error(t, err)
}

func TestDeleteComment(t *testing.T) {
	var got *http.Request
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(`{"message":"deleted","id":"c1"}`))
	})

	require.NoError(t, c.DeleteComment(context.Background(), "c1"))
	require.NotNil(t, got)
	assert.Equal(t, http.MethodDelete, got.Method)
	assert.Equal(t, "/api/comments/delete/comment", got.URL.Path)
	assert.Equal(t, "c1", got.URL.Query().Get("id"))

	assert.Error(t, c.DeleteComment(context.Background(), ""))
}
