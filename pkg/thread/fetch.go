package thread

import (
	"context"
	"sort"
)

const (
	DefaultPageSize      = 20
	DefaultReferenceType = "timelines"
)

// Filters are the query options of a comment thread fetch
type Filters struct {
	OrderBy       SortMode
	Offset        int
	Limit         int
	ReferenceType string
}

// DefaultFilters returns DESC, offset 0, limit 20, timelines
func DefaultFilters() Filters {
	return Filters{
		OrderBy:       SortDesc,
		Offset:        0,
		Limit:         DefaultPageSize,
		ReferenceType: DefaultReferenceType,
	}
}

// Page is one comment thread response. Records keep field presence so a
// sparse record never blanks what is already known.
type Page struct {
	StartID          string              `json:"start_id,omitempty"`
	CommentsByParent map[string][]*Patch `json:"comments_by_parent"`
	RootCommentCount *int                `json:"root_comment_count,omitempty"`
}

// Fetcher loads pages of a comment thread. startID is the comment whose
// children are requested; the thread id itself requests top-level comments.
type Fetcher interface {
	FetchCommentThread(ctx context.Context, threadID, startID string, filters Filters) (*Page, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, threadID, startID string, filters Filters) (*Page, error)

// FetchCommentThread calls f
func (f FetcherFunc) FetchCommentThread(ctx context.Context, threadID, startID string, filters Filters) (*Page, error) {
	return f(ctx, threadID, startID, filters)
}

// CommentInput is a comment to create. Top-level comments carry the thread
// id as parent.
type CommentInput struct {
	ThreadID      string `json:"thread_id"`
	ParentID      string `json:"parent_id,omitempty"`
	Body          string `json:"body"`
	ReferenceID   string `json:"reference_id,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
}

// Poster creates comments and returns the record the server stored. A
// Fetcher that also implements Poster lets a View post.
type Poster interface {
	CreateComment(ctx context.Context, in CommentInput) (*Patch, error)
}

// groups returns the page's comments keyed by normalized parent id
func (p *Page) groups(threadID string) map[string][]*Patch {
	out := make(map[string][]*Patch, len(p.CommentsByParent))
	for _, key := range sortedKeys(p.CommentsByParent) {
		parent := normalizeParent(key, threadID)
		out[parent] = append(out[parent], p.CommentsByParent[key]...)
	}
	return out
}

// Len returns the number of comments in the page
func (p *Page) Len() int {
	n := 0
	for _, group := range p.CommentsByParent {
		n += len(group)
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
