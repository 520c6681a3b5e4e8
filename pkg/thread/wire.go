package thread

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrMissingID      = errors.New("comment record missing id")
	ErrMalformedEvent = errors.New("malformed real-time event")
)

// timeLayouts are tried in order when decoding created_at
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp decodes the timestamp formats the API produces: RFC 3339
// with or without zone, space separated SQL timestamps and unix milliseconds
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Patch is a partial comment record. Nil fields were absent from the wire
// record and leave the target untouched when applied.
type Patch struct {
	ID             string
	ParentID       *string
	ThreadID       *string
	Body           *string
	AuthorUsername *string
	CreatedAt      *time.Time
	UpvoteCount    *int
	DownvoteCount  *int
	ViewerVote     *Vote
	ChildCount     *int
	IsDeleted      *bool
}

// HasVoteState reports whether the patch carries the viewer's vote
func (p *Patch) HasVoteState() bool {
	return p.ViewerVote != nil
}

// Apply copies the present fields onto c
func (p *Patch) Apply(c *Comment) {
	if p.ID != "" {
		c.ID = p.ID
	}
	if p.ParentID != nil {
		c.ParentID = *p.ParentID
	}
	if p.ThreadID != nil {
		c.ThreadID = *p.ThreadID
	}
	if p.Body != nil {
		c.Body = *p.Body
	}
	if p.AuthorUsername != nil {
		c.AuthorUsername = *p.AuthorUsername
	}
	if p.CreatedAt != nil {
		c.CreatedAt = *p.CreatedAt
	}
	if p.UpvoteCount != nil {
		c.UpvoteCount = *p.UpvoteCount
	}
	if p.DownvoteCount != nil {
		c.DownvoteCount = *p.DownvoteCount
	}
	if p.ViewerVote != nil {
		c.ViewerVote = *p.ViewerVote
	}
	if p.ChildCount != nil {
		c.ChildCount = *p.ChildCount
	}
	if p.IsDeleted != nil {
		c.IsDeleted = *p.IsDeleted
	}
}

// Comment builds a full comment from the patch
func (p *Patch) Comment() Comment {
	var c Comment
	p.Apply(&c)
	return c
}

// keepsVoteState reports whether every vote field present in the patch
// matches c
func (p *Patch) keepsVoteState(c *Comment) bool {
	if p.ViewerVote != nil && *p.ViewerVote != c.ViewerVote {
		return false
	}
	if p.UpvoteCount != nil && *p.UpvoteCount != c.UpvoteCount {
		return false
	}
	if p.DownvoteCount != nil && *p.DownvoteCount != c.DownvoteCount {
		return false
	}
	return true
}

// PatchOf turns a full comment into a patch with every field present
func PatchOf(c Comment) *Patch {
	return &Patch{
		ID:             c.ID,
		ParentID:       &c.ParentID,
		ThreadID:       &c.ThreadID,
		Body:           &c.Body,
		AuthorUsername: &c.AuthorUsername,
		CreatedAt:      &c.CreatedAt,
		UpvoteCount:    &c.UpvoteCount,
		DownvoteCount:  &c.DownvoteCount,
		ViewerVote:     &c.ViewerVote,
		ChildCount:     &c.ChildCount,
		IsDeleted:      &c.IsDeleted,
	}
}

// PatchesOf converts full comments with PatchOf
func PatchesOf(comments ...Comment) []*Patch {
	out := make([]*Patch, len(comments))
	for i := range comments {
		out[i] = PatchOf(comments[i])
	}
	return out
}

// UnmarshalJSON decodes a wire record with DecodePatch
func (p *Patch) UnmarshalJSON(data []byte) error {
	decoded, err := DecodePatch(data)
	if err != nil {
		return err
	}
	*p = *decoded
	return nil
}

// DecodePatch decodes a wire comment record, keeping track of which fields
// were present. The id is required.
func DecodePatch(raw []byte) (*Patch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if fields == nil {
		return nil, ErrMissingID
	}
	return patchFromFields(fields)
}

func patchFromFields(fields map[string]json.RawMessage) (*Patch, error) {
	p := &Patch{}

	id, err := decodeID(fields["id"])
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrMissingID
	}
	p.ID = id

	if raw, ok := fields["parent_id"]; ok {
		parent, err := decodeID(raw)
		if err != nil {
			return nil, fmt.Errorf("parent_id: %w", err)
		}
		p.ParentID = &parent
	}
	if raw, ok := fields["thread_id"]; ok {
		threadID, err := decodeID(raw)
		if err != nil {
			return nil, fmt.Errorf("thread_id: %w", err)
		}
		p.ThreadID = &threadID
	}
	if p.Body, err = optional[string](fields, "body"); err != nil {
		return nil, err
	}
	if p.AuthorUsername, err = optional[string](fields, "username"); err != nil {
		return nil, err
	}
	if p.UpvoteCount, err = optional[int](fields, "upvote_count"); err != nil {
		return nil, err
	}
	if p.DownvoteCount, err = optional[int](fields, "downvote_count"); err != nil {
		return nil, err
	}
	if p.ChildCount, err = optional[int](fields, "comment_count"); err != nil {
		return nil, err
	}
	if p.IsDeleted, err = optional[bool](fields, "is_deleted"); err != nil {
		return nil, err
	}

	if raw, ok := fields["created_at"]; ok && !isNull(raw) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("created_at: %w", err)
		}
		t, err := ParseTimestamp(s)
		if err != nil {
			return nil, err
		}
		p.CreatedAt = &t
	}

	// vote is tri-state: a present null clears the vote
	if raw, ok := fields["vote"]; ok {
		var b *bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("vote: %w", err)
		}
		v := VoteFromWire(b)
		p.ViewerVote = &v
	}

	return p, nil
}

// optional decodes a field that may be absent or null
func optional[T any](fields map[string]json.RawMessage, key string) (*T, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &v, nil
}

// decodeID accepts string or numeric ids; absent and null give ""
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid id %s", raw)
	}
	return n.String(), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// wireComment is the JSON shape of a comment
type wireComment struct {
	ID            string `json:"id"`
	Body          string `json:"body"`
	CreatedAt     string `json:"created_at"`
	Username      string `json:"username,omitempty"`
	ParentID      string `json:"parent_id"`
	ThreadID      string `json:"thread_id"`
	IsDeleted     bool   `json:"is_deleted"`
	UpvoteCount   int    `json:"upvote_count"`
	DownvoteCount int    `json:"downvote_count"`
	CommentCount  int    `json:"comment_count"`
	Vote          *bool  `json:"vote"`
}

// MarshalJSON encodes the wire form. Local-only fields are not included.
func (c Comment) MarshalJSON() ([]byte, error) {
	w := wireComment{
		ID:            c.ID,
		Body:          c.Body,
		Username:      c.AuthorUsername,
		ParentID:      c.ParentID,
		ThreadID:      c.ThreadID,
		IsDeleted:     c.IsDeleted,
		UpvoteCount:   c.UpvoteCount,
		DownvoteCount: c.DownvoteCount,
		CommentCount:  c.ChildCount,
		Vote:          c.ViewerVote.Wire(),
	}
	if !c.CreatedAt.IsZero() {
		w.CreatedAt = c.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if c.ParentID == RootParent {
		w.ParentID = c.ThreadID
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a wire record
func (c *Comment) UnmarshalJSON(data []byte) error {
	p, err := DecodePatch(data)
	if err != nil {
		return err
	}
	*c = p.Comment()
	return nil
}
