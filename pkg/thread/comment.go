// Package thread keeps the client-side comment trees of the threads being
// viewed and merges paginated fetches with out-of-order real-time pushes.
package thread

import (
	"fmt"
	"strings"
	"time"
)

// RootParent is the parent id of top-level comments
const RootParent = "root"

// Vote is the viewing user's vote on a comment
type Vote int8

const (
	VoteNone Vote = iota
	VoteUp
	VoteDown
)

func (v Vote) String() string {
	switch v {
	case VoteUp:
		return "up"
	case VoteDown:
		return "down"
	}
	return "none"
}

// Wire returns the wire form: true, false or nil
func (v Vote) Wire() *bool {
	switch v {
	case VoteUp:
		b := true
		return &b
	case VoteDown:
		b := false
		return &b
	}
	return nil
}

// VoteFromWire converts the wire form back
func VoteFromWire(b *bool) Vote {
	if b == nil {
		return VoteNone
	}
	if *b {
		return VoteUp
	}
	return VoteDown
}

// ParseVote parses up, down or none
func ParseVote(s string) (Vote, error) {
	switch strings.ToLower(s) {
	case "up", "true", "+1":
		return VoteUp, nil
	case "down", "false", "-1":
		return VoteDown, nil
	case "none", "null", "", "0":
		return VoteNone, nil
	}
	return VoteNone, fmt.Errorf("invalid vote %q", s)
}

// SortMode orders siblings by creation time
type SortMode int

const (
	SortDesc SortMode = iota
	SortAsc
)

// String returns the order_by query value
func (m SortMode) String() string {
	if m == SortAsc {
		return "ASC"
	}
	return "DESC"
}

// ParseSortMode accepts asc/desc in any case
func ParseSortMode(s string) (SortMode, error) {
	switch strings.ToUpper(s) {
	case "ASC", "OLDEST":
		return SortAsc, nil
	case "DESC", "NEWEST", "":
		return SortDesc, nil
	}
	return SortDesc, fmt.Errorf("invalid sort mode %q", s)
}

// Comment is one node of a thread
type Comment struct {
	ID             string
	ParentID       string
	ThreadID       string
	Body           string
	AuthorUsername string
	CreatedAt      time.Time

	UpvoteCount   int
	DownvoteCount int
	ViewerVote    Vote

	// ChildCount is the server's count of replies under this comment
	ChildCount int
	IsDeleted  bool

	// PendingVoteAck is set while a local vote waits for the server echo.
	// It is local state and never comes from the server.
	PendingVoteAck bool
}

// IsRoot reports whether the comment is top-level
func (c *Comment) IsRoot() bool {
	return c.ParentID == RootParent
}

// Score is upvotes minus downvotes
func (c *Comment) Score() int {
	return c.UpvoteCount - c.DownvoteCount
}

// normalizeParent maps the wire forms of "no parent" onto RootParent
func normalizeParent(parentID, threadID string) string {
	if parentID == "" || parentID == RootParent || parentID == threadID {
		return RootParent
	}
	return parentID
}

// before reports whether a sorts before b in ascending (CreatedAt, ID) order
func before(a, b *Comment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// precedes reports whether a is placed before b among siblings in mode
func precedes(a, b *Comment, mode SortMode) bool {
	if mode == SortDesc {
		return before(b, a)
	}
	return before(a, b)
}
