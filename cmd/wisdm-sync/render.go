package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wisdm-app/threadsync/pkg/notify"
	"github.com/wisdm-app/threadsync/pkg/thread"
)

const maxRenderDepth = 12

// treeSource is the read side of a thread view
type treeSource interface {
	Children(parentID string) []thread.Comment
	HasMore(parentID string) bool
}

// renderThread writes the loaded tree, one comment per line, replies indented
// under their parent
func renderThread(w io.Writer, src treeSource, now time.Time) {
	roots := src.Children(thread.RootParent)
	if len(roots) == 0 {
		fmt.Fprintln(w, "(no comments)")
		return
	}
	renderLevel(w, src, roots, 0, now)
	if src.HasMore(thread.RootParent) {
		fmt.Fprintln(w, "... more comments")
	}
}

func renderLevel(w io.Writer, src treeSource, comments []thread.Comment, depth int, now time.Time) {
	indent := strings.Repeat("  ", depth)
	for i := range comments {
		c := &comments[i]
		fmt.Fprintf(w, "%s%s\n", indent, formatComment(c, now))

		children := src.Children(c.ID)
		if depth+1 < maxRenderDepth && len(children) > 0 {
			renderLevel(w, src, children, depth+1, now)
		}
		if hidden := c.ChildCount - len(children); hidden > 0 {
			fmt.Fprintf(w, "%s  ... %d more %s\n", indent, hidden, plural(hidden, "reply", "replies"))
		}
	}
}

func formatComment(c *thread.Comment, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%+d", c.Score())
	switch c.ViewerVote {
	case thread.VoteUp:
		b.WriteString(" ^")
	case thread.VoteDown:
		b.WriteString(" v")
	}
	if c.PendingVoteAck {
		b.WriteString(" *")
	}
	b.WriteString("] ")

	author := c.AuthorUsername
	if author == "" {
		author = "anonymous"
	}
	fmt.Fprintf(&b, "%s (%s): ", author, relativeTime(c.CreatedAt, now))

	if c.IsDeleted {
		b.WriteString("[deleted]")
	} else {
		b.WriteString(strings.Join(strings.Fields(c.Body), " "))
	}
	return b.String()
}

func formatNotification(n notify.Notification, now time.Time) string {
	marker := "*"
	if n.IsRead {
		marker = " "
	}
	line := fmt.Sprintf("%s %s (%s)", marker, n.Text(), relativeTime(n.CreatedAt, now))
	if n.Path != "" {
		line += " " + n.Path
	}
	return line
}

func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
	return t.Local().Format("2006-01-02")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
