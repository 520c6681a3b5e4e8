package thread

import (
	"encoding/json"
	"fmt"
)

// EventKind is the kind of a real-time event
type EventKind int

const (
	EventNewComment EventKind = iota
	EventCommentUpdated
	EventVoteChanged
)

func (k EventKind) String() string {
	switch k {
	case EventNewComment:
		return "new_comment"
	case EventCommentUpdated:
		return "comment_updated"
	case EventVoteChanged:
		return "vote_changed"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Event is a decoded real-time push
type Event struct {
	Kind EventKind
	// ThreadID routes the event; taken from the comment when not set
	ThreadID string
	Comment  *Patch

	// Only carried by new comment pushes
	Parent            *Patch
	RootCommentCount  *int
	CommentCountTotal *int
}

// threadID returns the thread the event belongs to
func (e *Event) threadID() string {
	if e.ThreadID != "" {
		return e.ThreadID
	}
	if e.Comment != nil && e.Comment.ThreadID != nil {
		return *e.Comment.ThreadID
	}
	return ""
}

// DecodeNewCommentEvent decodes a receive_comment payload:
// {comment, parent_comment, comment_count_total, root_comment_count}
func DecodeNewCommentEvent(payload json.RawMessage) (Event, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope == nil {
		return Event{}, fmt.Errorf("%w: receive_comment payload is not an object", ErrMalformedEvent)
	}

	raw, ok := envelope["comment"]
	if !ok || isNull(raw) {
		return Event{}, fmt.Errorf("%w: receive_comment without comment", ErrMalformedEvent)
	}
	comment, err := DecodePatch(raw)
	if err != nil {
		return Event{}, err
	}

	ev := Event{Kind: EventNewComment, Comment: comment}

	if raw, ok := envelope["parent_comment"]; ok && !isNull(raw) {
		// A broken parent record does not invalidate the comment itself
		if parent, err := DecodePatch(raw); err == nil {
			ev.Parent = parent
		}
	}
	if ev.RootCommentCount, err = optional[int](envelope, "root_comment_count"); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.CommentCountTotal, err = optional[int](envelope, "comment_count_total"); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}

// DecodeCommentUpdateEvent decodes a receive_comment_update payload, a
// partial comment record. Records carrying a vote key are vote changes.
func DecodeCommentUpdateEvent(payload json.RawMessage) (Event, error) {
	p, err := DecodePatch(payload)
	if err != nil {
		return Event{}, err
	}
	kind := EventCommentUpdated
	if p.HasVoteState() {
		kind = EventVoteChanged
	}
	return Event{Kind: kind, Comment: p}, nil
}

// DecodeVoteUpdateEvent decodes a receive_vote_update payload. The record is
// accepted either bare or wrapped in a comment key.
func DecodeVoteUpdateEvent(payload json.RawMessage) (Event, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope == nil {
		return Event{}, fmt.Errorf("%w: vote update payload is not an object", ErrMalformedEvent)
	}
	if _, hasID := envelope["id"]; !hasID {
		if inner, ok := envelope["comment"]; ok {
			payload = inner
		}
	}
	p, err := DecodePatch(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: EventVoteChanged, Comment: p}, nil
}
