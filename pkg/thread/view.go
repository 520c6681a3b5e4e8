package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/wisdm-app/threadsync/pkg/auth"
	"github.com/wisdm-app/threadsync/pkg/client"
	"github.com/wisdm-app/threadsync/pkg/protocol"
)

var (
	ErrVotePending     = errors.New("vote already pending")
	ErrViewClosed      = errors.New("thread view closed")
	ErrCommentNotFound = errors.New("comment not found")
	ErrVoteNotSent     = errors.New("vote not sent: not connected")
	ErrEmptyComment    = errors.New("comment body is empty")
	ErrCannotPost      = errors.New("comment source cannot post")
)

// RoomConn is the part of the connection manager a view uses
type RoomConn interface {
	JoinRoom(name string)
	LeaveRoom(name string)
	On(kind client.MessageKind, handler client.Handler) (client.ListenerID, error)
	Off(kind client.MessageKind, id client.ListenerID)
	Emit(event string, payload any) bool
}

// ViewOptions configures a View
type ViewOptions struct {
	// Room defaults to the thread id
	Room string
	// StartID is the comment whose replies form the top level; defaults to the thread id
	StartID       string
	SortMode      SortMode
	PageSize      int
	ReferenceType string
	// Path is sent with votes so the server can build notification links
	Path   string
	Tokens auth.TokenSource
}

// View drives one thread on screen: it owns the room membership, the push
// listeners and the fetches of that thread.
type View struct {
	threadID string
	opts     ViewOptions
	store    *Store
	conn     RoomConn
	fetcher  Fetcher

	mu        sync.Mutex
	ticket    Ticket
	listeners map[client.MessageKind]client.ListenerID
	ctx       context.Context
	cancel    context.CancelFunc
	opened    bool
	closed    bool

	logger *log.Logger
}

// NewView creates a view; nothing happens until Open
func NewView(threadID string, store *Store, conn RoomConn, fetcher Fetcher, opts ViewOptions) *View {
	if opts.Room == "" {
		opts.Room = threadID
	}
	if opts.StartID == "" {
		opts.StartID = threadID
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.ReferenceType == "" {
		opts.ReferenceType = DefaultReferenceType
	}
	return &View{
		threadID:  threadID,
		opts:      opts,
		store:     store,
		conn:      conn,
		fetcher:   fetcher,
		listeners: make(map[client.MessageKind]client.ListenerID),
	}
}

// SetLogger sets a logger for view events
func (v *View) SetLogger(logger *log.Logger) {
	v.logger = logger
}

func (v *View) logf(format string, args ...interface{}) {
	if v.logger != nil {
		v.logger.Printf(format, args...)
	}
}

// ThreadID returns the viewed thread
func (v *View) ThreadID() string {
	return v.threadID
}

// Open creates the tree, joins the thread room, starts listening and loads
// the first page of top-level comments
func (v *View) Open(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	if v.opened {
		v.mu.Unlock()
		return nil
	}
	v.opened = true
	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.ticket = v.store.Open(v.threadID, v.opts.SortMode)
	v.mu.Unlock()

	v.conn.JoinRoom(v.opts.Room)
	if err := v.listen(); err != nil {
		return err
	}

	return v.fetch(ctx, RootParent, 0, true)
}

func (v *View) listen() error {
	handlers := map[client.MessageKind]client.Handler{
		client.MessageNewComment:     v.push(EventNewComment, DecodeNewCommentEvent),
		client.MessageCommentUpdated: v.push(EventCommentUpdated, DecodeCommentUpdateEvent),
		client.MessageVoteChanged:    v.push(EventVoteChanged, DecodeVoteUpdateEvent),
	}

	for _, kind := range []client.MessageKind{
		client.MessageNewComment,
		client.MessageCommentUpdated,
		client.MessageVoteChanged,
	} {
		id, err := v.conn.On(kind, handlers[kind])
		if err != nil {
			return fmt.Errorf("failed to listen for %s: %w", kind, err)
		}
		v.mu.Lock()
		v.listeners[kind] = id
		v.mu.Unlock()
	}
	return nil
}

// push adapts a payload decoder into a listener feeding the store
func (v *View) push(kind EventKind, decode func(json.RawMessage) (Event, error)) client.Handler {
	return func(payload json.RawMessage) {
		ev, err := decode(payload)
		if err != nil {
			v.logf("Ignoring malformed push for thread %s: %v", v.threadID, err)
			v.store.recordEvent(kind, "malformed")
			return
		}
		if ev.threadID() == "" {
			ev.ThreadID = v.threadID
		}
		if ev.threadID() != v.threadID {
			return
		}
		v.store.ApplyRealtimeEvent(ev)
	}
}

// LoadMore fetches the next page of children of parentID
func (v *View) LoadMore(ctx context.Context, parentID string) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	parentID = normalizeParent(parentID, v.threadID)
	offset := v.store.NextOffset(v.threadID, parentID)
	return v.fetch(ctx, parentID, offset, false)
}

// SetSortMode switches the order and reloads the top level
func (v *View) SetSortMode(ctx context.Context, mode SortMode) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	ticket, ok := v.store.SetSortMode(v.threadID, mode)
	if !ok {
		return ErrViewClosed
	}

	v.mu.Lock()
	changed := ticket != v.ticket
	v.ticket = ticket
	v.opts.SortMode = mode
	v.mu.Unlock()

	if !changed {
		return nil
	}
	return v.fetch(ctx, RootParent, 0, true)
}

// Refresh reloads the first page of top-level comments
func (v *View) Refresh(ctx context.Context) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	return v.fetch(ctx, RootParent, 0, true)
}

func (v *View) checkOpen() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || !v.opened {
		return ErrViewClosed
	}
	return nil
}

// fetch loads one page under the current ticket. Results that arrive after
// the view closed or switched order are dropped without error.
func (v *View) fetch(ctx context.Context, parentID string, offset int, reset bool) error {
	v.mu.Lock()
	ticket := v.ticket
	viewCtx := v.ctx
	mode := v.opts.SortMode
	v.mu.Unlock()

	// Closing the view cancels the request too
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(viewCtx, cancel)
	defer stop()

	startID := parentID
	if parentID == RootParent {
		startID = v.opts.StartID
	}

	page, err := v.fetcher.FetchCommentThread(ctx, v.threadID, startID, Filters{
		OrderBy:       mode,
		Offset:        offset,
		Limit:         v.opts.PageSize,
		ReferenceType: v.opts.ReferenceType,
	})
	if err != nil {
		if viewCtx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to fetch thread %s (parent %s, offset %d): %w", v.threadID, parentID, offset, err)
	}

	if !v.store.ApplyFetchedResult(ticket, parentID, page, reset) {
		v.logf("Dropped stale page for thread %s parent %s", v.threadID, parentID)
	}
	return nil
}

// CastVote sends the viewer's vote on a comment. Only one vote per comment
// may be in flight; the flag clears when the server echoes the vote.
func (v *View) CastVote(ctx context.Context, commentID string, vote Vote) error {
	if err := v.checkOpen(); err != nil {
		return err
	}

	c, ok := v.store.GetComment(v.threadID, commentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCommentNotFound, commentID)
	}
	if c.PendingVoteAck {
		return ErrVotePending
	}

	token, err := auth.ValidToken(ctx, v.opts.Tokens)
	if err != nil {
		return fmt.Errorf("cannot vote: %w", err)
	}

	if !v.store.MarkVotePending(v.threadID, commentID) {
		return ErrVotePending
	}

	msg := protocol.VoteUpdateMessage{
		Room:    v.opts.Room,
		Vote:    vote.Wire(),
		Comment: c,
		Path:    v.opts.Path,
		Token:   token,
	}
	if !v.conn.Emit(protocol.EventSendVoteUpdate, msg) {
		v.store.ClearVotePending(v.threadID, commentID)
		return ErrVoteNotSent
	}
	return nil
}

// PostComment creates a comment under parentID (RootParent for top level)
// and places the stored record in the tree right away. The server's push of
// the same comment merges into it.
func (v *View) PostComment(ctx context.Context, parentID, body string) (Comment, error) {
	if err := v.checkOpen(); err != nil {
		return Comment{}, err
	}
	poster, ok := v.fetcher.(Poster)
	if !ok {
		return Comment{}, ErrCannotPost
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return Comment{}, ErrEmptyComment
	}

	parentID = normalizeParent(parentID, v.threadID)
	wireParent := parentID
	if parentID == RootParent {
		wireParent = v.threadID
	}

	record, err := poster.CreateComment(ctx, CommentInput{
		ThreadID: v.threadID,
		ParentID: wireParent,
		Body:     body,
	})
	if err != nil {
		return Comment{}, fmt.Errorf("failed to post comment in thread %s: %w", v.threadID, err)
	}
	if record == nil || record.ID == "" {
		return Comment{}, fmt.Errorf("failed to post comment in thread %s: %w", v.threadID, ErrMissingID)
	}
	if record.ParentID == nil {
		record.ParentID = &wireParent
	}
	if record.ThreadID == nil {
		threadID := v.threadID
		record.ThreadID = &threadID
	}

	c, ok := v.store.ApplyPostedComment(v.threadID, record)
	if !ok {
		v.logf("Posted comment %s after thread %s closed", record.ID, v.threadID)
		c = record.Comment()
		c.ParentID = normalizeParent(c.ParentID, v.threadID)
	}
	return c, nil
}

// Children returns the ordered children of parentID
func (v *View) Children(parentID string) []Comment {
	return v.store.GetChildren(v.threadID, parentID)
}

// HasMore reports whether more children of parentID can be loaded
func (v *View) HasMore(parentID string) bool {
	return v.store.HasMore(v.threadID, parentID)
}

// Close stops listening, leaves the room and discards the tree. Fetches
// still in flight are cancelled and their results ignored.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	wasOpen := v.opened
	ticket := v.ticket
	listeners := v.listeners
	v.listeners = make(map[client.MessageKind]client.ListenerID)
	cancel := v.cancel
	v.mu.Unlock()

	if !wasOpen {
		return
	}
	cancel()
	for kind, id := range listeners {
		v.conn.Off(kind, id)
	}
	v.conn.LeaveRoom(v.opts.Room)
	v.store.Release(ticket)
}
