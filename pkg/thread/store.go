package thread

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/wisdm-app/threadsync/pkg/metrics"
)

// Ticket identifies the view that opened a tree and the sort generation it
// saw. Fetch results carry the ticket they were issued under; results whose
// ticket no longer matches are discarded.
type Ticket struct {
	ThreadID   string
	ViewID     string
	Generation uint64
}

// ChangeKind describes a store mutation
type ChangeKind int

const (
	ChangeOpened ChangeKind = iota
	ChangePage
	ChangeInserted
	ChangeUpdated
	ChangeVote
	ChangeSortMode
	ChangeReset
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeOpened:
		return "opened"
	case ChangePage:
		return "page"
	case ChangeInserted:
		return "inserted"
	case ChangeUpdated:
		return "updated"
	case ChangeVote:
		return "vote"
	case ChangeSortMode:
		return "sort_mode"
	case ChangeReset:
		return "reset"
	}
	return "unknown"
}

// Change is delivered to observers after every mutation
type Change struct {
	Kind      ChangeKind
	ThreadID  string
	ParentID  string
	CommentID string
}

type activeTree struct {
	tree       *Tree
	viewID     string
	generation uint64
}

type observer struct {
	id uint64
	fn func(Change)
}

// Store owns one Tree per open thread. All methods are safe for concurrent
// use; observers run after the store lock is released.
type Store struct {
	mu        sync.Mutex
	trees     map[string]*activeTree
	observers []observer
	nextObsID uint64

	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{trees: make(map[string]*activeTree)}
}

// SetLogger sets a logger for ignored events and stale results
func (s *Store) SetLogger(logger *log.Logger) {
	s.logger = logger
}

// SetMetrics enables Prometheus instrumentation
func (s *Store) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Subscribe registers fn for every change; call the returned func to stop
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextObsID++
	id := s.nextObsID
	s.observers = append(s.observers, observer{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// unlockAndNotify releases the lock and then notifies observers
func (s *Store) unlockAndNotify(changes ...Change) {
	observers := make([]observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, c := range changes {
		for _, o := range observers {
			o.fn(c)
		}
	}
}

// Open creates a fresh tree for threadID, replacing any existing one
func (s *Store) Open(threadID string, mode SortMode) Ticket {
	s.mu.Lock()
	at := &activeTree{
		tree:       NewTree(threadID, mode),
		viewID:     uuid.NewString(),
		generation: 1,
	}
	s.trees[threadID] = at
	ticket := Ticket{ThreadID: threadID, ViewID: at.viewID, Generation: at.generation}
	s.unlockAndNotify(Change{Kind: ChangeOpened, ThreadID: threadID})
	return ticket
}

// Current reports whether ticket still matches the open tree
func (s *Store) Current(ticket Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches(ticket)
}

func (s *Store) matches(ticket Ticket) bool {
	at, ok := s.trees[ticket.ThreadID]
	return ok && at.viewID == ticket.ViewID && at.generation == ticket.Generation
}

// ApplyFetchedPage merges a page of children of parentID into an open tree.
// Unknown threads are ignored.
func (s *Store) ApplyFetchedPage(threadID, parentID string, comments []Comment, isReset bool) {
	s.mu.Lock()
	at, ok := s.trees[threadID]
	if !ok {
		s.mu.Unlock()
		s.logf("Ignoring page for unknown thread %s", threadID)
		return
	}
	at.tree.ApplyPage(parentID, comments, isReset)
	parentID = normalizeParent(parentID, threadID)
	s.unlockAndNotify(Change{Kind: ChangePage, ThreadID: threadID, ParentID: parentID})
}

// ApplyFetchedResult applies a fetch response if ticket is still current.
// The requested parent's group is applied first with isReset; other groups
// in the page are merged. Returns false when the result was stale.
func (s *Store) ApplyFetchedResult(ticket Ticket, parentID string, page *Page, isReset bool) bool {
	s.mu.Lock()
	if !s.matches(ticket) {
		s.mu.Unlock()
		s.logf("Discarding stale page for thread %s parent %s", ticket.ThreadID, parentID)
		if s.metrics != nil {
			s.metrics.RecordFetchedPage("stale")
		}
		return false
	}

	tree := s.trees[ticket.ThreadID].tree
	parentID = normalizeParent(parentID, ticket.ThreadID)
	changes := []Change{}

	if page != nil {
		groups := page.groups(ticket.ThreadID)
		tree.ApplyPatches(parentID, groups[parentID], isReset)
		changes = append(changes, Change{Kind: ChangePage, ThreadID: ticket.ThreadID, ParentID: parentID})

		for _, other := range sortedKeys(groups) {
			if other == parentID {
				continue
			}
			tree.ApplyPatches(other, groups[other], false)
			changes = append(changes, Change{Kind: ChangePage, ThreadID: ticket.ThreadID, ParentID: other})
		}
		if page.RootCommentCount != nil {
			tree.SetRootCommentCount(*page.RootCommentCount)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordFetchedPage("applied")
	}
	s.unlockAndNotify(changes...)
	return true
}

// ApplyRealtimeEvent applies a pushed event. Malformed events and events for
// unknown threads or comments are ignored.
func (s *Store) ApplyRealtimeEvent(ev Event) {
	if ev.Comment == nil || ev.Comment.ID == "" {
		s.logf("Ignoring %s event without comment id", ev.Kind)
		s.recordEvent(ev.Kind, "malformed")
		return
	}

	threadID := ev.threadID()
	s.mu.Lock()
	at, ok := s.trees[threadID]
	if !ok {
		s.mu.Unlock()
		s.logf("Ignoring %s event for thread %q that is not open", ev.Kind, threadID)
		s.recordEvent(ev.Kind, "unknown_thread")
		return
	}

	_, existed := at.tree.byID[ev.Comment.ID]
	if !at.tree.ApplyEvent(ev) {
		s.mu.Unlock()
		s.recordEvent(ev.Kind, "unknown_target")
		return
	}

	c := at.tree.byID[ev.Comment.ID]
	change := Change{ThreadID: threadID, ParentID: c.ParentID, CommentID: c.ID}
	switch {
	case ev.Kind == EventNewComment && !existed:
		change.Kind = ChangeInserted
	case ev.Kind == EventVoteChanged:
		change.Kind = ChangeVote
	default:
		change.Kind = ChangeUpdated
	}
	s.unlockAndNotify(change)
	s.recordEvent(ev.Kind, "applied")
}

// ApplyPostedComment inserts a comment the viewer just created, the way a
// new comment push would. The server's own push of it later merges into the
// same record. Returns false if the thread is not open.
func (s *Store) ApplyPostedComment(threadID string, record *Patch) (Comment, bool) {
	if record == nil || record.ID == "" {
		return Comment{}, false
	}

	s.mu.Lock()
	at, ok := s.trees[threadID]
	if !ok {
		s.mu.Unlock()
		return Comment{}, false
	}

	_, existed := at.tree.byID[record.ID]
	at.tree.ApplyEvent(Event{Kind: EventNewComment, ThreadID: threadID, Comment: record})
	c := *at.tree.byID[record.ID]

	change := Change{Kind: ChangeInserted, ThreadID: threadID, ParentID: c.ParentID, CommentID: c.ID}
	if existed {
		change.Kind = ChangeUpdated
	}
	s.unlockAndNotify(change)
	return c, true
}

func (s *Store) recordEvent(kind EventKind, result string) {
	if s.metrics != nil {
		s.metrics.RecordThreadEvent(kind.String(), result)
	}
}

// GetChildren returns copies of the ordered children of parentID
func (s *Store) GetChildren(threadID, parentID string) []Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.trees[threadID]
	if !ok {
		return nil
	}
	return at.tree.Children(parentID)
}

// GetComment looks a comment up by id
func (s *Store) GetComment(threadID, id string) (Comment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.trees[threadID]
	if !ok {
		return Comment{}, false
	}
	return at.tree.Get(id)
}

// Reset discards the tree of threadID
func (s *Store) Reset(threadID string) {
	s.mu.Lock()
	if _, ok := s.trees[threadID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.trees, threadID)
	s.unlockAndNotify(Change{Kind: ChangeReset, ThreadID: threadID})
}

// Release discards the tree only if ticket's view still owns it
func (s *Store) Release(ticket Ticket) bool {
	s.mu.Lock()
	at, ok := s.trees[ticket.ThreadID]
	if !ok || at.viewID != ticket.ViewID {
		s.mu.Unlock()
		return false
	}
	delete(s.trees, ticket.ThreadID)
	s.unlockAndNotify(Change{Kind: ChangeReset, ThreadID: ticket.ThreadID})
	return true
}

// SetSortMode switches the order of an open tree. Sibling sequences and
// cursors are cleared and in-flight fetches are invalidated by a new
// generation. The returned ticket is the one to fetch with.
func (s *Store) SetSortMode(threadID string, mode SortMode) (Ticket, bool) {
	s.mu.Lock()
	at, ok := s.trees[threadID]
	if !ok {
		s.mu.Unlock()
		return Ticket{}, false
	}
	if !at.tree.SetSortMode(mode) {
		ticket := Ticket{ThreadID: threadID, ViewID: at.viewID, Generation: at.generation}
		s.mu.Unlock()
		return ticket, true
	}
	at.generation++
	ticket := Ticket{ThreadID: threadID, ViewID: at.viewID, Generation: at.generation}
	s.unlockAndNotify(Change{Kind: ChangeSortMode, ThreadID: threadID})
	return ticket, true
}

// MarkVotePending flags a comment as waiting for a vote echo. False when the
// comment is unknown or already pending.
func (s *Store) MarkVotePending(threadID, id string) bool {
	s.mu.Lock()
	at, ok := s.trees[threadID]
	if !ok || !at.tree.MarkVotePending(id) {
		s.mu.Unlock()
		return false
	}
	parent := at.tree.byID[id].ParentID
	s.unlockAndNotify(Change{Kind: ChangeVote, ThreadID: threadID, ParentID: parent, CommentID: id})
	return true
}

// ClearVotePending clears the pending flag of a comment
func (s *Store) ClearVotePending(threadID, id string) {
	s.mu.Lock()
	at, ok := s.trees[threadID]
	if !ok || !at.tree.ClearVotePending(id) {
		s.mu.Unlock()
		return
	}
	parent := at.tree.byID[id].ParentID
	s.unlockAndNotify(Change{Kind: ChangeVote, ThreadID: threadID, ParentID: parent, CommentID: id})
}

// NextOffset returns the offset of the next page of children of parentID
func (s *Store) NextOffset(threadID, parentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.trees[threadID]
	if !ok {
		return 0
	}
	return at.tree.NextOffset(parentID)
}

// HasMore reports whether more children of parentID can be fetched
func (s *Store) HasMore(threadID, parentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.trees[threadID]
	if !ok {
		return false
	}
	return at.tree.HasMore(parentID)
}

// RootCommentCount returns the server's top-level count for a thread
func (s *Store) RootCommentCount(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.trees[threadID]
	if !ok {
		return 0
	}
	return at.tree.RootCommentCount()
}

// CommentCountTotal returns the server's total comment count for a thread
func (s *Store) CommentCountTotal(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.trees[threadID]
	if !ok {
		return 0
	}
	return at.tree.CommentCountTotal()
}

// SortMode returns the sort mode of an open thread
func (s *Store) SortMode(threadID string) (SortMode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.trees[threadID]
	if !ok {
		return SortDesc, false
	}
	return at.tree.SortMode(), true
}

// IsOpen reports whether a tree exists for threadID
func (s *Store) IsOpen(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.trees[threadID]
	return ok
}
