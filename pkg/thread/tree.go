package thread

import "sort"

// Tree is the in-memory comment tree of one thread. It is not safe for
// concurrent use; Store serializes access.
type Tree struct {
	threadID string
	mode     SortMode

	byID     map[string]*Comment
	byParent map[string][]string
	members  map[string]map[string]struct{}

	// Pagination cursors per parent, cleared by resets and sort changes
	fetched     map[string]int
	headInserts map[string]int

	// live holds ids placed by real-time pushes that no fetch has returned yet
	live map[string]map[string]struct{}

	rootCommentCount  int
	commentCountTotal int
}

// NewTree creates an empty tree
func NewTree(threadID string, mode SortMode) *Tree {
	t := &Tree{
		threadID: threadID,
		mode:     mode,
		byID:     make(map[string]*Comment),
	}
	t.clearSequences()
	return t
}

func (t *Tree) clearSequences() {
	t.byParent = make(map[string][]string)
	t.members = make(map[string]map[string]struct{})
	t.fetched = make(map[string]int)
	t.headInserts = make(map[string]int)
	t.live = make(map[string]map[string]struct{})
}

// ThreadID returns the thread the tree belongs to
func (t *Tree) ThreadID() string { return t.threadID }

// SortMode returns the current sibling order
func (t *Tree) SortMode() SortMode { return t.mode }

// RootCommentCount is the server's count of top-level comments
func (t *Tree) RootCommentCount() int { return t.rootCommentCount }

// CommentCountTotal is the server's count of all comments in the thread
func (t *Tree) CommentCountTotal() int { return t.commentCountTotal }

// Len returns the number of known comments
func (t *Tree) Len() int { return len(t.byID) }

// SetSortMode switches the order. Every sibling sequence and cursor is
// dropped; known comments stay. Returns false if the mode did not change.
func (t *Tree) SetSortMode(mode SortMode) bool {
	if mode == t.mode {
		return false
	}
	t.mode = mode
	t.clearSequences()
	return true
}

// SetRootCommentCount records the server's top-level count
func (t *Tree) SetRootCommentCount(n int) {
	t.rootCommentCount = n
}

// Get returns a copy of a comment
func (t *Tree) Get(id string) (Comment, bool) {
	c, ok := t.byID[id]
	if !ok {
		return Comment{}, false
	}
	return *c, true
}

// Children returns copies of the children of parentID in sibling order
func (t *Tree) Children(parentID string) []Comment {
	parentID = normalizeParent(parentID, t.threadID)
	ids := t.byParent[parentID]
	out := make([]Comment, 0, len(ids))
	for _, id := range ids {
		if c, ok := t.byID[id]; ok {
			out = append(out, *c)
		}
	}
	return out
}

// ChildIDs returns the ordered child ids of parentID
func (t *Tree) ChildIDs(parentID string) []string {
	parentID = normalizeParent(parentID, t.threadID)
	ids := t.byParent[parentID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// NextOffset is the offset of the next page for parentID
func (t *Tree) NextOffset(parentID string) int {
	parentID = normalizeParent(parentID, t.threadID)
	return t.fetched[parentID] + t.headInserts[parentID]
}

// HasMore reports whether the server holds children of parentID that are
// not loaded yet
func (t *Tree) HasMore(parentID string) bool {
	parentID = normalizeParent(parentID, t.threadID)
	loaded := len(t.byParent[parentID])
	if parentID == RootParent {
		return loaded < t.rootCommentCount
	}
	parent, ok := t.byID[parentID]
	if !ok {
		return false
	}
	return loaded < parent.ChildCount
}

// ApplyPage merges full fetched comments for parentID; see ApplyPatches
func (t *Tree) ApplyPage(parentID string, comments []Comment, reset bool) int {
	return t.ApplyPatches(parentID, PatchesOf(comments...), reset)
}

// ApplyPatches merges fetched records for parentID. Known comments take only
// the fields present in their record and keep their placement. With reset the
// sibling sequence is replaced by the page in server order; otherwise new ids
// are inserted at their sorted position. Comments missing from a page are
// never removed. Returns the number of records that advanced the cursor.
func (t *Tree) ApplyPatches(parentID string, records []*Patch, reset bool) int {
	parentID = normalizeParent(parentID, t.threadID)

	live := t.live[parentID]
	if reset {
		t.byParent[parentID] = nil
		t.members[parentID] = make(map[string]struct{})
		t.fetched[parentID] = 0
	}

	applied := 0
	for _, p := range records {
		if p == nil || p.ID == "" {
			continue
		}

		if existing, ok := t.byID[p.ID]; ok {
			// The pending flag survives only an echo of the same vote state
			pending := existing.PendingVoteAck && p.keepsVoteState(existing)
			t.mergeKeepingPlacement(existing, p)
			existing.ParentID = parentID
			existing.PendingVoteAck = pending
		} else {
			c := p.Comment()
			c.ParentID = parentID
			if c.ThreadID == "" {
				c.ThreadID = t.threadID
			}
			c.PendingVoteAck = false
			t.byID[c.ID] = &c
		}

		var added bool
		if reset {
			added = t.appendChild(parentID, p.ID)
		} else {
			added = t.insertChild(parentID, p.ID)
		}
		if _, ok := live[p.ID]; ok {
			// The server window now accounts for it
			delete(live, p.ID)
			if t.headInserts[parentID] > 0 {
				t.headInserts[parentID]--
			}
			added = true
		}
		if added {
			applied++
		}
	}

	// A reset keeps pushed comments the page has not caught up with yet
	if reset {
		for _, id := range t.liveInOrder(parentID) {
			t.insertChild(parentID, id)
		}
	}

	t.fetched[parentID] += applied
	return applied
}

// liveInOrder returns the live ids of parentID in ascending (CreatedAt, ID)
// order so re-insertion is deterministic
func (t *Tree) liveInOrder(parentID string) []string {
	live := t.live[parentID]
	ids := make([]string, 0, len(live))
	for id := range live {
		if _, ok := t.byID[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return before(t.byID[ids[i]], t.byID[ids[j]])
	})
	return ids
}

// ApplyEvent applies one real-time event. Events for unknown comments (other
// than new ones) and events without a comment are ignored. Returns whether
// the tree changed.
func (t *Tree) ApplyEvent(ev Event) bool {
	if ev.Comment == nil || ev.Comment.ID == "" {
		return false
	}

	switch ev.Kind {
	case EventNewComment:
		return t.applyNewComment(ev)
	case EventCommentUpdated:
		c, ok := t.byID[ev.Comment.ID]
		if !ok {
			return false
		}
		t.mergeKeepingPlacement(c, ev.Comment)
		return true
	case EventVoteChanged:
		c, ok := t.byID[ev.Comment.ID]
		if !ok {
			return false
		}
		t.mergeKeepingPlacement(c, ev.Comment)
		c.PendingVoteAck = false
		return true
	}
	return false
}

func (t *Tree) applyNewComment(ev Event) bool {
	p := ev.Comment

	if existing, ok := t.byID[p.ID]; ok {
		t.mergeKeepingPlacement(existing, p)
		t.applyCounters(ev, false)
		return true
	}

	c := p.Comment()
	c.ParentID = normalizeParent(c.ParentID, t.threadID)
	if c.ThreadID == "" {
		c.ThreadID = t.threadID
	}
	c.PendingVoteAck = false
	t.byID[c.ID] = &c

	t.insertChild(c.ParentID, c.ID)
	live, ok := t.live[c.ParentID]
	if !ok {
		live = make(map[string]struct{})
		t.live[c.ParentID] = live
	}
	live[c.ID] = struct{}{}
	if t.mode == SortDesc {
		// Newer comments shift the server's DESC offsets by one
		t.headInserts[c.ParentID]++
	}

	t.applyCounters(ev, true)
	return true
}

// applyCounters folds the parent record and thread counters of a new comment push
func (t *Tree) applyCounters(ev Event, inserted bool) {
	parentID := RootParent
	if c, ok := t.byID[ev.Comment.ID]; ok {
		parentID = c.ParentID
	}

	if ev.Parent != nil {
		if parent, ok := t.byID[ev.Parent.ID]; ok {
			t.mergeKeepingPlacement(parent, ev.Parent)
		}
	} else if inserted && parentID != RootParent {
		if parent, ok := t.byID[parentID]; ok {
			parent.ChildCount++
		}
	}

	if ev.RootCommentCount != nil {
		t.rootCommentCount = *ev.RootCommentCount
	} else if inserted && parentID == RootParent {
		t.rootCommentCount++
	}

	if ev.CommentCountTotal != nil {
		t.commentCountTotal = *ev.CommentCountTotal
	} else if inserted {
		t.commentCountTotal++
	}
}

// mergeKeepingPlacement applies a patch without moving the comment. Parent,
// thread and creation time decide placement and are fixed once known.
func (t *Tree) mergeKeepingPlacement(c *Comment, p *Patch) {
	parentID, threadID, createdAt := c.ParentID, c.ThreadID, c.CreatedAt
	p.Apply(c)
	c.ParentID, c.ThreadID = parentID, threadID
	if !createdAt.IsZero() {
		c.CreatedAt = createdAt
	}
}

// MarkVotePending sets the pending flag; false if the comment is unknown or
// already pending
func (t *Tree) MarkVotePending(id string) bool {
	c, ok := t.byID[id]
	if !ok || c.PendingVoteAck {
		return false
	}
	c.PendingVoteAck = true
	return true
}

// ClearVotePending clears the pending flag
func (t *Tree) ClearVotePending(id string) bool {
	c, ok := t.byID[id]
	if !ok || !c.PendingVoteAck {
		return false
	}
	c.PendingVoteAck = false
	return true
}

func (t *Tree) appendChild(parentID, id string) bool {
	set := t.memberSet(parentID)
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = struct{}{}
	t.byParent[parentID] = append(t.byParent[parentID], id)
	return true
}

// insertChild places id before the first sibling it precedes. Known ids keep
// their position. Returns false if id was already a sibling.
func (t *Tree) insertChild(parentID, id string) bool {
	set := t.memberSet(parentID)
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = struct{}{}

	c := t.byID[id]
	seq := t.byParent[parentID]
	pos := len(seq)
	for i, sib := range seq {
		if s, ok := t.byID[sib]; ok && precedes(c, s, t.mode) {
			pos = i
			break
		}
	}

	seq = append(seq, "")
	copy(seq[pos+1:], seq[pos:])
	seq[pos] = id
	t.byParent[parentID] = seq
	return true
}

func (t *Tree) memberSet(parentID string) map[string]struct{} {
	set, ok := t.members[parentID]
	if !ok {
		set = make(map[string]struct{})
		t.members[parentID] = set
	}
	return set
}
