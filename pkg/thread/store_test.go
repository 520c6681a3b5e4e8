package thread

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdm-app/threadsync/pkg/metrics"
)

func pageOf(parent string, comments ...Comment) *Page {
	return &Page{CommentsByParent: map[string][]*Patch{parent: PatchesOf(comments...)}}
}

func TestStoreOpenAndTickets(t *testing.T) {
	s := NewStore()

	t1 := s.Open("T1", SortDesc)
	assert.Equal(t, "T1", t1.ThreadID)
	assert.NotEmpty(t, t1.ViewID)
	assert.EqualValues(t, 1, t1.Generation)
	assert.True(t, s.Current(t1))

	// Re-opening replaces the tree and invalidates the old ticket
	t2 := s.Open("T1", SortDesc)
	assert.NotEqual(t, t1.ViewID, t2.ViewID)
	assert.False(t, s.Current(t1))
	assert.True(t, s.Current(t2))
}

func TestStoreStaleResultSuppression(t *testing.T) {
	s := NewStore()
	m := metrics.NewMetrics()
	s.SetMetrics(m)

	ticket := s.Open("T1", SortDesc)

	// Sort change bumps the generation
	next, ok := s.SetSortMode("T1", SortAsc)
	require.True(t, ok)
	assert.Equal(t, ticket.Generation+1, next.Generation)

	assert.False(t, s.ApplyFetchedResult(ticket, RootParent, pageOf("T1", comment("A", 1)), true))
	assert.Empty(t, s.GetChildren("T1", RootParent))

	assert.True(t, s.ApplyFetchedResult(next, RootParent, pageOf("T1", comment("A", 1)), true))
	assert.Equal(t, []string{"A"}, ids(s.GetChildren("T1", RootParent)))

	// Closed view
	s.Reset("T1")
	assert.False(t, s.ApplyFetchedResult(next, RootParent, pageOf("T1", comment("B", 2)), true))

	count, err := testutil.GatherAndCount(m.Registry(), "wisdm_thread_fetched_pages_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "applied and stale series")
}

func TestStoreFetchedResultAppliesAllGroups(t *testing.T) {
	s := NewStore()
	ticket := s.Open("T1", SortAsc)

	parent := comment("P", 1)
	parent.ChildCount = 2
	reply := comment("R", 2)
	reply.ParentID = "P"

	page := &Page{
		CommentsByParent: map[string][]*Patch{
			"T1": {PatchOf(parent)},
			"P":  {PatchOf(reply)},
		},
		RootCommentCount: intPtr(4),
	}
	require.True(t, s.ApplyFetchedResult(ticket, "T1", page, true))

	assert.Equal(t, []string{"P"}, ids(s.GetChildren("T1", RootParent)))
	assert.Equal(t, []string{"R"}, ids(s.GetChildren("T1", "P")))
	assert.Equal(t, 4, s.RootCommentCount("T1"))
	assert.True(t, s.HasMore("T1", RootParent))
	assert.True(t, s.HasMore("T1", "P"))
	assert.Equal(t, 1, s.NextOffset("T1", "P"))
}

func TestStoreSparsePageKeepsPushedFields(t *testing.T) {
	s := NewStore()
	ticket := s.Open("T1", SortAsc)

	pushed := comment("c1", 1)
	pushed.AuthorUsername = "alice"
	pushed.ChildCount = 3
	s.ApplyRealtimeEvent(Event{Kind: EventNewComment, ThreadID: "T1", Comment: PatchOf(pushed)})

	var page Page
	require.NoError(t, json.Unmarshal([]byte(`{
		"root_comment_count": 1,
		"comments_by_parent": {"T1": [{"id":"c1","thread_id":"T1","body":"fetched"}]}
	}`), &page))
	require.True(t, s.ApplyFetchedResult(ticket, "T1", &page, false))

	got, ok := s.GetComment("T1", "c1")
	require.True(t, ok)
	assert.Equal(t, "fetched", got.Body)
	assert.Equal(t, "alice", got.AuthorUsername)
	assert.Equal(t, 3, got.ChildCount)
	assert.Equal(t, at(1), got.CreatedAt)
	assert.Equal(t, 1, s.NextOffset("T1", RootParent))
}

func TestStoreRealtimeEvents(t *testing.T) {
	s := NewStore()
	m := metrics.NewMetrics()
	s.SetMetrics(m)
	s.Open("T1", SortDesc)

	var changes []Change
	unsubscribe := s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.ApplyRealtimeEvent(newCommentEvent("A", RootParent, 1))
	s.ApplyRealtimeEvent(newCommentEvent("A", RootParent, 1))

	body := "edit"
	s.ApplyRealtimeEvent(Event{Kind: EventCommentUpdated, ThreadID: "T1", Comment: &Patch{ID: "A", Body: &body}})
	up := VoteUp
	s.ApplyRealtimeEvent(Event{Kind: EventVoteChanged, ThreadID: "T1", Comment: &Patch{ID: "A", ViewerVote: &up}})

	// Ignored: unknown thread, unknown target, missing comment
	s.ApplyRealtimeEvent(Event{Kind: EventNewComment, ThreadID: "T9", Comment: PatchOf(comment("Z", 1))})
	s.ApplyRealtimeEvent(Event{Kind: EventVoteChanged, ThreadID: "T1", Comment: &Patch{ID: "ghost", ViewerVote: &up}})
	s.ApplyRealtimeEvent(Event{Kind: EventNewComment, ThreadID: "T1"})

	require.Len(t, changes, 4)
	assert.Equal(t, ChangeInserted, changes[0].Kind)
	assert.Equal(t, ChangeUpdated, changes[1].Kind)
	assert.Equal(t, ChangeUpdated, changes[2].Kind)
	assert.Equal(t, ChangeVote, changes[3].Kind)
	assert.Equal(t, "A", changes[3].CommentID)
	assert.Equal(t, RootParent, changes[3].ParentID)

	unsubscribe()
	s.ApplyRealtimeEvent(newCommentEvent("B", RootParent, 2))
	assert.Len(t, changes, 4)

	a, ok := s.GetComment("T1", "A")
	require.True(t, ok)
	assert.Equal(t, "edit", a.Body)
	assert.Equal(t, VoteUp, a.ViewerVote)

	count, err := testutil.GatherAndCount(m.Registry(), "wisdm_thread_realtime_events_total")
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func TestStoreThreadRoutingFromComment(t *testing.T) {
	s := NewStore()
	s.Open("T1", SortAsc)
	s.Open("T2", SortAsc)

	c := comment("X", 1)
	c.ThreadID = "T2"
	s.ApplyRealtimeEvent(Event{Kind: EventNewComment, Comment: PatchOf(c)})

	assert.Empty(t, s.GetChildren("T1", RootParent))
	assert.Equal(t, []string{"X"}, ids(s.GetChildren("T2", RootParent)))
}

func TestStoreObserversRunOutsideLock(t *testing.T) {
	s := NewStore()
	s.Open("T1", SortAsc)

	// Reading from an observer would deadlock if it ran under the lock
	var seen []string
	s.Subscribe(func(c Change) {
		if c.Kind == ChangeInserted {
			seen = ids(s.GetChildren(c.ThreadID, c.ParentID))
		}
	})

	s.ApplyRealtimeEvent(newCommentEvent("A", RootParent, 1))
	assert.Equal(t, []string{"A"}, seen)
}

func TestStoreVotePending(t *testing.T) {
	s := NewStore()
	s.Open("T1", SortAsc)
	s.ApplyFetchedPage("T1", RootParent, []Comment{comment("A", 1)}, true)

	assert.True(t, s.MarkVotePending("T1", "A"))
	assert.False(t, s.MarkVotePending("T1", "A"))
	assert.False(t, s.MarkVotePending("T1", "missing"))
	assert.False(t, s.MarkVotePending("T9", "A"))

	a, _ := s.GetComment("T1", "A")
	assert.True(t, a.PendingVoteAck)

	s.ClearVotePending("T1", "A")
	a, _ = s.GetComment("T1", "A")
	assert.False(t, a.PendingVoteAck)
}

func TestStoreSetSortMode(t *testing.T) {
	s := NewStore()
	ticket := s.Open("T1", SortDesc)
	s.ApplyFetchedPage("T1", RootParent, []Comment{comment("B", 2), comment("A", 1)}, true)

	same, ok := s.SetSortMode("T1", SortDesc)
	require.True(t, ok)
	assert.Equal(t, ticket, same, "unchanged mode keeps the ticket")

	_, ok = s.SetSortMode("T1", SortAsc)
	require.True(t, ok)
	assert.Empty(t, s.GetChildren("T1", RootParent))
	mode, _ := s.SortMode("T1")
	assert.Equal(t, SortAsc, mode)

	_, ok = s.SetSortMode("missing", SortAsc)
	assert.False(t, ok)
}

func TestStoreResetAndRelease(t *testing.T) {
	s := NewStore()
	old := s.Open("T1", SortDesc)
	current := s.Open("T1", SortDesc)

	assert.False(t, s.Release(old), "a superseded view cannot discard the tree")
	assert.True(t, s.IsOpen("T1"))

	assert.True(t, s.Release(current))
	assert.False(t, s.IsOpen("T1"))

	s.Open("T2", SortAsc)
	s.Reset("T2")
	assert.False(t, s.IsOpen("T2"))
	assert.Nil(t, s.GetChildren("T2", RootParent))
	_, ok := s.GetComment("T2", "x")
	assert.False(t, ok)

	// Pages for unknown threads are ignored
	s.ApplyFetchedPage("T2", RootParent, []Comment{comment("A", 1)}, true)
	assert.False(t, s.IsOpen("T2"))
}

func TestStoreApplyPostedComment(t *testing.T) {
	s := NewStore()
	_, ok := s.ApplyPostedComment("T1", PatchOf(comment("A", 1)))
	assert.False(t, ok, "thread not open")

	s.Open("T1", SortAsc)
	_, ok = s.ApplyPostedComment("T1", &Patch{})
	assert.False(t, ok)

	c, ok := s.ApplyPostedComment("T1", PatchOf(comment("A", 1)))
	require.True(t, ok)
	assert.Equal(t, RootParent, c.ParentID)
	assert.Equal(t, 1, s.RootCommentCount("T1"))

	_, ok = s.ApplyPostedComment("T1", PatchOf(comment("A", 1)))
	require.True(t, ok)
	assert.Equal(t, 1, s.RootCommentCount("T1"))
	assert.Equal(t, []string{"A"}, ids(s.GetChildren("T1", RootParent)))
}
