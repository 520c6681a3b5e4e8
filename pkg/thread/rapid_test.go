package thread

import (
	"fmt"
	"sort"
	"testing"

	"pgregory.net/rapid"
)

func sortedIDs(cs []Comment, mode SortMode) []string {
	sorted := make([]Comment, len(cs))
	copy(sorted, cs)
	sort.Slice(sorted, func(i, j int) bool {
		return precedes(&sorted[i], &sorted[j], mode)
	})
	return ids(sorted)
}

// TestInterleavingConverges tests that any interleaving of fetched pages and
// pushes over the same comments ends in sorted order without duplicates
func TestInterleavingConverges(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mode := SortMode(rapid.IntRange(0, 1).Draw(t, "mode"))
		n := rapid.IntRange(1, 30).Draw(t, "n")

		all := make([]Comment, n)
		for i := range all {
			// Narrow time range so ties on created_at are common
			all[i] = comment(fmt.Sprintf("c%02d", i), rapid.IntRange(0, 5).Draw(t, "sec"))
		}

		tree := NewTree("T1", mode)
		server := sortedIDs(all, mode)
		byID := make(map[string]Comment, n)
		for _, c := range all {
			byID[c.ID] = c
		}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "push") {
				c := all[rapid.IntRange(0, n-1).Draw(t, "pushed")]
				ev := Event{Kind: EventNewComment, ThreadID: "T1", Comment: PatchOf(c)}
				tree.ApplyEvent(ev)
				continue
			}
			start := rapid.IntRange(0, n-1).Draw(t, "start")
			end := rapid.IntRange(start, n).Draw(t, "end")
			page := make([]Comment, 0, end-start)
			for _, id := range server[start:end] {
				page = append(page, byID[id])
			}
			tree.ApplyPage(RootParent, page, false)
		}

		got := tree.Children(RootParent)
		seen := make(map[string]bool, len(got))
		for _, c := range got {
			if seen[c.ID] {
				t.Fatalf("duplicate %s in %v", c.ID, ids(got))
			}
			seen[c.ID] = true
		}

		want := sortedIDs(got, mode)
		gotIDs := ids(got)
		for i := range want {
			if want[i] != gotIDs[i] {
				t.Fatalf("order mismatch: got %v, want %v", gotIDs, want)
			}
		}
		if len(got) != tree.Len() {
			t.Fatalf("tree holds %d comments but %d are placed", tree.Len(), len(got))
		}
	})
}

// TestUpdatesNeverReorder tests that updates and vote changes keep the
// sibling sequence unchanged
func TestUpdatesNeverReorder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mode := SortMode(rapid.IntRange(0, 1).Draw(t, "mode"))
		n := rapid.IntRange(1, 15).Draw(t, "n")

		tree := NewTree("T1", mode)
		page := make([]Comment, n)
		for i := range page {
			page[i] = comment(fmt.Sprintf("c%02d", i), i)
		}
		tree.ApplyPage(RootParent, page, true)
		initial := tree.ChildIDs(RootParent)

		updates := rapid.IntRange(1, 20).Draw(t, "updates")
		for i := 0; i < updates; i++ {
			target := page[rapid.IntRange(0, n-1).Draw(t, "target")]
			body := rapid.String().Draw(t, "body")
			created := at(rapid.IntRange(-100, 100).Draw(t, "created"))
			vote := Vote(rapid.IntRange(0, 2).Draw(t, "vote"))
			kind := EventCommentUpdated
			if rapid.Bool().Draw(t, "isVote") {
				kind = EventVoteChanged
			}
			tree.ApplyEvent(Event{
				Kind:    kind,
				Comment: &Patch{ID: target.ID, Body: &body, CreatedAt: &created, ViewerVote: &vote},
			})
		}

		after := tree.ChildIDs(RootParent)
		if fmt.Sprint(initial) != fmt.Sprint(after) {
			t.Fatalf("sequence changed: %v -> %v", initial, after)
		}
	})
}
