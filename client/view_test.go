package client

import (
	"errors"
	"testing"

	"todo-sync/domain"
)

func viewWithTasks(ids ...string) *View {
	v := NewView()
	tasks := make([]domain.Task, len(ids))
	for i, id := range ids {
		tasks[i] = domain.Task{ID: id, Title: id, Order: i}
	}
	v.Replace(tasks)
	return v
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBeginReorderAppliesOptimistically(t *testing.T) {
	v := viewWithTasks("a", "b", "c")

	submitted, seq, err := v.BeginReorder(2, 0)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if seq != 1 {
		t.Fatalf("expected seq 1, got %d", seq)
	}
	want := []string{"c", "a", "b"}
	if !equalIDs(submitted, want) {
		t.Fatalf("submitted ids %v, want %v", submitted, want)
	}
	if got := ids(v.Tasks()); !equalIDs(got, want) {
		t.Fatalf("local view %v, want %v", got, want)
	}
	if v.State() != StateReordering {
		t.Fatalf("expected reordering state, got %s", v.State())
	}
}

func TestReorderSettledSuccessKeepsOptimisticView(t *testing.T) {
	v := viewWithTasks("a", "b", "c")
	_, seq, _ := v.BeginReorder(0, 2)

	if refresh := v.ReorderSettled(seq, nil); refresh {
		t.Fatal("confirmed reorder must not force a refresh")
	}
	if v.State() != StateClean {
		t.Fatalf("expected clean state, got %s", v.State())
	}
	if got := ids(v.Tasks()); !equalIDs(got, []string{"b", "c", "a"}) {
		t.Fatalf("optimistic view lost: %v", got)
	}
}

func TestReorderSettledFailureRevertsToServerTruth(t *testing.T) {
	v := viewWithTasks("a", "b", "c")
	serverTruth := v.Tasks()
	_, seq, _ := v.BeginReorder(2, 0)

	refresh := v.ReorderSettled(seq, errors.New("store unavailable"))
	if !refresh {
		t.Fatal("failed reorder must force a refresh")
	}
	if v.State() != StateReverting {
		t.Fatalf("expected reverting state, got %s", v.State())
	}

	// The re-fetch delivers the authoritative (pre-drag) list.
	v.Replace(serverTruth)
	if v.State() != StateClean {
		t.Fatalf("expected clean state after replace, got %s", v.State())
	}
	if got := ids(v.Tasks()); !equalIDs(got, []string{"a", "b", "c"}) {
		t.Fatalf("rollback failed: %v", got)
	}
}

func TestChangeNotificationDeferredWhileReorderInFlight(t *testing.T) {
	v := viewWithTasks("a", "b")
	_, seq, _ := v.BeginReorder(0, 1)

	if refresh := v.HandleChange(domain.ChangeUpdated); refresh {
		t.Fatal("notification during in-flight reorder must not refresh immediately")
	}
	if refresh := v.ReorderSettled(seq, nil); !refresh {
		t.Fatal("deferred notification must trigger a refresh once settled")
	}
}

func TestChangeNotificationWhenCleanRefreshesImmediately(t *testing.T) {
	v := viewWithTasks("a", "b")
	if refresh := v.HandleChange(domain.ChangeCreated); !refresh {
		t.Fatal("expected immediate refresh in clean state")
	}
}

func TestStaleReorderResponseDiscarded(t *testing.T) {
	v := viewWithTasks("a", "b", "c")
	_, seq1, _ := v.BeginReorder(0, 2) // b c a
	_, seq2, _ := v.BeginReorder(0, 1) // c b a

	// The superseded request settles late; its outcome must not disturb the
	// newer optimistic state.
	if refresh := v.ReorderSettled(seq1, errors.New("timeout")); refresh {
		t.Fatal("stale failure must be discarded")
	}
	if v.State() != StateReordering {
		t.Fatalf("expected reordering state, got %s", v.State())
	}
	if got := ids(v.Tasks()); !equalIDs(got, []string{"c", "b", "a"}) {
		t.Fatalf("stale response corrupted view: %v", got)
	}

	if refresh := v.ReorderSettled(seq2, nil); refresh {
		t.Fatal("confirmed reorder must not force a refresh")
	}
	if v.State() != StateClean {
		t.Fatalf("expected clean state, got %s", v.State())
	}
}

func TestBeginReorderRejectsBadPositions(t *testing.T) {
	v := viewWithTasks("a", "b")
	for _, pos := range [][2]int{{-1, 0}, {0, -1}, {2, 0}, {0, 2}} {
		if _, _, err := v.BeginReorder(pos[0], pos[1]); err != ErrBadPosition {
			t.Fatalf("positions %v: expected ErrBadPosition, got %v", pos, err)
		}
	}
}

func TestReplaceSortsByOrder(t *testing.T) {
	v := NewView()
	v.Replace([]domain.Task{
		{ID: "a", Order: 5},
		{ID: "b", Order: 1},
		{ID: "c", Order: 9},
	})
	if got := ids(v.Tasks()); !equalIDs(got, []string{"b", "a", "c"}) {
		t.Fatalf("expected order-sorted view, got %v", got)
	}
}

func TestFilterIsPureProjection(t *testing.T) {
	done := true
	tasks := []domain.Task{
		{ID: "a", Title: "Buy milk", Completed: true, Priority: domain.PriorityHigh, Order: 0},
		{ID: "b", Title: "Walk dog", Description: "around the park", Priority: domain.PriorityLow, Order: 1},
		{ID: "c", Title: "Buy bread", Priority: domain.PriorityHigh, Order: 2},
	}

	if got := (Filter{}).Apply(tasks); !equalIDs(ids(got), []string{"a", "b", "c"}) {
		t.Fatalf("zero filter must match everything, got %v", ids(got))
	}
	if got := (Filter{Completed: &done}).Apply(tasks); !equalIDs(ids(got), []string{"a"}) {
		t.Fatalf("completed filter: %v", ids(got))
	}
	if got := (Filter{Priority: domain.PriorityHigh}).Apply(tasks); !equalIDs(ids(got), []string{"a", "c"}) {
		t.Fatalf("priority filter: %v", ids(got))
	}
	if got := (Filter{Search: "PARK"}).Apply(tasks); !equalIDs(ids(got), []string{"b"}) {
		t.Fatalf("search filter matches description: %v", ids(got))
	}
	if got := (Filter{Search: "buy", Priority: domain.PriorityHigh}).Apply(tasks); !equalIDs(ids(got), []string{"a", "c"}) {
		t.Fatalf("combined filter: %v", ids(got))
	}

	// The input slice must be untouched.
	if !equalIDs(ids(tasks), []string{"a", "b", "c"}) {
		t.Fatalf("filter mutated input: %v", ids(tasks))
	}
}
