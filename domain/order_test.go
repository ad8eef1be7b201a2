package domain

import (
	"testing"
	"time"
)

func TestNextOrder(t *testing.T) {
	if got := NextOrder(nil); got != 0 {
		t.Fatalf("empty list: expected 0, got %d", got)
	}
	tasks := []Task{{Order: 5}, {Order: 1}, {Order: 9}}
	if got := NextOrder(tasks); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
}

func TestSortByOrderStable(t *testing.T) {
	older := time.Now().Add(-time.Minute)
	newer := time.Now()
	tasks := []Task{
		{ID: "b", Order: 2, CreatedAt: newer},
		{ID: "a", Order: 0, CreatedAt: newer},
		{ID: "dup-new", Order: 1, CreatedAt: newer},
		{ID: "dup-old", Order: 1, CreatedAt: older},
	}
	SortByOrder(tasks)
	want := []string{"a", "dup-old", "dup-new", "b"}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, tasks[i].ID)
		}
	}
}

func TestOrderAssignmentsByPosition(t *testing.T) {
	got, ok := OrderAssignments([]string{"c", "a", "b"})
	if !ok {
		t.Fatal("unexpected duplicate report")
	}
	want := []OrderAssignment{{"c", 0}, {"a", 1}, {"b", 2}}
	if len(got) != len(want) {
		t.Fatalf("expected %d assignments, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("assignment %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestOrderAssignmentsRejectsDuplicates(t *testing.T) {
	if _, ok := OrderAssignments([]string{"a", "b", "a"}); ok {
		t.Fatal("expected duplicate ids to be rejected")
	}
}
