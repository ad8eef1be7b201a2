package domain

import "sort"

// NextOrder returns the order value for a task appended to the list:
// one past the current maximum, or 0 for an empty list.
func NextOrder(tasks []Task) int {
	next := 0
	for _, t := range tasks {
		if t.Order >= next {
			next = t.Order + 1
		}
	}
	return next
}

// SortByOrder sorts tasks ascending by their order field in place.
// Ties are broken by creation time so transient duplicates render stably.
func SortByOrder(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Order != tasks[j].Order {
			return tasks[i].Order < tasks[j].Order
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// OrderAssignment pairs a task id with its new order value.
type OrderAssignment struct {
	ID    string
	Order int
}

// OrderAssignments maps a submitted id sequence to contiguous order values
// 0..n-1 by position. Duplicate ids are reported so callers can reject the
// sequence instead of applying an ambiguous ordering.
func OrderAssignments(ids []string) ([]OrderAssignment, bool) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]OrderAssignment, 0, len(ids))
	for i, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, false
		}
		seen[id] = struct{}{}
		out = append(out, OrderAssignment{ID: id, Order: i})
	}
	return out, true
}
