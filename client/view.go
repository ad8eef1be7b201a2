package client

import (
	"errors"
	"strings"
	"sync"

	"todo-sync/domain"
)

// SyncState tracks how the local view relates to server truth.
type SyncState int

const (
	// StateClean means local view and server order match as far as we know.
	StateClean SyncState = iota
	// StateReordering means an optimistic reorder is displayed and the
	// corresponding request is in flight.
	StateReordering
	// StateReverting means the reorder failed and the view is stale until
	// the next authoritative fetch replaces it.
	StateReverting
)

func (s SyncState) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateReordering:
		return "reordering"
	case StateReverting:
		return "reverting"
	}
	return "unknown"
}

var ErrBadPosition = errors.New("position out of range")

// View holds the client's copy of the task list and reconciles optimistic
// reorders with server truth. A monotonic sequence number guards against a
// stale response overwriting a newer optimistic state.
type View struct {
	mu             sync.Mutex
	tasks          []domain.Task
	state          SyncState
	lastIssued     uint64
	pendingRefresh bool
}

func NewView() *View {
	return &View{}
}

// Replace installs an authoritative task list, clearing any revert state.
func (v *View) Replace(tasks []domain.Task) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tasks = make([]domain.Task, len(tasks))
	copy(v.tasks, tasks)
	domain.SortByOrder(v.tasks)
	if v.state == StateReverting {
		v.state = StateClean
	}
}

// Tasks returns a copy of the current local view.
func (v *View) Tasks() []domain.Task {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Task, len(v.tasks))
	copy(out, v.tasks)
	return out
}

// State returns the current reconciliation state.
func (v *View) State() SyncState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// BeginReorder applies a drag from one position to another optimistically
// and returns the full id sequence to submit plus the request's sequence
// number. Starting a new reorder while one is in flight supersedes it: the
// older request's outcome will be discarded on arrival.
func (v *View) BeginReorder(from, to int) ([]string, uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := len(v.tasks)
	if from < 0 || from >= n || to < 0 || to >= n {
		return nil, 0, ErrBadPosition
	}

	moved := v.tasks[from]
	rest := append(append([]domain.Task{}, v.tasks[:from]...), v.tasks[from+1:]...)
	v.tasks = append(append(append([]domain.Task{}, rest[:to]...), moved), rest[to:]...)

	ids := make([]string, len(v.tasks))
	for i := range v.tasks {
		ids[i] = v.tasks[i].ID
	}
	v.state = StateReordering
	v.lastIssued++
	return ids, v.lastIssued, nil
}

// ReorderSettled records the outcome of a reorder request. It reports
// whether the caller must re-fetch the authoritative list: always after a
// failure, and after success when a change notification arrived while the
// request was in flight. Outcomes of superseded requests are discarded.
func (v *View) ReorderSettled(seq uint64, reqErr error) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if seq != v.lastIssued {
		// A newer drag superseded this request; its outcome decides.
		return false
	}
	if reqErr != nil {
		v.state = StateReverting
		v.pendingRefresh = false
		return true
	}
	v.state = StateClean
	if v.pendingRefresh {
		v.pendingRefresh = false
		return true
	}
	return false
}

// HandleChange reacts to a change notification from another session. It
// reports whether the caller should re-fetch now. While a reorder is in
// flight the refresh is deferred until the request settles, so the echo of
// the caller's own action cannot flicker the optimistic view.
func (v *View) HandleChange(domain.ChangeAction) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateReordering {
		v.pendingRefresh = true
		return false
	}
	return true
}

// Filter selects tasks for display. The zero value matches everything.
// Filtering is a pure projection: it never mutates the underlying view or
// the stored order.
type Filter struct {
	Completed *bool
	Priority  domain.Priority
	Search    string
}

// Apply returns the tasks matching the filter, preserving their order.
func (f Filter) Apply(tasks []domain.Task) []domain.Task {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Completed != nil && t.Completed != *f.Completed {
			continue
		}
		if f.Priority != "" && t.Priority != f.Priority {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Title), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) {
			continue
		}
		out = append(out, t)
	}
	return out
}
