package domain

// ChangeAction tags the kind of mutation behind a change notification.
type ChangeAction string

const (
	ChangeCreated   ChangeAction = "created"
	ChangeUpdated   ChangeAction = "updated"
	ChangeDeleted   ChangeAction = "deleted"
	ChangeReordered ChangeAction = "reordered"
)

// ChangeEvent is pushed to a user's live connections after a mutation
// commits. It carries no snapshot: receivers re-fetch authoritative state.
type ChangeEvent struct {
	Action ChangeAction `json:"action"`
}
