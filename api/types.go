package api

import (
	"context"

	"todo-sync/domain"
	"todo-sync/realtime"
)

// Storage abstracts persistence for handlers. Every operation is scoped to
// the owning user; implementations return storage.ErrNotFound when the
// {id, owner} pair matches no record.
type Storage interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	FindTask(ctx context.Context, id, userID string) (domain.Task, error)
	InsertTask(ctx context.Context, task domain.Task) error
	UpdateTask(ctx context.Context, id, userID string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id, userID string) error
	BulkSetOrder(ctx context.Context, userID string, assignments []domain.OrderAssignment) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Notifier fans a committed change out to the acting user's live sessions.
type Notifier interface {
	Notify(userID string, action domain.ChangeAction)
}

// ConnRegistry tracks realtime connections for the stream transports.
type ConnRegistry interface {
	Register(*realtime.Conn)
	Unregister(userID, connID string)
}

// Deduper prevents processing of duplicate mutation requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the mutation fails.
	Remove(ctx context.Context, userID, key string) error
}
