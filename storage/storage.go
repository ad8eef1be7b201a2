// Package storage persists tasks in Azure Table Storage, partitioned by
// owner so every query is owner-scoped by construction.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"todo-sync/domain"
)

var (
	// ErrNotFound means no record matched the {id, owner} pair.
	ErrNotFound = errors.New("task not found")
	// ErrConflict means a task with the same id already exists for the owner.
	ErrConflict = errors.New("task already exists")
)

// Transactions are capped by the table service at 100 actions per batch.
const maxBatchActions = 100

// Storage provides access to the underlying task table.
type Storage struct {
	taskTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: svc.NewClient(tasksTable)}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Completed   bool   `json:"Completed"`
	Priority    string `json:"Priority"`
	DueDate     string `json:"DueDate"`
	Order       int    `json:"Order"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

func encodeTaskEntity(t domain.Task) taskEntity {
	ent := taskEntity{
		Entity: aztables.Entity{
			PartitionKey: t.Owner,
			RowKey:       t.ID,
		},
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		Priority:    string(t.Priority),
		Order:       t.Order,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.DueDate != nil {
		ent.DueDate = t.DueDate.UTC().Format(time.RFC3339Nano)
	}
	return ent
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	task := domain.Task{
		ID:          ent.RowKey,
		Owner:       ent.PartitionKey,
		Title:       ent.Title,
		Description: ent.Description,
		Completed:   ent.Completed,
		Priority:    domain.Priority(ent.Priority),
		Order:       ent.Order,
	}
	if ent.DueDate != "" {
		due, err := time.Parse(time.RFC3339Nano, ent.DueDate)
		if err != nil {
			return domain.Task{}, err
		}
		task.DueDate = &due
	}
	if ent.CreatedAt != "" {
		created, err := time.Parse(time.RFC3339Nano, ent.CreatedAt)
		if err != nil {
			return domain.Task{}, err
		}
		task.CreatedAt = created
	}
	if ent.UpdatedAt != "" {
		updated, err := time.Parse(time.RFC3339Nano, ent.UpdatedAt)
		if err != nil {
			return domain.Task{}, err
		}
		task.UpdatedAt = updated
	}
	return task, nil
}

func statusError(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

// FetchTasks retrieves all tasks for the provided user, sorted by order.
func (s *Storage) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + userID + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			task, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	domain.SortByOrder(tasks)
	return tasks, nil
}

// FindTask retrieves a single task by id for the provided user.
func (s *Storage) FindTask(ctx context.Context, id, userID string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, userID, id, nil)
	if err != nil {
		if statusError(err, 404) {
			return domain.Task{}, ErrNotFound
		}
		return domain.Task{}, err
	}
	return decodeTaskEntity(resp.Value)
}

// InsertTask stores a new task.
func (s *Storage) InsertTask(ctx context.Context, task domain.Task) error {
	data, err := json.Marshal(encodeTaskEntity(task))
	if err != nil {
		return err
	}
	if _, err := s.taskTable.AddEntity(ctx, data, nil); err != nil {
		if statusError(err, 409) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// UpdateTask applies a partial update to the task matching {id, userID} and
// returns the updated record.
func (s *Storage) UpdateTask(ctx context.Context, id, userID string, patch domain.TaskPatch) (domain.Task, error) {
	task, err := s.FindTask(ctx, id, userID)
	if err != nil {
		return domain.Task{}, err
	}
	patch.Apply(&task, time.Now())
	data, err := json.Marshal(encodeTaskEntity(task))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		if statusError(err, 404) {
			return domain.Task{}, ErrNotFound
		}
		return domain.Task{}, err
	}
	return task, nil
}

// DeleteTask removes the task matching {id, userID}.
func (s *Storage) DeleteTask(ctx context.Context, id, userID string) error {
	if _, err := s.taskTable.DeleteEntity(ctx, userID, id, nil); err != nil {
		if statusError(err, 404) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// BulkSetOrder rewrites the order field for the given assignments inside the
// user's partition. Ids the user does not own are skipped: the owner filter
// matches zero records for them, same as a point query would. The surviving
// assignments are submitted as entity-group transactions, so each batch
// commits or fails as a unit.
func (s *Storage) BulkSetOrder(ctx context.Context, userID string, assignments []domain.OrderAssignment) error {
	owned, err := s.ownedIDs(ctx, userID)
	if err != nil {
		return err
	}

	actions := make([]aztables.TransactionAction, 0, len(assignments))
	for _, a := range assignments {
		if _, ok := owned[a.ID]; !ok {
			continue
		}
		data, err := json.Marshal(orderPatchEntity(userID, a))
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     data,
		})
	}

	for start := 0; start < len(actions); start += maxBatchActions {
		end := start + maxBatchActions
		if end > len(actions) {
			end = len(actions)
		}
		if _, err := s.taskTable.SubmitTransaction(ctx, actions[start:end], nil); err != nil {
			return err
		}
	}
	return nil
}

type orderEntity struct {
	aztables.Entity
	Order     int    `json:"Order"`
	UpdatedAt string `json:"UpdatedAt"`
}

func orderPatchEntity(userID string, a domain.OrderAssignment) orderEntity {
	return orderEntity{
		Entity: aztables.Entity{
			PartitionKey: userID,
			RowKey:       a.ID,
		},
		Order:     a.Order,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (s *Storage) ownedIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	filter := "PartitionKey eq '" + userID + "'"
	sel := "RowKey"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel})
	owned := make(map[string]struct{})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent aztables.Entity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			owned[ent.RowKey] = struct{}{}
		}
	}
	return owned, nil
}
