package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-sync/domain"
	"todo-sync/storage"
)

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, registry ConnRegistry, notifier Notifier, deduper Deduper, logger *log.Logger) {
	e.GET("/api/tasks", getTasks(store, auth))
	e.POST("/api/tasks", createTask(store, auth, notifier, deduper))
	e.GET("/api/tasks/:id", getTask(store, auth))
	e.PATCH("/api/tasks/:id", updateTask(store, auth, notifier, deduper))
	e.DELETE("/api/tasks/:id", deleteTask(store, auth, notifier, deduper))
	e.PUT("/api/tasks/order", reorderTasks(store, auth, notifier, deduper, logger))
	e.GET("/api/stream", streamEvents(registry, auth))
	e.GET("/api/ws", streamEventsWS(registry, auth))
	e.GET("/healthz", healthz())
}

type createTaskRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    domain.Priority `json:"priority"`
	DueDate     *time.Time      `json:"dueDate"`
	Order       *int            `json:"order"`
}

type reorderRequest struct {
	TaskIDs []string `json:"taskIds"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func getTasks(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		tasks, err := store.FetchTasks(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to fetch tasks")
		}
		return c.JSON(http.StatusOK, tasks)
	}
}

func getTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		task, err := store.FindTask(ctx, c.Param("id"), userID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return c.String(http.StatusNotFound, "task not found")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to fetch task")
		}
		return c.JSON(http.StatusOK, task)
	}
}

func createTask(store Storage, auth Authenticator, notifier Notifier, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if ok, err := claimIdempotencyKey(c, deduper, userID); err != nil {
			return err
		} else if !ok {
			return c.String(http.StatusConflict, "duplicate request")
		}

		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		task, err := domain.NewTask(uuid.NewString(), userID, req.Title, req.Description, req.Priority, req.DueDate, time.Now())
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}

		if req.Order != nil {
			task.Order = *req.Order
		} else {
			existing, err := store.FetchTasks(ctx, userID)
			if err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, "failed to create task")
			}
			task.Order = domain.NextOrder(existing)
		}

		if err := store.InsertTask(ctx, task); err != nil {
			releaseIdempotencyKey(c, deduper, userID)
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to create task")
		}
		notifier.Notify(userID, domain.ChangeCreated)
		return c.JSON(http.StatusCreated, task)
	}
}

func updateTask(store Storage, auth Authenticator, notifier Notifier, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if ok, err := claimIdempotencyKey(c, deduper, userID); err != nil {
			return err
		} else if !ok {
			return c.String(http.StatusConflict, "duplicate request")
		}

		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := patch.Validate(); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}

		task, err := store.UpdateTask(ctx, c.Param("id"), userID, patch)
		if err != nil {
			releaseIdempotencyKey(c, deduper, userID)
			if errors.Is(err, storage.ErrNotFound) {
				return c.String(http.StatusNotFound, "task not found")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to update task")
		}
		notifier.Notify(userID, domain.ChangeUpdated)
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(store Storage, auth Authenticator, notifier Notifier, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if ok, err := claimIdempotencyKey(c, deduper, userID); err != nil {
			return err
		} else if !ok {
			return c.String(http.StatusConflict, "duplicate request")
		}

		if err := store.DeleteTask(ctx, c.Param("id"), userID); err != nil {
			releaseIdempotencyKey(c, deduper, userID)
			if errors.Is(err, storage.ErrNotFound) {
				return c.String(http.StatusNotFound, "task not found")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to delete task")
		}
		notifier.Notify(userID, domain.ChangeDeleted)
		return c.NoContent(http.StatusNoContent)
	}
}

// reorderTasks rewrites the order of all the caller's tasks to match the
// submitted id sequence. The batch either commits, then peers are notified,
// or fails, and peers hear nothing. Ids the caller does not own are skipped
// by the store's owner filter; duplicate ids are rejected outright since two
// positions for one task has no meaningful resolution.
func reorderTasks(store Storage, auth Authenticator, notifier Notifier, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newReorderMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}
		if ok, derr := claimIdempotencyKey(c, deduper, userID); derr != nil {
			err = derr
			return err
		} else if !ok {
			metrics.SetErrorStage("duplicate")
			err = c.String(http.StatusConflict, "duplicate request")
			return err
		}

		var req reorderRequest
		if derr := decodeBody(c, &req); derr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		if len(req.TaskIDs) == 0 {
			metrics.SetErrorStage("empty_sequence")
			err = c.String(http.StatusBadRequest, "task id list is empty")
			return err
		}
		assignments, ok := domain.OrderAssignments(req.TaskIDs)
		if !ok {
			metrics.SetErrorStage("duplicate_ids")
			err = c.String(http.StatusBadRequest, "duplicate task ids")
			return err
		}
		metrics.SetItemCount(len(assignments))

		applyStart := time.Now()
		applyErr := store.BulkSetOrder(ctx, userID, assignments)
		metrics.ObserveApply(time.Since(applyStart))
		if applyErr != nil {
			// The order did not durably change, so peers must not be told it did.
			releaseIdempotencyKey(c, deduper, userID)
			metrics.SetErrorStage("storage")
			c.Logger().Error(applyErr)
			err = c.String(http.StatusInternalServerError, "failed to reorder tasks")
			return err
		}
		notifier.Notify(userID, domain.ChangeReordered)
		err = c.NoContent(http.StatusNoContent)
		return err
	}
}
