package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"todo-sync/realtime"
)

const keepaliveInterval = 30 * time.Second

// streamEvents serves the SSE change feed. The connection is registered only
// after the handshake credential resolves to a user, and unregistered before
// the handler returns, so a closed stream can no longer be targeted by a
// notify (modulo the in-flight push race, which the connection buffer absorbs).
func streamEvents(registry ConnRegistry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		// EventSource cannot set headers, so the token may ride in the query.
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		conn := realtime.NewConn(userID)
		registry.Register(conn)
		defer registry.Unregister(userID, conn.ID)

		// Write an initial comment to ensure headers are flushed to the client.
		if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		ctx := c.Request().Context()
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case ev := <-conn.Events():
				data, err := json.Marshal(ev)
				if err != nil {
					c.Logger().Error(err)
					continue
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				// Send a comment as a heartbeat to keep the connection alive.
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ctx.Done():
				return nil
			}
		}
	}
}
