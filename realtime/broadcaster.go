package realtime

import (
	log "github.com/sirupsen/logrus"

	"todo-sync/domain"
)

// connSource is the slice of the registry the broadcaster needs.
type connSource interface {
	ConnectionsFor(userID string) []*Conn
}

// Broadcaster pushes change events to all of a user's live connections.
// Delivery is fire-and-forget: a connection mid-disconnect may miss a push,
// and that never surfaces to the mutation that triggered it.
type Broadcaster struct {
	conns  connSource
	logger *log.Logger
}

func NewBroadcaster(conns connSource, logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Broadcaster{conns: conns, logger: logger}
}

// Notify pushes {action} to every connection currently registered for
// userID. Cross-user delivery is impossible by construction: the registry
// lookup is the fan-out authorization boundary.
func (b *Broadcaster) Notify(userID string, action domain.ChangeAction) {
	ev := domain.ChangeEvent{Action: action}
	for _, c := range b.conns.ConnectionsFor(userID) {
		if !c.push(ev) {
			b.logger.WithFields(log.Fields{
				"user":   userID,
				"conn":   c.ID,
				"action": action,
			}).Debug("push dropped: connection buffer full")
		}
	}
}
