package client

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Syncer drives a View from a Client: it applies drags optimistically,
// submits them, rolls back on failure, and re-fetches whenever another
// session changes the list.
type Syncer struct {
	client *Client
	view   *View
	logger *log.Logger
}

func NewSyncer(c *Client, v *View, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Syncer{client: c, view: v, logger: logger}
}

func (s *Syncer) View() *View {
	return s.view
}

// Refresh replaces the view with the server's authoritative list.
func (s *Syncer) Refresh(ctx context.Context) error {
	tasks, err := s.client.Tasks(ctx)
	if err != nil {
		return err
	}
	s.view.Replace(tasks)
	return nil
}

// Reorder moves the task at position from to position to: the view updates
// immediately, then the full ordering is submitted. On failure the pre-drag
// order is restored from the server before the error is returned.
func (s *Syncer) Reorder(ctx context.Context, from, to int) error {
	ids, seq, err := s.view.BeginReorder(from, to)
	if err != nil {
		return err
	}

	reqErr := s.client.Reorder(ctx, ids)
	if s.view.ReorderSettled(seq, reqErr) {
		if err := s.Refresh(ctx); err != nil {
			s.logger.WithField("error", err).Warn("refresh after reorder failed")
		}
	}
	return reqErr
}

// Run fetches the initial list and then follows the change feed until ctx
// is cancelled, re-fetching on every notification the view asks for. The
// feed has no replay: every (re)subscribe starts with a full fetch.
func (s *Syncer) Run(ctx context.Context) error {
	sub, err := s.client.Subscribe(ctx)
	if err != nil {
		return err
	}
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	for ev := range sub.Events() {
		if !s.view.HandleChange(ev.Action) {
			continue
		}
		if err := s.Refresh(ctx); err != nil {
			s.logger.WithField("error", err).Warn("refresh after change event failed")
		}
	}
	return sub.Err()
}
