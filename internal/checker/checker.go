// Package checker implements the per-(server, user) revision comparator: it
// compares the server's latest-revision snapshot against the revision the
// user last acknowledged and queues a notification when it is newer.
package checker

import (
	"context"
	"errors"

	"codetraq/internal/storage"
	"codetraq/internal/vcs"
	"codetraq/pkg/logx"
)

// ErrMissingServerState is returned when the tracked server record
// disappeared between registration and comparison.
var ErrMissingServerState = errors.New("server state missing")

type Checker struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Checker {
	return &Checker{store: store, log: log}
}

// Compare checks one (server, user) pair and reports whether the user's
// acknowledged revision advanced.
//
// A duplicate pending message (same server and revision timestamp, typically
// left over from an earlier crash-interrupted run) is benign: the
// acknowledgment still advances so the pair converges instead of re-queueing
// forever.
func (c *Checker) Compare(ctx context.Context, address, owner string, rcpt storage.Recipient) (bool, error) {
	ur, err := c.store.EnsureUserRevision(ctx, address, owner)
	if err != nil {
		return false, err
	}

	sr, err := c.store.ServerRevisionByAddress(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return false, ErrMissingServerState
	}
	if err != nil {
		return false, err
	}
	if sr.RevisionID == "" {
		// Nothing polled yet.
		return false, nil
	}

	latest := vcs.ParseID(sr.Kind, sr.RevisionID)
	acked := vcs.ParseID(sr.Kind, ur.LastRevisionID)
	if !vcs.Newer(latest, acked) {
		return false, nil
	}

	msg := NewMessage(sr, rcpt)
	if err := c.store.SaveMessage(ctx, msg); err != nil {
		if !errors.Is(err, storage.ErrDuplicateMessage) {
			return false, err
		}
		c.log.Debug("notification already pending",
			logx.String("server", sr.ShortName),
			logx.String("revision", sr.RevisionID),
			logx.String("user", owner),
		)
	}

	ur.LastRevisionID = sr.RevisionID
	if err := c.store.UpdateUserRevision(ctx, ur); err != nil {
		return false, err
	}

	c.log.Info("user notified of new revision",
		logx.String("server", sr.ShortName),
		logx.String("revision", sr.RevisionID),
		logx.String("user", owner),
	)
	return true, nil
}
