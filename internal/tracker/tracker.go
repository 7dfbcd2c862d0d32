// Package tracker implements the server revision poll loop: on each tick it
// asks the matching vcs adapter for the latest revision of every due server
// and persists the snapshot when the revision supersedes the stored one.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"codetraq/internal/config"
	"codetraq/internal/storage"
	"codetraq/internal/vcs"
	"codetraq/pkg/logx"
)

type Tracker struct {
	store    storage.Store
	adapters vcs.Registry
	log      logx.Logger

	interval time.Duration
	workers  int

	// now is swapped in tests.
	now func() time.Time
}

func New(store storage.Store, adapters vcs.Registry, interval time.Duration, workers int, log logx.Logger) *Tracker {
	if workers <= 0 {
		workers = 1
	}
	return &Tracker{
		store:    store,
		adapters: adapters,
		log:      log,
		interval: interval,
		workers:  workers,
		now:      time.Now,
	}
}

// RegisterServers reconciles the server table with the configured set.
// Polling is first disabled for every known server, then each configured
// server is upserted with polling enabled, so servers removed from the
// config stop being polled but keep their history.
func (t *Tracker) RegisterServers(ctx context.Context, servers []config.ServerConfig) error {
	if err := t.store.DisableAllPolling(ctx); err != nil {
		return err
	}
	for _, s := range servers {
		kind, err := vcs.ParseKind(s.Kind)
		if err != nil {
			return err
		}
		sr := &storage.ServerRevision{
			Address:    s.Address,
			ShortName:  s.Name,
			Kind:       kind,
			Username:   s.Username,
			Password:   s.Password,
			Branch:     s.Branch,
			ShouldPoll: true,
		}
		if err := t.store.UpsertServer(ctx, sr); err != nil {
			return err
		}
		t.log.Debug("server registered",
			logx.String("server", s.Name),
			logx.String("kind", s.Kind),
		)
	}
	return nil
}

// Tick polls every due server once. Per-server failures are logged and
// skipped; the tick itself only fails when the server list cannot be read.
func (t *Tracker) Tick(ctx context.Context) error {
	servers, err := t.store.AllServerRevisions(ctx)
	if err != nil {
		return err
	}

	now := t.now()
	due := servers[:0]
	for _, sr := range servers {
		if sr.ShouldPoll && sr.Due(t.interval, now) {
			due = append(due, sr)
		}
	}
	if len(due) == 0 {
		return nil
	}
	t.log.Debug("poll tick", logx.Int("due", len(due)))

	jobs := make(chan *storage.ServerRevision)
	var wg sync.WaitGroup
	for i := 0; i < t.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sr := range jobs {
				t.pollServer(ctx, sr)
			}
		}()
	}

	for _, sr := range due {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		case jobs <- sr:
		}
	}
	close(jobs)
	wg.Wait()
	return nil
}

func (t *Tracker) pollServer(ctx context.Context, sr *storage.ServerRevision) {
	log := t.log.With(logx.String("server", sr.ShortName))

	adapter, err := t.adapters.Lookup(sr.Kind)
	if err != nil {
		log.Error("poll skipped", logx.Err(err))
		return
	}

	info, err := adapter.FetchLatest(ctx, sr.Ref())
	if err != nil {
		if errors.Is(err, vcs.ErrNoRevisions) {
			log.Debug("repository has no revisions yet")
			// still counts as a poll for the cadence
			if terr := t.store.TouchServerPolled(ctx, sr.Address, t.now()); terr != nil {
				log.Error("touch failed", logx.Err(terr))
			}
			return
		}
		log.Warn("fetch failed", logx.Err(err))
		return
	}

	current := vcs.ParseID(sr.Kind, sr.RevisionID)
	if !vcs.Newer(info.ID, current) {
		log.Trace("no new revision", logx.String("revision", sr.RevisionID))
		if err := t.store.TouchServerPolled(ctx, sr.Address, t.now()); err != nil {
			log.Error("touch failed", logx.Err(err))
		}
		return
	}

	sr.RevisionID = info.ID.String()
	sr.Author = info.Author
	sr.Committer = info.Committer
	sr.Message = info.Message
	sr.RevisionTimestamp = info.Timestamp
	sr.Files = info.Files
	sr.LastPolledAt = t.now()

	if err := t.store.UpdateServerSnapshot(ctx, sr); err != nil {
		log.Error("snapshot update failed", logx.Err(err))
		return
	}
	log.Info("new revision detected",
		logx.String("revision", sr.RevisionID),
		logx.String("author", sr.Author),
	)
}
