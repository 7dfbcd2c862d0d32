package checker

import (
	"context"
	"sync"
	"time"

	"codetraq/internal/config"
	"codetraq/internal/storage"
	"codetraq/pkg/logx"
)

// Pair is one (server, user) comparison unit.
type Pair struct {
	ServerAddress string
	ServerName    string
	Owner         string
	Recipient     storage.Recipient
}

// PairsFromConfig derives the comparison pairs: one per configured server,
// against its owner's delivery target. Assumes the config validated.
func PairsFromConfig(cfg *config.Config) []Pair {
	pairs := make([]Pair, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		u, ok := cfg.UserByID(s.Owner)
		if !ok {
			continue
		}
		pairs = append(pairs, Pair{
			ServerAddress: s.Address,
			ServerName:    s.Name,
			Owner:         s.Owner,
			Recipient: storage.Recipient{
				Nickname: u.Nickname,
				Channel:  u.Channel,
				Handle:   u.Handle,
			},
		})
	}
	return pairs
}

// Fanout runs the comparator over the active pair set with a bounded worker
// pool. The pair set is replaced wholesale on config reload.
type Fanout struct {
	checker *Checker
	log     logx.Logger

	workers int
	timeout time.Duration

	mu    sync.RWMutex
	pairs []Pair
}

func NewFanout(c *Checker, workers int, timeout time.Duration, log logx.Logger) *Fanout {
	if workers <= 0 {
		workers = 1
	}
	return &Fanout{checker: c, log: log, workers: workers, timeout: timeout}
}

func (f *Fanout) SetPairs(pairs []Pair) {
	f.mu.Lock()
	f.pairs = pairs
	f.mu.Unlock()
}

func (f *Fanout) Pairs() []Pair {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pairs
}

// Tick compares every active pair once. Per-pair failures are logged and
// skipped.
func (f *Fanout) Tick(ctx context.Context) error {
	pairs := f.Pairs()
	if len(pairs) == 0 {
		return nil
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	jobs := make(chan Pair)
	var wg sync.WaitGroup
	for i := 0; i < f.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				if _, err := f.checker.Compare(ctx, p.ServerAddress, p.Owner, p.Recipient); err != nil {
					f.log.Warn("comparison failed",
						logx.String("server", p.ServerName),
						logx.String("user", p.Owner),
						logx.Err(err),
					)
				}
			}
		}()
	}

	for _, p := range pairs {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		case jobs <- p:
		}
	}
	close(jobs)
	wg.Wait()
	return nil
}
