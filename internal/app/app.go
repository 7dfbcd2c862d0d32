// Package app wires the pipeline together: config, storage, vcs adapters,
// talkers, the poll/compare/dispatch loops, and config hot reload.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"codetraq/internal/checker"
	"codetraq/internal/config"
	"codetraq/internal/dispatch"
	"codetraq/internal/storage"
	"codetraq/internal/talker"
	"codetraq/internal/talker/email"
	"codetraq/internal/talker/telegram"
	"codetraq/internal/tracker"
	"codetraq/internal/vcs"
	"codetraq/pkg/logx"
)

const (
	defaultPollInterval     = 8 * time.Minute
	defaultDispatchInterval = 3 * time.Minute
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger

	store   storage.Store
	talkers talker.Registry

	tracker    *tracker.Tracker
	fanout     *checker.Fanout
	dispatcher *dispatch.Dispatcher

	pollEvery     time.Duration
	dispatchEvery time.Duration

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, err
	}
	if err := prepare(cfg); err != nil {
		return nil, err
	}
	cfgm.Commit(cfg)

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	pollEvery, err := config.ParseDurationOrDefault("poll.interval", cfg.Poll.Interval, defaultPollInterval)
	if err != nil {
		return nil, err
	}
	tickTimeout, err := config.ParseDurationOrDefault("poll.tick_timeout", cfg.Poll.TickTimeout, pollEvery)
	if err != nil {
		return nil, err
	}
	dispatchEvery, err := config.ParseDurationOrDefault("dispatch.interval", cfg.Dispatch.Interval, defaultDispatchInterval)
	if err != nil {
		return nil, err
	}

	adapters := vcs.Registry{}
	adapters.Register(vcs.NewSvnAdapter(log.With(logx.String("comp", "svn"))))
	adapters.Register(vcs.NewGitAdapter(cfg.Poll.ReposDir, log.With(logx.String("comp", "git"))))

	talkers, err := buildTalkers(cfg, log)
	if err != nil {
		return nil, err
	}

	chk := checker.New(store, log.With(logx.String("comp", "checker")))

	return &App{
		cfgm:          cfgm,
		log:           log.With(logx.String("comp", "app")),
		store:         store,
		talkers:       talkers,
		tracker:       tracker.New(store, adapters, pollEvery, cfg.Poll.Workers, log.With(logx.String("comp", "tracker"))),
		fanout:        checker.NewFanout(chk, cfg.Poll.Workers, tickTimeout, log.With(logx.String("comp", "checker"))),
		dispatcher:    dispatch.New(store, talkers, cfg.Dispatch.RatePerSec, log.With(logx.String("comp", "dispatch"))),
		pollEvery:     pollEvery,
		dispatchEvery: dispatchEvery,
	}, nil
}

// prepare normalizes and checks a freshly parsed config. Also used as the
// hot-reload validator so a bad edit never replaces a good config.
func prepare(cfg *config.Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("poll.interval", cfg.Poll.Interval); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("dispatch.interval", cfg.Dispatch.Interval); err != nil {
		return err
	}
	return cfg.DecryptSecrets()
}

func buildTalkers(cfg *config.Config, log logx.Logger) (talker.Registry, error) {
	reg := talker.Registry{}
	if tc := cfg.Talkers.Telegram; tc != nil {
		pollTimeout, err := config.ParseDurationField("talkers.telegram.poll_timeout", tc.PollTimeout)
		if err != nil {
			return nil, err
		}
		t, err := telegram.New(telegram.Config{
			Token:       tc.Token,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("talkers.telegram: %w", err)
		}
		reg[talker.KindTelegram] = t
	}
	if ec := cfg.Talkers.Email; ec != nil {
		t, err := email.New(email.Config{
			From:     ec.From,
			Password: ec.Password,
			Host:     ec.Host,
			Port:     ec.Port,
			SSL:      ec.SSL,
			StartTLS: ec.StartTLS,
		}, log.With(logx.String("comp", "email")))
		if err != nil {
			return nil, fmt.Errorf("talkers.email: %w", err)
		}
		reg[talker.KindEmail] = t
	}
	return reg, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	cfg := a.cfgm.Get()

	for kind, t := range a.talkers {
		if err := t.Connect(runCtx); err != nil {
			cancel()
			return fmt.Errorf("connect %s talker: %w", kind, err)
		}
	}
	a.primeContacts(runCtx, cfg)

	if err := a.tracker.RegisterServers(runCtx, cfg.Servers); err != nil {
		cancel()
		return err
	}
	a.fanout.SetPairs(checker.PairsFromConfig(cfg))

	a.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	a.cron.Schedule(cron.Every(a.pollEvery), cron.FuncJob(func() {
		if err := a.tracker.Tick(runCtx); err != nil {
			a.log.Error("poll tick failed", logx.Err(err))
			return
		}
		if err := a.fanout.Tick(runCtx); err != nil {
			a.log.Error("compare tick failed", logx.Err(err))
		}
	}))
	a.cron.Schedule(cron.Every(a.dispatchEvery), cron.FuncJob(func() {
		if err := a.dispatcher.Tick(runCtx); err != nil {
			a.log.Error("dispatch tick failed", logx.Err(err))
		}
	}))
	a.cron.Start()

	// Hot reload: validated configs republish the server and pair sets.
	a.cfgm.SetValidator(prepare)
	sub := a.cfgm.Subscribe(4)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(runCtx, newCfg)
			}
		}
	}()

	a.log.Info("started",
		logx.Int("servers", len(cfg.Servers)),
		logx.Int("users", len(cfg.Users)),
		logx.Duration("poll_every", a.pollEvery),
		logx.Duration("dispatch_every", a.dispatchEvery),
	)
	return nil
}

// applyConfig takes effect for the server and user sets. Changes to
// storage, logging, intervals, or talker credentials need a restart.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	if err := a.tracker.RegisterServers(ctx, cfg.Servers); err != nil {
		a.log.Error("config reload: server registration failed", logx.Err(err))
		return
	}
	a.fanout.SetPairs(checker.PairsFromConfig(cfg))
	a.primeContacts(ctx, cfg)
	a.log.Info("config applied",
		logx.Int("servers", len(cfg.Servers)),
		logx.Int("users", len(cfg.Users)),
	)
}

// primeContacts nudges each channel to establish contact with its
// recipients before the first delivery attempt.
func (a *App) primeContacts(ctx context.Context, cfg *config.Config) {
	for _, u := range cfg.Users {
		t, err := a.talkers.Lookup(u.Channel)
		if err != nil {
			continue
		}
		if !t.IsInContactList(ctx, u.Handle) {
			t.AddToContactList(ctx, u.Handle)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.cron != nil {
		stopped := a.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	for _, t := range a.talkers {
		t.Disconnect()
	}
	err := a.store.Close()
	a.log.Info("stopped")
	_ = a.log.Close()
	return err
}
