// Package dispatch drains the pending message queue: each tick first purges
// messages already marked sent, then attempts delivery of everything still
// queued. Failed deliveries stay queued and are retried on the next tick,
// with no retry cap; a message only leaves the queue once a talker accepts it.
package dispatch

import (
	"context"

	"golang.org/x/time/rate"

	"codetraq/internal/storage"
	"codetraq/internal/talker"
	"codetraq/pkg/logx"
)

type Dispatcher struct {
	store   storage.Store
	talkers talker.Registry
	limiter *rate.Limiter
	log     logx.Logger
}

func New(store storage.Store, talkers talker.Registry, ratePerSec int, log logx.Logger) *Dispatcher {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &Dispatcher{
		store:   store,
		talkers: talkers,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log,
	}
}

// Tick runs one dispatch cycle.
func (d *Dispatcher) Tick(ctx context.Context) error {
	// Sent messages are deleted at the start of the next cycle rather than
	// immediately after delivery, so a crash mid-cycle can at worst cause a
	// duplicate delivery, never a loss.
	if n, err := d.store.DeleteSentMessages(ctx); err != nil {
		return err
	} else if n > 0 {
		d.log.Debug("purged sent messages", logx.Int("count", n))
	}

	msgs, err := d.store.UnsentMessages(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	d.log.Debug("dispatch tick", logx.Int("pending", len(msgs)))

	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.deliver(ctx, m)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, m *storage.Message) {
	log := d.log.With(
		logx.String("server", m.ServerName),
		logx.String("revision", m.RevisionID),
		logx.String("to", m.Recipient.Handle),
		logx.String("channel", m.Recipient.Channel),
	)

	t, err := d.talkers.Lookup(m.Recipient.Channel)
	if err != nil {
		log.Warn("delivery deferred", logx.Err(err))
		d.retry(ctx, m, log)
		return
	}

	if !t.IsInContactList(ctx, m.Recipient.Handle) {
		t.AddToContactList(ctx, m.Recipient.Handle)
	}
	if !t.RecipientOnline(ctx, m.Recipient.Handle) {
		log.Debug("recipient offline")
		d.retry(ctx, m, log)
		return
	}

	if ma, ok := t.(talker.MessageAware); ok {
		ma.SetMessage(m)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	if !t.Talk(ctx, m.Recipient.Handle, m.Body) {
		d.retry(ctx, m, log)
		return
	}

	if err := d.store.MarkMessageSent(ctx, m); err != nil {
		log.Error("mark sent failed", logx.Err(err))
		return
	}
	if err := d.store.DeleteMessage(ctx, m); err != nil {
		log.Error("delete failed", logx.Err(err))
		return
	}
	if d.log.Enabled(logx.LevelDebug) {
		exists, err := d.store.MessageExists(ctx, m.ServerName, m.Timestamp)
		log.Debug("message delivered",
			logx.Bool("still_queued", exists),
			logx.Int("retries", m.Retries),
			logx.Err(err),
		)
	} else {
		log.Info("message delivered")
	}
}

func (d *Dispatcher) retry(ctx context.Context, m *storage.Message, log logx.Logger) {
	if err := d.store.IncrementMessageRetries(ctx, m); err != nil {
		log.Error("retry bookkeeping failed", logx.Err(err))
		return
	}
	log.Debug("delivery failed, will retry",
		logx.Int("retries", m.Retries),
		logx.Time("queued_at", m.Timestamp),
	)
}
