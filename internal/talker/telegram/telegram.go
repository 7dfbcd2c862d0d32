// Package telegram delivers notifications through a Telegram bot. Recipient
// handles are chat ids.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"codetraq/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Talker struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Talker, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Talker{cfg: cfg, log: log, bot: b}, nil
}

// Connect is a no-op: the bot API is stateless for outbound sends and the
// token was already validated in New.
func (t *Talker) Connect(ctx context.Context) error { return nil }

func (t *Talker) Disconnect() {}

func (t *Talker) Talk(ctx context.Context, handle, body string) bool {
	id, err := strconv.ParseInt(handle, 10, 64)
	if err != nil {
		t.log.Error("telegram handle is not a chat id", logx.String("handle", handle), logx.Err(err))
		return false
	}
	if _, err := t.bot.Send(tele.ChatID(id), body, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		t.log.Warn("telegram send failed", logx.String("handle", handle), logx.Err(err))
		return false
	}
	return true
}

// IsInContactList reports whether the bot can resolve the chat, i.e. the
// recipient has started a conversation with it.
func (t *Talker) IsInContactList(ctx context.Context, handle string) bool {
	id, err := strconv.ParseInt(handle, 10, 64)
	if err != nil {
		return false
	}
	_, err = t.bot.ChatByID(id)
	return err == nil
}

// AddToContactList cannot be done from the bot side: Telegram requires the
// user to message the bot first. Logged so the operator knows what to do.
func (t *Talker) AddToContactList(ctx context.Context, handle string) {
	t.log.Warn("telegram recipient must start a chat with the bot first",
		logx.String("handle", handle))
}

// RecipientOnline: Telegram has no presence API for bots; assume reachable.
func (t *Talker) RecipientOnline(ctx context.Context, handle string) bool { return true }
