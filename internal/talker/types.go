// Package talker defines the notification channel abstraction: a Talker
// attempts delivery of a rendered message body to a recipient handle and
// reports success or failure.
package talker

import (
	"context"
	"fmt"

	"codetraq/internal/storage"
)

// Channel kinds understood by the pipeline.
const (
	KindTelegram = "telegram"
	KindEmail    = "email"
)

// ParseKind validates a config channel value.
func ParseKind(s string) (string, error) {
	switch s {
	case KindTelegram, KindEmail:
		return s, nil
	}
	return "", fmt.Errorf("unknown notification channel %q", s)
}

// Talker is one delivery mechanism. Talk returns false on ordinary delivery
// failure; the dispatcher treats that as "retry next cycle", not an error.
type Talker interface {
	Connect(ctx context.Context) error
	Talk(ctx context.Context, handle, body string) bool
	Disconnect()

	IsInContactList(ctx context.Context, handle string) bool
	AddToContactList(ctx context.Context, handle string)
	RecipientOnline(ctx context.Context, handle string) bool
}

// MessageAware is implemented by talkers that need the structured message
// (subject and friends) beyond the generic (handle, body) pair. The
// dispatcher attaches the message before calling Talk.
type MessageAware interface {
	SetMessage(m *storage.Message)
}

// Registry maps a channel kind to its talker.
type Registry map[string]Talker

func (r Registry) Lookup(kind string) (Talker, error) {
	t, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("no talker registered for channel %q", kind)
	}
	return t, nil
}
