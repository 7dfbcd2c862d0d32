package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codetraq/internal/storage"
	"codetraq/internal/talker"
	"codetraq/pkg/logx"
)

type scriptedTalker struct {
	results []bool // consumed per Talk call; last value repeats
	online  bool
	talks   int

	lastHandle string
	lastBody   string
	attached   *storage.Message
}

func newScriptedTalker(results ...bool) *scriptedTalker {
	return &scriptedTalker{results: results, online: true}
}

func (s *scriptedTalker) Connect(ctx context.Context) error { return nil }
func (s *scriptedTalker) Disconnect()                       {}

func (s *scriptedTalker) Talk(ctx context.Context, handle, body string) bool {
	s.talks++
	s.lastHandle, s.lastBody = handle, body
	if len(s.results) == 0 {
		return true
	}
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r
}

func (s *scriptedTalker) SetMessage(m *storage.Message) { s.attached = m }

func (s *scriptedTalker) IsInContactList(ctx context.Context, handle string) bool { return true }
func (s *scriptedTalker) AddToContactList(ctx context.Context, handle string)     {}
func (s *scriptedTalker) RecipientOnline(ctx context.Context, handle string) bool { return s.online }

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "traq.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func queueMessage(t *testing.T, st storage.Store, channel string) *storage.Message {
	t.Helper()
	m := &storage.Message{
		ServerName: "core",
		Timestamp:  time.Unix(1700000000, 0),
		RevisionID: "12",
		Author:     "alice",
		Subject:    "New revision detected for core (12)",
		Body:       "New revision detected for core (12)\nrevision: 12\n",
		Recipient:  storage.Recipient{Nickname: "Alice", Channel: channel, Handle: "42"},
	}
	if err := st.SaveMessage(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestDeliverySuccessRemovesMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	tk := newScriptedTalker(true)
	d := New(st, talker.Registry{"telegram": tk}, 100, logx.Nop())

	m := queueMessage(t, st, "telegram")
	if err := d.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if tk.talks != 1 || tk.lastHandle != "42" {
		t.Fatalf("talker calls = %d, handle = %q", tk.talks, tk.lastHandle)
	}
	if tk.attached == nil || tk.attached.Subject != m.Subject {
		t.Errorf("message not attached before Talk")
	}
	exists, err := st.MessageExists(ctx, m.ServerName, m.Timestamp)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("delivered message must be removed")
	}
}

func TestDeliveryFailureRetriesWithoutCap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	tk := newScriptedTalker(false, false, false, true)
	d := New(st, talker.Registry{"telegram": tk}, 100, logx.Nop())

	m := queueMessage(t, st, "telegram")

	for i := 1; i <= 3; i++ {
		if err := d.Tick(ctx); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
		msgs, err := st.UnsentMessages(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 1 {
			t.Fatalf("tick %d: pending = %d", i, len(msgs))
		}
		if msgs[0].Retries != i {
			t.Fatalf("tick %d: retries = %d", i, msgs[0].Retries)
		}
	}

	// Fourth attempt succeeds.
	if err := d.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	exists, _ := st.MessageExists(ctx, m.ServerName, m.Timestamp)
	if exists {
		t.Fatal("message must leave the queue after a successful attempt")
	}
	if tk.talks != 4 {
		t.Fatalf("talker calls = %d", tk.talks)
	}
}

func TestUnknownChannelDefersMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	d := New(st, talker.Registry{}, 100, logx.Nop())

	queueMessage(t, st, "pager")
	if err := d.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	msgs, err := st.UnsentMessages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Retries != 1 {
		t.Fatalf("pending = %+v", msgs)
	}
}

func TestOfflineRecipientDefersMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	tk := newScriptedTalker(true)
	tk.online = false
	d := New(st, talker.Registry{"telegram": tk}, 100, logx.Nop())

	queueMessage(t, st, "telegram")
	if err := d.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if tk.talks != 0 {
		t.Fatal("must not talk to an offline recipient")
	}
	msgs, _ := st.UnsentMessages(ctx)
	if len(msgs) != 1 || msgs[0].Retries != 1 {
		t.Fatalf("pending = %+v", msgs)
	}
}

func TestTickPurgesLeftoverSentMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	d := New(st, talker.Registry{}, 100, logx.Nop())

	// Simulate a crash after MarkMessageSent but before DeleteMessage.
	m := queueMessage(t, st, "telegram")
	if err := st.MarkMessageSent(ctx, m); err != nil {
		t.Fatal(err)
	}

	if err := d.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	exists, err := st.MessageExists(ctx, m.ServerName, m.Timestamp)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("sent leftover must be purged at the start of the cycle")
	}
}
