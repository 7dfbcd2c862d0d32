package checker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codetraq/internal/storage"
	"codetraq/internal/vcs"
	"codetraq/pkg/logx"
)

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "traq.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedServer(t *testing.T, st storage.Store, revID string) *storage.ServerRevision {
	t.Helper()
	ctx := context.Background()
	sr := &storage.ServerRevision{
		Address:    "https://svn.example.org/core",
		ShortName:  "core",
		Kind:       vcs.Subversion,
		ShouldPoll: true,
	}
	if err := st.UpsertServer(ctx, sr); err != nil {
		t.Fatal(err)
	}
	if revID != "" {
		sr.RevisionID = revID
		sr.Author = "alice"
		sr.Message = "fix build"
		sr.RevisionTimestamp = time.Unix(1700000000, 0)
		sr.Files = []vcs.FileChange{{Status: "M", Path: "src/main.c"}}
		sr.LastPolledAt = time.Now()
		if err := st.UpdateServerSnapshot(ctx, sr); err != nil {
			t.Fatal(err)
		}
	}
	return sr
}

var rcpt = storage.Recipient{Nickname: "Alice", Channel: "telegram", Handle: "42"}

func TestCompareQueuesAndAdvances(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	sr := seedServer(t, st, "12")
	c := New(st, logx.Nop())

	updated, err := c.Compare(ctx, sr.Address, "alice", rcpt)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !updated {
		t.Fatal("expected acknowledgment to advance")
	}

	ur, err := st.UserRevision(ctx, sr.Address, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if ur.LastRevisionID != "12" {
		t.Fatalf("acked revision = %q", ur.LastRevisionID)
	}

	msgs, err := st.UnsentMessages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("pending messages = %d", len(msgs))
	}
	m := msgs[0]
	if m.Subject != "New revision detected for core (12)" {
		t.Errorf("subject = %q", m.Subject)
	}
	if m.Recipient != rcpt {
		t.Errorf("recipient = %+v", m.Recipient)
	}
	for _, want := range []string{"revision: 12", "author: alice", "message: fix build", "modified files:", "M src/main.c"} {
		if !strings.Contains(m.Body, want) {
			t.Errorf("body missing %q:\n%s", want, m.Body)
		}
	}

	// Re-run: already acknowledged, nothing new.
	updated, err = c.Compare(ctx, sr.Address, "alice", rcpt)
	if err != nil {
		t.Fatal(err)
	}
	if updated {
		t.Fatal("second compare must be a no-op")
	}
	msgs, _ = st.UnsentMessages(ctx)
	if len(msgs) != 1 {
		t.Fatalf("pending messages after no-op = %d", len(msgs))
	}
}

func TestCompareNoSnapshotYet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	sr := seedServer(t, st, "")
	c := New(st, logx.Nop())

	updated, err := c.Compare(ctx, sr.Address, "alice", rcpt)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if updated {
		t.Fatal("no snapshot: nothing to acknowledge")
	}
}

func TestCompareMissingServer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	c := New(st, logx.Nop())

	if _, err := c.Compare(ctx, "https://gone.example.org", "alice", rcpt); !errors.Is(err, ErrMissingServerState) {
		t.Fatalf("expected ErrMissingServerState, got %v", err)
	}
}

func TestCompareDuplicatePendingStillAdvances(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	sr := seedServer(t, st, "12")
	c := New(st, logx.Nop())

	// A crash between SaveMessage and UpdateUserRevision leaves the message
	// queued but the acknowledgment behind.
	if err := st.SaveMessage(ctx, NewMessage(sr, rcpt)); err != nil {
		t.Fatal(err)
	}

	updated, err := c.Compare(ctx, sr.Address, "alice", rcpt)
	if err != nil {
		t.Fatalf("Compare with duplicate pending: %v", err)
	}
	if !updated {
		t.Fatal("acknowledgment must still advance past a duplicate")
	}
	ur, _ := st.UserRevision(ctx, sr.Address, "alice")
	if ur.LastRevisionID != "12" {
		t.Fatalf("acked revision = %q", ur.LastRevisionID)
	}
	msgs, _ := st.UnsentMessages(ctx)
	if len(msgs) != 1 {
		t.Fatalf("duplicate must not be double-queued: %d", len(msgs))
	}
}

func TestCompareGitIdentifierChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	c := New(st, logx.Nop())

	sr := &storage.ServerRevision{
		Address:    "https://git.example.org/app.git",
		ShortName:  "app",
		Kind:       vcs.Git,
		Branch:     "HEAD",
		ShouldPoll: true,
	}
	if err := st.UpsertServer(ctx, sr); err != nil {
		t.Fatal(err)
	}
	sr.RevisionID = "deadbeef"
	sr.RevisionTimestamp = time.Unix(1700000000, 0)
	if err := st.UpdateServerSnapshot(ctx, sr); err != nil {
		t.Fatal(err)
	}

	updated, err := c.Compare(ctx, sr.Address, "alice", rcpt)
	if err != nil || !updated {
		t.Fatalf("first git compare: updated=%v err=%v", updated, err)
	}

	// Any identifier change counts, even a "rewind".
	sr.RevisionID = "cafef00d"
	sr.RevisionTimestamp = time.Unix(1700000100, 0)
	if err := st.UpdateServerSnapshot(ctx, sr); err != nil {
		t.Fatal(err)
	}
	updated, err = c.Compare(ctx, sr.Address, "alice", rcpt)
	if err != nil || !updated {
		t.Fatalf("changed git id: updated=%v err=%v", updated, err)
	}
	ur, _ := st.UserRevision(ctx, sr.Address, "alice")
	if ur.LastRevisionID != "cafef00d" {
		t.Fatalf("acked revision = %q", ur.LastRevisionID)
	}
}

func TestFanoutTick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	sr := seedServer(t, st, "9")
	c := New(st, logx.Nop())

	f := NewFanout(c, 3, time.Minute, logx.Nop())
	f.SetPairs([]Pair{
		{ServerAddress: sr.Address, ServerName: sr.ShortName, Owner: "alice", Recipient: rcpt},
		{ServerAddress: "https://gone.example.org", ServerName: "gone", Owner: "alice", Recipient: rcpt},
	})

	if err := f.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	ur, err := st.UserRevision(ctx, sr.Address, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if ur.LastRevisionID != "9" {
		t.Fatalf("acked revision = %q", ur.LastRevisionID)
	}
}
