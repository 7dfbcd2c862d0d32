package storage

import (
	"context"
	"errors"
	"time"

	"codetraq/internal/vcs"
)

var (
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateMessage is returned when a pending message with the same
	// (server name, timestamp) dedup key already exists.
	ErrDuplicateMessage = errors.New("duplicate message timestamp")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty, "sqlite" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// ServerRevision is the canonical per-server record: config-owned identity
// plus the latest-revision snapshot maintained by the poll loop.
//
// Address is the primary key and is never mutated after creation.
type ServerRevision struct {
	Address    string
	ShortName  string
	Kind       vcs.Kind
	Username   string
	Password   string
	Branch     string
	ShouldPoll bool

	LastPolledAt time.Time

	// Latest-revision snapshot. Only the poll loop writes these.
	RevisionID        string
	Author            string
	Committer         string
	Message           string
	RevisionTimestamp time.Time
	Files             []vcs.FileChange
}

// Ref builds the adapter-facing view of the server.
func (sr *ServerRevision) Ref() vcs.ServerRef {
	return vcs.ServerRef{
		Address:   sr.Address,
		ShortName: sr.ShortName,
		Username:  sr.Username,
		Password:  sr.Password,
		Branch:    sr.Branch,
	}
}

// Due reports whether the server is due for a poll: never polled, or the
// cadence interval has elapsed since the last poll.
func (sr *ServerRevision) Due(interval time.Duration, now time.Time) bool {
	if sr.LastPolledAt.IsZero() {
		return true
	}
	return now.Sub(sr.LastPolledAt) >= interval
}

// UserRevision records the last revision a user has been notified about for
// one server. Keyed by (server address, owner id); the empty revision id is
// the not-yet-seen sentinel.
type UserRevision struct {
	ServerAddress  string
	Owner          string
	LastRevisionID string
}

// Recipient is the denormalized delivery target copied into each message so
// the dispatcher never needs the user table.
type Recipient struct {
	Nickname string
	Channel  string // talker kind: "telegram", "email", ...
	Handle   string
}

// Message is one queued notification. (ServerName, Timestamp) is the dedup
// key; Sent and Retries are dispatcher bookkeeping.
type Message struct {
	ServerName string
	Timestamp  time.Time
	RevisionID string
	Author     string
	Subject    string
	Body       string
	Files      []vcs.FileChange
	Recipient  Recipient
	Sent       bool
	Retries    int
}

// Store is the durable record store behind the pipeline: three independent
// record sets with single-record atomicity and no cross-set transactions.
type Store interface {
	// Server revisions.
	UpsertServer(ctx context.Context, sr *ServerRevision) error
	ServerRevisionByAddress(ctx context.Context, address string) (*ServerRevision, error)
	AllServerRevisions(ctx context.Context) ([]*ServerRevision, error)
	UpdateServerSnapshot(ctx context.Context, sr *ServerRevision) error
	TouchServerPolled(ctx context.Context, address string, at time.Time) error
	SetServerPolling(ctx context.Context, address string, on bool) error
	DisableAllPolling(ctx context.Context) error

	// User acknowledgments.
	UserRevision(ctx context.Context, address, owner string) (*UserRevision, error)
	EnsureUserRevision(ctx context.Context, address, owner string) (*UserRevision, error)
	UpdateUserRevision(ctx context.Context, ur *UserRevision) error

	// Pending messages.
	SaveMessage(ctx context.Context, m *Message) error
	UnsentMessages(ctx context.Context) ([]*Message, error)
	IncrementMessageRetries(ctx context.Context, m *Message) error
	MarkMessageSent(ctx context.Context, m *Message) error
	DeleteMessage(ctx context.Context, m *Message) error
	DeleteSentMessages(ctx context.Context) (int, error)
	MessageExists(ctx context.Context, serverName string, ts time.Time) (bool, error)

	Close() error
}
