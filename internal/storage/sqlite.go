package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"codetraq/internal/vcs"
	"codetraq/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- server revisions ----

const serverColumns = `address, short_name, kind, username, password, branch, should_poll,
	last_polled_at, rev_id, rev_author, rev_committer, rev_message, rev_timestamp, rev_files`

func (s *sqliteStore) UpsertServer(ctx context.Context, sr *ServerRevision) error {
	// Config-owned fields refresh on conflict; the snapshot never does.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO server_revisions(address, short_name, kind, username, password, branch, should_poll)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(address) DO UPDATE SET
		   short_name=excluded.short_name, kind=excluded.kind, username=excluded.username,
		   password=excluded.password, branch=excluded.branch, should_poll=excluded.should_poll`,
		sr.Address, sr.ShortName, string(sr.Kind), sr.Username, sr.Password, sr.Branch, sr.ShouldPoll,
	)
	return err
}

func (s *sqliteStore) ServerRevisionByAddress(ctx context.Context, address string) (*ServerRevision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM server_revisions WHERE address = ?`, address)
	return scanServer(row)
}

func (s *sqliteStore) AllServerRevisions(ctx context.Context) ([]*ServerRevision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serverColumns+` FROM server_revisions ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ServerRevision
	for rows.Next() {
		sr, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateServerSnapshot(ctx context.Context, sr *ServerRevision) error {
	files, err := json.Marshal(sr.Files)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE server_revisions SET
		   last_polled_at=?, rev_id=?, rev_author=?, rev_committer=?, rev_message=?, rev_timestamp=?, rev_files=?
		 WHERE address=?`,
		sr.LastPolledAt.UnixMilli(), sr.RevisionID, sr.Author, sr.Committer,
		sr.Message, sr.RevisionTimestamp.UnixMilli(), string(files), sr.Address,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) TouchServerPolled(ctx context.Context, address string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE server_revisions SET last_polled_at=? WHERE address=?`, at.UnixMilli(), address)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) SetServerPolling(ctx context.Context, address string, on bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE server_revisions SET should_poll=? WHERE address=?`, on, address)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) DisableAllPolling(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE server_revisions SET should_poll=0`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (*ServerRevision, error) {
	var (
		sr       ServerRevision
		kind     string
		polledMS int64
		revMS    int64
		files    string
	)
	err := row.Scan(&sr.Address, &sr.ShortName, &kind, &sr.Username, &sr.Password, &sr.Branch,
		&sr.ShouldPoll, &polledMS, &sr.RevisionID, &sr.Author, &sr.Committer, &sr.Message, &revMS, &files)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sr.Kind = vcs.Kind(kind)
	if polledMS > 0 {
		sr.LastPolledAt = time.UnixMilli(polledMS)
	}
	if revMS > 0 {
		sr.RevisionTimestamp = time.UnixMilli(revMS)
	}
	if err := json.Unmarshal([]byte(files), &sr.Files); err != nil {
		return nil, fmt.Errorf("decode rev_files for %s: %w", sr.Address, err)
	}
	return &sr, nil
}

// ---- user revisions ----

func (s *sqliteStore) UserRevision(ctx context.Context, address, owner string) (*UserRevision, error) {
	var ur UserRevision
	err := s.db.QueryRowContext(ctx,
		`SELECT server_address, owner, last_rev_id FROM user_revisions WHERE server_address=? AND owner=?`,
		address, owner).Scan(&ur.ServerAddress, &ur.Owner, &ur.LastRevisionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ur, nil
}

func (s *sqliteStore) EnsureUserRevision(ctx context.Context, address, owner string) (*UserRevision, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_revisions(server_address, owner) VALUES(?,?)
		 ON CONFLICT(server_address, owner) DO NOTHING`, address, owner)
	if err != nil {
		return nil, err
	}
	return s.UserRevision(ctx, address, owner)
}

func (s *sqliteStore) UpdateUserRevision(ctx context.Context, ur *UserRevision) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_revisions SET last_rev_id=? WHERE server_address=? AND owner=?`,
		ur.LastRevisionID, ur.ServerAddress, ur.Owner)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---- messages ----

const messageColumns = `server_name, ts, rev_id, author, subject, body, files,
	recipient_nick, recipient_channel, recipient_handle, sent, retries`

func (s *sqliteStore) SaveMessage(ctx context.Context, m *Message) error {
	files, err := json.Marshal(m.Files)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages(`+messageColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ServerName, m.Timestamp.UnixMilli(), m.RevisionID, m.Author, m.Subject, m.Body, string(files),
		m.Recipient.Nickname, m.Recipient.Channel, m.Recipient.Handle, m.Sent, m.Retries,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return ErrDuplicateMessage
	}
	return err
}

func (s *sqliteStore) UnsentMessages(ctx context.Context) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE sent=0 ORDER BY ts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m     Message
			tsMS  int64
			files string
		)
		if err := rows.Scan(&m.ServerName, &tsMS, &m.RevisionID, &m.Author, &m.Subject, &m.Body, &files,
			&m.Recipient.Nickname, &m.Recipient.Channel, &m.Recipient.Handle, &m.Sent, &m.Retries); err != nil {
			return nil, err
		}
		m.Timestamp = time.UnixMilli(tsMS)
		if err := json.Unmarshal([]byte(files), &m.Files); err != nil {
			return nil, fmt.Errorf("decode files for message %s/%d: %w", m.ServerName, tsMS, err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) IncrementMessageRetries(ctx context.Context, m *Message) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET retries = retries + 1 WHERE server_name=? AND ts=?`,
		m.ServerName, m.Timestamp.UnixMilli())
	if err != nil {
		return err
	}
	m.Retries++
	return requireRow(res)
}

func (s *sqliteStore) MarkMessageSent(ctx context.Context, m *Message) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET sent=1 WHERE server_name=? AND ts=?`,
		m.ServerName, m.Timestamp.UnixMilli())
	if err != nil {
		return err
	}
	m.Sent = true
	return requireRow(res)
}

func (s *sqliteStore) DeleteMessage(ctx context.Context, m *Message) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE server_name=? AND ts=?`, m.ServerName, m.Timestamp.UnixMilli())
	return err
}

func (s *sqliteStore) DeleteSentMessages(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE sent=1`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) MessageExists(ctx context.Context, serverName string, ts time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE server_name=? AND ts=?`, serverName, ts.UnixMilli()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
