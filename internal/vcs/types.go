// Package vcs defines the version-control abstractions: the supported
// repository kinds, the tagged revision identifier, and the adapter contract
// used to fetch the latest revision from a server.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Kind identifies a supported version control system.
type Kind string

const (
	Subversion Kind = "svn"
	Git        Kind = "git"
)

// ParseKind normalizes a config value into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "svn", "subversion":
		return Subversion, nil
	case "git":
		return Git, nil
	}
	return "", fmt.Errorf("unknown vcs kind %q", s)
}

// RevisionID is a tagged revision identifier. Subversion revisions are
// numeric and totally ordered; git identifiers are opaque strings with no
// order, only equality.
type RevisionID struct {
	Kind    Kind
	Numeric int64  // valid when Kind == Subversion
	Opaque  string // valid when Kind == Git
}

// ParseID builds a RevisionID from its stored string form. The empty string
// is the not-yet-seen sentinel: it parses to a value that every real
// revision is considered newer than.
func ParseID(kind Kind, raw string) RevisionID {
	switch kind {
	case Subversion:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			n = -1
		}
		return RevisionID{Kind: Subversion, Numeric: n}
	default:
		return RevisionID{Kind: kind, Opaque: raw}
	}
}

func (id RevisionID) String() string {
	if id.Kind == Subversion {
		if id.Numeric < 0 {
			return ""
		}
		return strconv.FormatInt(id.Numeric, 10)
	}
	return id.Opaque
}

// IsZero reports whether the identifier is the not-yet-seen sentinel.
func (id RevisionID) IsZero() bool {
	if id.Kind == Subversion {
		return id.Numeric < 0
	}
	return id.Opaque == ""
}

// Newer reports whether candidate supersedes current. Subversion uses
// numeric ordering; git has no total order, so any non-sentinel identifier
// change counts as newer.
func Newer(candidate, current RevisionID) bool {
	switch candidate.Kind {
	case Subversion:
		return candidate.Numeric > current.Numeric
	case Git:
		return candidate.Opaque != "" && candidate.Opaque != current.Opaque
	}
	return false
}

// FileChange describes one changed path in a revision.
type FileChange struct {
	Status string // A, M, D, or a copy/rename description
	Path   string
}

func (c FileChange) String() string { return c.Status + " " + c.Path }

// RevisionInfo is the latest-revision snapshot an adapter reports.
type RevisionInfo struct {
	ID        RevisionID
	Author    string
	Committer string
	Message   string
	Timestamp time.Time
	Files     []FileChange
}

// ServerRef carries everything an adapter needs to reach one repository.
type ServerRef struct {
	Address   string
	ShortName string
	Username  string
	Password  string
	Branch    string
}

// Adapter answers "what is the latest revision" for one Kind of server.
type Adapter interface {
	Kind() Kind
	FetchLatest(ctx context.Context, ref ServerRef) (RevisionInfo, error)
}

// ErrNoRevisions is returned when a repository is reachable but empty.
var ErrNoRevisions = errors.New("repository has no revisions")

// Registry maps a Kind to its adapter.
type Registry map[Kind]Adapter

func (r Registry) Lookup(kind Kind) (Adapter, error) {
	a, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for vcs kind %q", kind)
	}
	return a, nil
}

func (r Registry) Register(a Adapter) { r[a.Kind()] = a }
