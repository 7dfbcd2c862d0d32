package vcs

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"codetraq/pkg/logx"
)

// svnSchemes are the transports the subversion client understands. Anything
// else is a config mistake, reported before touching the network.
var svnSchemes = []string{"http://", "https://", "svn://", "svn+ssh://", "file://"}

// SvnAdapter fetches the newest log entry of a subversion repository through
// the host svn binary (`svn log --xml`).
type SvnAdapter struct {
	Timeout time.Duration
	Log     logx.Logger
}

func NewSvnAdapter(log logx.Logger) *SvnAdapter {
	return &SvnAdapter{Timeout: 60 * time.Second, Log: log}
}

func (a *SvnAdapter) Kind() Kind { return Subversion }

func (a *SvnAdapter) FetchLatest(ctx context.Context, ref ServerRef) (RevisionInfo, error) {
	if !hasSvnScheme(ref.Address) {
		return RevisionInfo{}, fmt.Errorf("server %s: address must start with one of %s",
			ref.Address, strings.Join(svnSchemes, ", "))
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	args := []string{"log", "--xml", "-v", "-l", "1", "--non-interactive", "--no-auth-cache"}
	if ref.Username != "" {
		args = append(args, "--username", ref.Username, "--password", ref.Password)
	}
	args = append(args, ref.Address)

	cmd := exec.CommandContext(ctx, "svn", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return RevisionInfo{}, fmt.Errorf("svn log %s: %w: %s", ref.Address, err, strings.TrimSpace(stderr.String()))
	}
	return parseSvnLog(stdout.Bytes())
}

func hasSvnScheme(address string) bool {
	for _, s := range svnSchemes {
		if strings.HasPrefix(address, s) {
			return true
		}
	}
	return false
}

type svnLog struct {
	Entries []svnLogEntry `xml:"logentry"`
}

type svnLogEntry struct {
	Revision int64     `xml:"revision,attr"`
	Author   string    `xml:"author"`
	Date     string    `xml:"date"`
	Message  string    `xml:"msg"`
	Paths    []svnPath `xml:"paths>path"`
}

type svnPath struct {
	Action string `xml:"action,attr"`
	Path   string `xml:",chardata"`
}

// parseSvnLog decodes `svn log --xml -v` output and returns the entry with
// the highest revision number (the client already limits to one, but the
// max-pick mirrors what the poll loop relies on).
func parseSvnLog(out []byte) (RevisionInfo, error) {
	var lg svnLog
	if err := xml.Unmarshal(out, &lg); err != nil {
		return RevisionInfo{}, fmt.Errorf("parse svn log: %w", err)
	}
	if len(lg.Entries) == 0 {
		return RevisionInfo{}, ErrNoRevisions
	}

	latest := lg.Entries[0]
	for _, e := range lg.Entries[1:] {
		if e.Revision > latest.Revision {
			latest = e
		}
	}

	ts, err := time.Parse(time.RFC3339, latest.Date)
	if err != nil {
		return RevisionInfo{}, fmt.Errorf("bad svn date %q: %w", latest.Date, err)
	}

	info := RevisionInfo{
		ID:        RevisionID{Kind: Subversion, Numeric: latest.Revision},
		Author:    latest.Author,
		Committer: latest.Author, // svn does not distinguish committer
		Message:   latest.Message,
		Timestamp: ts,
	}
	for _, p := range latest.Paths {
		info.Files = append(info.Files, FileChange{Status: p.Action, Path: p.Path})
	}
	return info, nil
}
