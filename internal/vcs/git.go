package vcs

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codetraq/pkg/logx"
)

// field/record separators used in the git log pretty format.
const (
	gitFieldSep  = "\x1f"
	gitRecordSep = "\x1e"
)

// GitAdapter reads the latest commit of a repository through the host git
// binary. Each server gets a local mirror under ReposDir (cloned on first
// contact, updated with remote update afterwards), so a slow remote only
// costs one fetch per cycle.
type GitAdapter struct {
	ReposDir string
	Timeout  time.Duration
	Log      logx.Logger
}

func NewGitAdapter(reposDir string, log logx.Logger) *GitAdapter {
	return &GitAdapter{ReposDir: reposDir, Timeout: 60 * time.Second, Log: log}
}

func (a *GitAdapter) Kind() Kind { return Git }

func (a *GitAdapter) FetchLatest(ctx context.Context, ref ServerRef) (RevisionInfo, error) {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	dir, err := a.syncMirror(ctx, ref)
	if err != nil {
		return RevisionInfo{}, err
	}
	return a.latestCommit(ctx, dir, ref.Branch)
}

// syncMirror clones the repository on first contact and updates it on every
// later call. Returns the mirror directory.
func (a *GitAdapter) syncMirror(ctx context.Context, ref ServerRef) (string, error) {
	if ref.ShortName == "" {
		return "", fmt.Errorf("git server %s has no short name", ref.Address)
	}
	dir := filepath.Join(a.ReposDir, ref.ShortName+".git")

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(a.ReposDir, 0o755); err != nil {
			return "", err
		}
		a.Log.Info("cloning repository", logx.String("address", ref.Address), logx.String("dir", dir))
		if out, err := a.git(ctx, "", "clone", "--mirror", "--quiet", authURL(ref), dir); err != nil {
			return "", fmt.Errorf("git clone %s: %w: %s", ref.Address, err, out)
		}
		return dir, nil
	}

	if out, err := a.git(ctx, dir, "remote", "update", "--prune"); err != nil {
		return "", fmt.Errorf("git fetch %s: %w: %s", ref.Address, err, out)
	}
	return dir, nil
}

func (a *GitAdapter) latestCommit(ctx context.Context, dir, branch string) (RevisionInfo, error) {
	if branch == "" {
		branch = "HEAD"
	}
	format := strings.Join([]string{"%H", "%an (%ae)", "%cn (%ce)", "%ad", "%s"}, gitFieldSep) + gitRecordSep
	out, err := a.git(ctx, dir,
		"log", "-1", "--name-status", "--date=unix", "--pretty=format:"+format, branch, "--")
	if err != nil {
		return RevisionInfo{}, fmt.Errorf("git log %s: %w: %s", branch, err, out)
	}
	return parseGitLog(out)
}

// parseGitLog decodes one `git log -1 --name-status` record produced with
// the adapter's pretty format.
func parseGitLog(out string) (RevisionInfo, error) {
	head, tail, found := strings.Cut(out, gitRecordSep)
	if !found {
		return RevisionInfo{}, ErrNoRevisions
	}
	fields := strings.Split(head, gitFieldSep)
	if len(fields) != 5 {
		return RevisionInfo{}, fmt.Errorf("unexpected git log output: %q", head)
	}

	secs, err := strconv.ParseInt(strings.TrimSpace(fields[3]), 10, 64)
	if err != nil {
		return RevisionInfo{}, fmt.Errorf("bad commit date %q: %w", fields[3], err)
	}

	info := RevisionInfo{
		ID:        RevisionID{Kind: Git, Opaque: fields[0]},
		Author:    fields[1],
		Committer: fields[2],
		Message:   fields[4],
		Timestamp: time.Unix(secs, 0),
	}

	for _, line := range strings.Split(tail, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		switch {
		case len(parts) == 2:
			info.Files = append(info.Files, FileChange{Status: parts[0][:1], Path: parts[1]})
		case len(parts) == 3 && strings.HasPrefix(parts[0], "R"):
			info.Files = append(info.Files, FileChange{Status: "[Renamed] from " + parts[1] + " to", Path: parts[2]})
		case len(parts) == 3 && strings.HasPrefix(parts[0], "C"):
			info.Files = append(info.Files, FileChange{Status: "[Copied] from " + parts[1] + " to", Path: parts[2]})
		}
	}
	return info, nil
}

func (a *GitAdapter) git(ctx context.Context, dir string, args ...string) (string, error) {
	if dir != "" {
		args = append([]string{"--git-dir", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

// authURL embeds basic credentials into http(s) remotes. Other transports
// (ssh, git) rely on the host's own credential setup.
func authURL(ref ServerRef) string {
	if ref.Username == "" {
		return ref.Address
	}
	u, err := url.Parse(ref.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ref.Address
	}
	if ref.Password != "" {
		u.User = url.UserPassword(ref.Username, ref.Password)
	} else {
		u.User = url.User(ref.Username)
	}
	return u.String()
}
