package vcs

import "testing"

const sampleSvnLog = `<?xml version="1.0" encoding="UTF-8"?>
<log>
<logentry revision="12">
<author>alice</author>
<date>2024-03-01T10:15:30.000000Z</date>
<paths>
<path action="M">/trunk/src/main.c</path>
<path action="A">/trunk/docs/notes.txt</path>
</paths>
<msg>fix the frobnicator</msg>
</logentry>
</log>`

func TestParseSvnLog(t *testing.T) {
	t.Parallel()

	info, err := parseSvnLog([]byte(sampleSvnLog))
	if err != nil {
		t.Fatalf("parseSvnLog: %v", err)
	}
	if info.ID.Numeric != 12 {
		t.Fatalf("revision = %d, want 12", info.ID.Numeric)
	}
	if info.Author != "alice" || info.Committer != "alice" {
		t.Fatalf("author/committer = %q/%q", info.Author, info.Committer)
	}
	if info.Message != "fix the frobnicator" {
		t.Fatalf("message = %q", info.Message)
	}
	if len(info.Files) != 2 {
		t.Fatalf("files = %d, want 2", len(info.Files))
	}
	if info.Files[0].Status != "M" || info.Files[0].Path != "/trunk/src/main.c" {
		t.Fatalf("unexpected first path: %+v", info.Files[0])
	}
}

func TestParseSvnLogEmpty(t *testing.T) {
	t.Parallel()
	if _, err := parseSvnLog([]byte(`<log></log>`)); err != ErrNoRevisions {
		t.Fatalf("err = %v, want ErrNoRevisions", err)
	}
}

func TestHasSvnScheme(t *testing.T) {
	t.Parallel()
	if !hasSvnScheme("svn+ssh://host/repo") {
		t.Fatal("svn+ssh should be accepted")
	}
	if hasSvnScheme("ftp://host/repo") {
		t.Fatal("ftp should be rejected")
	}
}
