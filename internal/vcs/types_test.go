package vcs

import "testing"

func TestParseIDSentinel(t *testing.T) {
	t.Parallel()

	svn := ParseID(Subversion, "")
	if !svn.IsZero() {
		t.Fatalf("empty svn id should be the sentinel, got %+v", svn)
	}
	git := ParseID(Git, "")
	if !git.IsZero() {
		t.Fatalf("empty git id should be the sentinel, got %+v", git)
	}

	if got := ParseID(Subversion, "42"); got.Numeric != 42 {
		t.Fatalf("Numeric = %d, want 42", got.Numeric)
	}
	if got := ParseID(Git, "abc123"); got.Opaque != "abc123" {
		t.Fatalf("Opaque = %q, want abc123", got.Opaque)
	}
}

func TestNewer(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		candidate RevisionID
		current   RevisionID
		want      bool
	}{
		{"svn advance", ParseID(Subversion, "12"), ParseID(Subversion, "10"), true},
		{"svn equal", ParseID(Subversion, "10"), ParseID(Subversion, "10"), false},
		{"svn regress", ParseID(Subversion, "9"), ParseID(Subversion, "10"), false},
		{"svn from sentinel", ParseID(Subversion, "1"), ParseID(Subversion, ""), true},
		{"git change", ParseID(Git, "bbb"), ParseID(Git, "aaa"), true},
		{"git same", ParseID(Git, "aaa"), ParseID(Git, "aaa"), false},
		{"git from sentinel", ParseID(Git, "aaa"), ParseID(Git, ""), true},
		{"git sentinel candidate", ParseID(Git, ""), ParseID(Git, "aaa"), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Newer(tt.candidate, tt.current); got != tt.want {
				t.Fatalf("Newer(%v, %v) = %v, want %v", tt.candidate, tt.current, got, tt.want)
			}
		})
	}
}

func TestRevisionIDString(t *testing.T) {
	t.Parallel()
	if got := ParseID(Subversion, "7").String(); got != "7" {
		t.Fatalf("String() = %q, want 7", got)
	}
	if got := ParseID(Subversion, "").String(); got != "" {
		t.Fatalf("sentinel String() = %q, want empty", got)
	}
	if got := ParseID(Git, "deadbeef").String(); got != "deadbeef" {
		t.Fatalf("String() = %q, want deadbeef", got)
	}
}
