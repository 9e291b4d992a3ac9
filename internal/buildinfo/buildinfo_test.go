package buildinfo

import (
	"strings"
	"testing"
)

func TestSummaryStartsWithVersion(t *testing.T) {
	if got := Summary(); !strings.HasPrefix(got, Version) {
		t.Fatalf("Summary() = %q, want prefix %q", got, Version)
	}
}

func TestReadFillsGoVersion(t *testing.T) {
	info := Read()
	if info.GoVersion == "" {
		t.Fatal("expected go version")
	}
	if info.Version == "" {
		t.Fatal("expected a version")
	}
}

func TestShortRevision(t *testing.T) {
	t.Parallel()
	if got := shortRevision("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("shortRevision = %q", got)
	}
	if got := shortRevision("abc"); got != "abc" {
		t.Fatalf("shortRevision = %q", got)
	}
}
