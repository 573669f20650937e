package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	defer func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	}()

	Version = "1.2.3"
	Commit = "abc1234"
	BuildTime = "2026-01-02T03:04:05Z"

	want := "1.2.3 (abc1234) built 2026-01-02T03:04:05Z"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestUserAgent(t *testing.T) {
	origVersion, origCommit := Version, Commit
	defer func() {
		Version, Commit = origVersion, origCommit
	}()

	Version = "dev"
	Commit = "unknown"

	got := UserAgent()
	if !strings.HasPrefix(got, "bjclient/") {
		t.Errorf("UserAgent() = %q, want bjclient/ prefix", got)
	}
	if got != "bjclient/dev+unknown" {
		t.Errorf("UserAgent() = %q, want %q", got, "bjclient/dev+unknown")
	}
}
