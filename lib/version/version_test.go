// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInjectedCommitWins(t *testing.T) {
	saved := GitCommit
	t.Cleanup(func() { GitCommit = saved })

	GitCommit = "abc1234"
	if got := Info(); !strings.Contains(got, "(abc1234, ") {
		t.Errorf("Info = %q", got)
	}
	if got := Full(); !strings.Contains(got, "Go: go") {
		t.Errorf("Full = %q", got)
	}
}

func TestCommitFallback(t *testing.T) {
	saved := GitCommit
	t.Cleanup(func() { GitCommit = saved })

	GitCommit = ""
	if Commit() == "" {
		t.Error("Commit returned an empty string")
	}
}
