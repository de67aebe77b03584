package main

import (
	"bytes"
	"runtime"
	"strings"
	"testing"
)

func TestPrintVersion(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, GitCommit, BuildDate
	defer func() { Version, GitCommit, BuildDate = oldVersion, oldCommit, oldDate }()
	Version, GitCommit, BuildDate = "1.4.0", "abc1234", "2026-03-02"

	var buf bytes.Buffer
	printVersion(&buf)
	out := buf.String()

	for _, want := range []string{"Warden 1.4.0", "abc1234", "2026-03-02", runtime.Version(), runtime.GOOS + "/" + runtime.GOARCH} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q:\n%s", want, out)
		}
	}
}
