// ABOUTME: Tests for step log naming, collection and tail truncation.
package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStepLogName(t *testing.T) {
	if got := StepLogName(0, "FilterSeq", "quality"); got != "000_FilterSeq_quality.log" {
		t.Errorf("got %q", got)
	}
	if got := StepLogName(12, "PairSeq", ""); got != "012_PairSeq.log" {
		t.Errorf("got %q", got)
	}
}

func TestCollectStepLogsConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("002_AssemblePairs_align.log", "assemble output")
	write("002_ParseLog.log", "parse output\n")
	write("001_FilterSeq_quality.log", "other step")

	got := CollectStepLogs(dir, 2)
	if !strings.Contains(got, "===== 002_AssemblePairs_align.log =====") {
		t.Errorf("missing assemble banner:\n%s", got)
	}
	if !strings.Contains(got, "===== 002_ParseLog.log =====") {
		t.Errorf("missing parse banner:\n%s", got)
	}
	if strings.Contains(got, "001_FilterSeq") {
		t.Errorf("picked up another step's log:\n%s", got)
	}
	if strings.Index(got, "AssemblePairs") > strings.Index(got, "ParseLog") {
		t.Errorf("logs out of name order:\n%s", got)
	}
	if !strings.HasSuffix(got, "\n") {
		t.Error("missing trailing newline after unterminated log")
	}
}

func TestCollectStepLogsEmpty(t *testing.T) {
	if got := CollectStepLogs(t.TempDir(), 5); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestTail(t *testing.T) {
	if got := Tail("abcdef", 3); got != "def" {
		t.Errorf("got %q", got)
	}
	if got := Tail("ab", 5); got != "ab" {
		t.Errorf("short input: got %q", got)
	}
	if got := Tail("abcdef", 0); got != "abcdef" {
		t.Errorf("zero limit: got %q", got)
	}
}
