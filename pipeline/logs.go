// ABOUTME: Step log naming, collection and tail truncation.
// ABOUTME: Every log for step N is named with a zero-padded N_ prefix inside the session dir.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultLogTailBytes is how much accumulated log text failure responses
// carry.
const DefaultLogTailBytes = 5000

// StepLogName builds the canonical log filename for one tool invocation at
// a step, e.g. 000_FilterSeq_quality.log. Tools without subcommands pass an
// empty variant.
func StepLogName(index int, tool, variant string) string {
	if variant == "" {
		return fmt.Sprintf("%03d_%s.log", index, tool)
	}
	return fmt.Sprintf("%03d_%s_%s.log", index, tool, variant)
}

// stepLogPath is StepLogName joined onto the session directory.
func stepLogPath(dir string, index int, tool, variant string) string {
	return filepath.Join(dir, StepLogName(index, tool, variant))
}

// CollectStepLogs concatenates every log file for the given step index, in
// name order, with a banner naming each file. Returns "" when the step has
// no logs.
func CollectStepLogs(sessionDir string, index int) string {
	pattern := filepath.Join(sessionDir, fmt.Sprintf("%03d_*.log", index))
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)

	var b strings.Builder
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "===== %s =====\n", filepath.Base(path))
		b.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Tail returns at most n trailing bytes of s.
func Tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
