// ABOUTME: Startup validation that the external tools the units shell out to exist.
// ABOUTME: Runs before the server listens so a misconfigured host fails loud and early.
package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// RequiredTools are the executables units invoke. Every one must resolve on
// PATH for the full catalog to be usable.
var RequiredTools = []string{
	"FilterSeq.py",
	"MaskPrimers.py",
	"PairSeq.py",
	"AssemblePairs.py",
	"CollapseSeq.py",
	"BuildConsensus.py",
	"ParseLog.py",
	"Rscript",
}

// PreflightCheck is a single named validation run before serving.
type PreflightCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// PreflightResult aggregates check outcomes.
type PreflightResult struct {
	Passed []string
	Failed []PreflightFailure
}

// PreflightFailure records one failed check and its reason.
type PreflightFailure struct {
	Name   string
	Reason string
}

// OK reports whether every check passed.
func (r PreflightResult) OK() bool {
	return len(r.Failed) == 0
}

// Error formats all failures as a multi-line string, empty when none.
func (r PreflightResult) Error() string {
	if len(r.Failed) == 0 {
		return ""
	}
	lines := make([]string, 0, len(r.Failed)+1)
	lines = append(lines, fmt.Sprintf("preflight: %d check(s) failed:", len(r.Failed)))
	for _, f := range r.Failed {
		lines = append(lines, fmt.Sprintf("  - %s: %s", f.Name, f.Reason))
	}
	return strings.Join(lines, "\n")
}

// BuildToolChecks produces one PATH-resolution check per required tool.
func BuildToolChecks(tools []string) []PreflightCheck {
	checks := make([]PreflightCheck, 0, len(tools))
	for _, tool := range tools {
		name := tool
		checks = append(checks, PreflightCheck{
			Name: "tool:" + name,
			Check: func(ctx context.Context) error {
				if _, err := exec.LookPath(name); err != nil {
					return fmt.Errorf("%s not found on PATH", name)
				}
				return nil
			},
		})
	}
	return checks
}

// RunPreflight executes every check regardless of earlier failures, so the
// operator gets the complete list of what is missing.
func RunPreflight(ctx context.Context, checks []PreflightCheck) PreflightResult {
	result := PreflightResult{
		Passed: make([]string, 0, len(checks)),
		Failed: make([]PreflightFailure, 0),
	}
	for _, c := range checks {
		if err := c.Check(ctx); err != nil {
			result.Failed = append(result.Failed, PreflightFailure{Name: c.Name, Reason: err.Error()})
		} else {
			result.Passed = append(result.Passed, c.Name)
		}
	}
	return result
}
