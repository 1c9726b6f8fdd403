// ABOUTME: Executes external tool invocations with appended log capture.
// ABOUTME: Injects --nproc for tools that accept it and retries once without when rejected.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// EnvWorkers overrides the worker count passed via --nproc when set to a
// positive integer.
const EnvWorkers = "SEQMILL_NPROC"

// nprocTools are the tool basenames that accept a --nproc flag.
var nprocTools = map[string]bool{
	"FilterSeq.py":      true,
	"MaskPrimers.py":    true,
	"PairSeq.py":        true,
	"AssemblePairs.py":  true,
	"CollapseSeq.py":    true,
	"BuildConsensus.py": true,
}

// killGrace is how long a timed-out process group gets between SIGTERM and
// SIGKILL.
const killGrace = 5 * time.Second

// Runner executes one external tool invocation inside a session directory,
// appending all output to the step's log file.
type Runner interface {
	Run(ctx context.Context, argv []string, dir, logPath string) error
}

// ExecRunner runs tools as child processes in their own process group.
// Workers is the --nproc value (0 means the number of CPUs); Timeout, when
// positive, bounds each invocation's wall clock.
type ExecRunner struct {
	Workers int
	Timeout time.Duration
}

var _ Runner = (*ExecRunner)(nil)

// NewRunner builds an ExecRunner honoring the worker-count environment
// override.
func NewRunner() *ExecRunner {
	r := &ExecRunner{}
	if v := os.Getenv(EnvWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			r.Workers = n
		}
	}
	return r
}

func (r *ExecRunner) workerCount() int {
	if r.Workers > 0 {
		return r.Workers
	}
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return n
}

// Run executes argv in dir. For tools known to accept it, --nproc N is
// appended unless the caller already supplied one. If the tool then fails
// and its log shows an unrecognized-flag complaint naming --nproc, the
// invocation is retried exactly once without the flag.
func (r *ExecRunner) Run(ctx context.Context, argv []string, dir, logPath string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}

	appended := false
	attempt := argv
	if nprocTools[filepath.Base(argv[0])] && !hasToken(argv, "--nproc") {
		attempt = append(append([]string{}, argv...), "--nproc", strconv.Itoa(r.workerCount()))
		appended = true
	}

	err := r.runOnce(ctx, attempt, dir, logPath)
	if err == nil || !appended {
		return err
	}
	var cmdErr *CommandError
	if !asCommandExit(err, &cmdErr) {
		return err
	}
	if !logRejectsNproc(logPath) {
		return err
	}

	appendLogLine(logPath, "[RETRY] removing --nproc")
	return r.runOnce(ctx, argv, dir, logPath)
}

// runOnce performs a single invocation: [CMD] header, combined output
// appended to the log, process-group cleanup on timeout.
func (r *ExecRunner) runOnce(ctx context.Context, argv []string, dir, logPath string) error {
	logf, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", logPath, err)
	}
	defer func() { _ = logf.Close() }()

	if _, err := fmt.Fprintf(logf, "[CMD] %s\n", strings.Join(argv, " ")); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(logf, "[ERROR] %v\n", err)
		return fmt.Errorf("start %s: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if r.Timeout > 0 {
		t := time.NewTimer(r.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		code := exitCode(err)
		return &CommandError{ExitCode: code, Argv: argv}
	case <-timeout:
		killProcessGroup(cmd, done)
		fmt.Fprintf(logf, "[TIMEOUT] killed after %s\n", r.Timeout)
		return &CommandError{Argv: argv, TimedOut: true, ExitCode: -1}
	case <-ctx.Done():
		killProcessGroup(cmd, done)
		return ctx.Err()
	}
}

// killProcessGroup terminates the child and everything it spawned: SIGTERM
// to the group, a short grace period, then SIGKILL.
func killProcessGroup(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(killGrace):
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	<-done
}

// exitCode pulls the exit status out of an exec error, -1 when unknown.
func exitCode(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

// asCommandExit reports whether err is a CommandError from a plain non-zero
// exit (not a timeout), assigning it to target.
func asCommandExit(err error, target **CommandError) bool {
	ce, ok := err.(*CommandError)
	if !ok || ce.TimedOut {
		return false
	}
	*target = ce
	return true
}

// logRejectsNproc reports whether the accumulated log shows the tool
// complaining about an unrecognized --nproc flag.
func logRejectsNproc(logPath string) bool {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return false
	}
	low := strings.ToLower(string(data))
	return strings.Contains(low, "unrecognized") && strings.Contains(low, "--nproc")
}

// appendLogLine appends one marker line to the log, best effort.
func appendLogLine(logPath, line string) {
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	fmt.Fprintln(f, line)
}

// hasToken reports whether argv contains the exact token.
func hasToken(argv []string, token string) bool {
	for _, a := range argv {
		if a == token {
			return true
		}
	}
	return false
}
