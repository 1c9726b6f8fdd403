// ABOUTME: Typed failure conditions raised by units, the runner, and the executor.
// ABOUTME: The web layer maps these onto HTTP status codes with errors.As.
package pipeline

import (
	"fmt"
	"strings"
)

// BadParamsError reports user-supplied parameters that failed validation,
// either against a unit's declared schema or a unit's own semantic checks.
type BadParamsError struct {
	Msg string
}

func (e *BadParamsError) Error() string {
	return e.Msg
}

// badParams builds a BadParamsError with a formatted message.
func badParams(format string, args ...any) error {
	return &BadParamsError{Msg: fmt.Sprintf(format, args...)}
}

// PreconditionError reports a session that is not in a state the unit can
// operate on, such as a required channel with no current artifact.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string {
	return e.Msg
}

func precondition(format string, args ...any) error {
	return &PreconditionError{Msg: fmt.Sprintf(format, args...)}
}

// NoRecordsError reports a tool run that completed but passed zero records:
// a fail-file exists where a pass-file was expected. The caller's input is
// the problem, not the pipeline.
type NoRecordsError struct {
	FailFile string
}

func (e *NoRecordsError) Error() string {
	return fmt.Sprintf("no records passed; see %s", e.FailFile)
}

// MissingOutputError reports a tool run after which the expected output
// could not be found at all. Something about the invocation itself broke.
type MissingOutputError struct {
	Target string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("expected output %s not found", e.Target)
}

// CommandError reports an external tool that exited non-zero, or that was
// killed by the per-invocation timeout.
type CommandError struct {
	ExitCode int
	Argv     []string
	TimedOut bool
}

func (e *CommandError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("command timed out: %s", strings.Join(e.Argv, " "))
	}
	return fmt.Sprintf("command failed with exit code %d: %s", e.ExitCode, strings.Join(e.Argv, " "))
}

// NotFoundError reports a lookup miss: unknown unit, session, artifact or
// step log.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

func notFound(kind, name string) error {
	return &NotFoundError{Kind: kind, Name: name}
}

// StepError wraps a failure raised while executing one unit, together with
// the tail of that step's accumulated log text. State was not persisted.
type StepError struct {
	Unit    string
	Step    int
	LogTail string
	Err     error
}

func (e *StepError) Error() string {
	return e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}
