// ABOUTME: The executor: dispatches one unit against one session under its lock.
// ABOUTME: State persists only on success; failures surface with the step's log tail attached.
package pipeline

import (
	"context"
	"fmt"
)

// RunOutcome is the success payload of one executed unit.
type RunOutcome struct {
	Step      StepResult          `json:"step"`
	Current   map[string]string   `json:"current"`
	Artifacts map[string]Artifact `json:"artifacts"`
}

// Executor owns the data directory, the unit catalog and the per-session
// locks. All session mutations flow through it.
type Executor struct {
	BaseDir   string
	Registry  *Registry
	Locks     *SessionLocks
	TailBytes int
}

// NewExecutor wires an executor over a data directory.
func NewExecutor(baseDir string, reg *Registry) *Executor {
	return &Executor{
		BaseDir:   baseDir,
		Registry:  reg,
		Locks:     NewSessionLocks(),
		TailBytes: DefaultLogTailBytes,
	}
}

func (e *Executor) tailBytes() int {
	if e.TailBytes > 0 {
		return e.TailBytes
	}
	return DefaultLogTailBytes
}

// Execute runs one unit against a session: load, check, run, append,
// persist. On any unit failure the in-memory state is discarded and the
// error carries the tail of the step's accumulated logs.
func (e *Executor) Execute(ctx context.Context, sessionID, unitID string, params Params) (*RunOutcome, error) {
	dir, err := SessionDir(e.BaseDir, sessionID)
	if err != nil {
		return nil, err
	}

	unlock := e.Locks.Lock(sessionID)
	defer unlock()

	st, err := LoadState(dir)
	if err != nil {
		return nil, err
	}

	unit, ok := e.Registry.Get(unitID)
	if !ok {
		return nil, notFound("unit", unitID)
	}
	info := unit.Info()

	for _, ch := range info.Requires {
		if _, ok := st.CurrentArtifact(ch); !ok {
			return nil, precondition("unit %s requires a current %s artifact", unitID, ch)
		}
	}
	if err := ValidateParams(info.Params, params); err != nil {
		return nil, err
	}

	index := st.NextStep()
	produced, err := unit.Run(ctx, st, dir, index, params)
	if err != nil {
		return nil, &StepError{
			Unit:    unitID,
			Step:    index,
			LogTail: Tail(CollectStepLogs(dir, index), e.tailBytes()),
			Err:     err,
		}
	}

	if params == nil {
		params = Params{}
	}
	step := StepResult{
		Index:     index,
		Unit:      unitID,
		Params:    map[string]any(params),
		Artifacts: produced,
	}
	st.Steps = append(st.Steps, step)

	if err := SaveState(dir, st); err != nil {
		return nil, fmt.Errorf("persist state: %w", err)
	}
	return &RunOutcome{Step: step, Current: st.Current, Artifacts: st.Artifacts}, nil
}

// Load returns a session's state under its lock.
func (e *Executor) Load(sessionID string) (*SessionState, error) {
	dir, err := SessionDir(e.BaseDir, sessionID)
	if err != nil {
		return nil, err
	}
	unlock := e.Locks.Lock(sessionID)
	defer unlock()
	return LoadState(dir)
}

// Mutate runs fn against a session's directory and state under its lock,
// persisting the state only when fn succeeds.
func (e *Executor) Mutate(sessionID string, fn func(dir string, st *SessionState) error) (*SessionState, error) {
	dir, err := SessionDir(e.BaseDir, sessionID)
	if err != nil {
		return nil, err
	}
	unlock := e.Locks.Lock(sessionID)
	defer unlock()

	st, err := LoadState(dir)
	if err != nil {
		return nil, err
	}
	if err := fn(dir, st); err != nil {
		return nil, err
	}
	if err := SaveState(dir, st); err != nil {
		return nil, fmt.Errorf("persist state: %w", err)
	}
	return st, nil
}
