// ABOUTME: The unit contract and the closed registry of click-to-run operations.
// ABOUTME: Units declare id, group, required channels and a params schema; dispatch is by string id.
package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// Unit groups partition the catalog for clients.
const (
	GroupBulk = "bulk"
	GroupSC   = "sc"
)

// UnitInfo is the catalog entry for one unit. Requires lists the channels
// that must have a current artifact before the executor will dispatch;
// units with conditional inputs keep Requires empty and check themselves.
type UnitInfo struct {
	ID       string               `json:"id"`
	Label    string               `json:"label"`
	Group    string               `json:"group"`
	Requires []string             `json:"requires"`
	Params   map[string]ParamSpec `json:"params"`
}

// Unit is one click-to-run operation. Run executes against the session
// directory at the given step index, mutates state (artifacts, channels,
// aux) on success, and returns the names of the artifacts it produced.
// On error the state mutations are discarded by the executor.
type Unit interface {
	Info() UnitInfo
	Run(ctx context.Context, st *SessionState, dir string, index int, p Params) ([]string, error)
}

// Toolkit bundles the collaborators every unit executes through.
type Toolkit struct {
	Runner   Runner
	Resolver Resolver
}

// NewToolkit wires the default runner and resolver.
func NewToolkit() *Toolkit {
	return &Toolkit{Runner: NewRunner(), Resolver: NewResolver()}
}

// Registry maps unit ids to units and preserves registration order for the
// catalog listing.
type Registry struct {
	mu    sync.RWMutex
	units map[string]Unit
	order []string
}

// NewRegistry creates an empty unit registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]Unit)}
}

// Register adds a unit. Empty and duplicate ids are errors.
func (r *Registry) Register(u Unit) error {
	id := u.Info().ID
	if id == "" {
		return fmt.Errorf("unit has empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.units[id]; exists {
		return fmt.Errorf("unit %q already registered", id)
	}
	r.units[id] = u
	r.order = append(r.order, id)
	return nil
}

// Get looks up a unit by id.
func (r *Registry) Get(id string) (Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[id]
	return u, ok
}

// List returns every unit's catalog entry in registration order.
func (r *Registry) List() []UnitInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]UnitInfo, 0, len(r.order))
	for _, id := range r.order {
		infos = append(infos, r.units[id].Info())
	}
	return infos
}

// DefaultRegistry builds the full catalog in menu order.
func DefaultRegistry(tk *Toolkit) *Registry {
	r := NewRegistry()
	units := []Unit{
		newFilterUnit(tk, filterQuality),
		newFilterUnit(tk, filterLength),
		newFilterUnit(tk, filterMissing),
		newFilterUnit(tk, filterRepeats),
		newFilterUnit(tk, filterTrimQual),
		newFilterUnit(tk, filterMaskQual),
		&maskPrimersUnit{tk: tk},
		&maskPrimersExtractUnit{tk: tk},
		&pairSeqUnit{tk: tk},
		newAssembleUnit(tk, assembleAlign),
		newAssembleUnit(tk, assembleJoin),
		newAssembleUnit(tk, assembleSequential),
		&collapseSeqUnit{tk: tk},
		&buildConsensusUnit{tk: tk},
		newSCUnit(tk, scMergeSamples),
		newSCUnit(tk, scFilterProductive),
		newSCUnit(tk, scRemoveMultiHeavy),
		newSCUnit(tk, scRemoveNoHeavy),
	}
	for _, u := range units {
		if err := r.Register(u); err != nil {
			panic(err)
		}
	}
	return r
}

// requireCurrent resolves a channel's current artifact or reports the
// missing precondition.
func requireCurrent(st *SessionState, channel string) (Artifact, error) {
	a, ok := st.CurrentArtifact(channel)
	if !ok {
		return Artifact{}, precondition("channel %s has no current artifact", channel)
	}
	return a, nil
}
