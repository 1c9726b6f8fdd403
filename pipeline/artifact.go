// ABOUTME: Core session data model: artifacts, logical channels, step history.
// ABOUTME: A session is a directory of files plus one JSON snapshot of this state.
package pipeline

// Kind classifies an artifact's file format.
type Kind string

const (
	KindFastq Kind = "fastq"
	KindFasta Kind = "fasta"
	KindTab   Kind = "tab"
	KindLog   Kind = "log"
	KindOther Kind = "other"
)

// Logical channel names. A channel points at the artifact that the next
// unit consuming that channel should read.
const (
	ChannelR1        = "R1"
	ChannelR2        = "R2"
	ChannelPair1     = "PAIR1"
	ChannelPair2     = "PAIR2"
	ChannelAssembled = "ASSEMBLED"
	ChannelSCTable   = "SC_TABLE"
)

// UploadStep is the from_step value for artifacts that were uploaded rather
// than produced by a unit.
const UploadStep = -1

// Artifact is one named file inside a session directory. Paths are always
// relative to the session directory. Fields records named per-record
// annotations known to be present in the file (for example a barcode tag
// written by primer extraction); downstream units gate on them.
type Artifact struct {
	Name     string          `json:"name"`
	Path     string          `json:"path"`
	Kind     Kind            `json:"kind"`
	Channel  string          `json:"channel,omitempty"`
	Fields   map[string]bool `json:"fields,omitempty"`
	FromStep int             `json:"from_step"`
}

// WithFields returns a copy of a carrying the union of its own fields and
// the given sets. Derived artifacts inherit annotations from their inputs
// because the tools preserve sequence headers.
func (a Artifact) WithFields(sets ...map[string]bool) Artifact {
	merged := make(map[string]bool)
	for k, v := range a.Fields {
		if v {
			merged[k] = true
		}
	}
	for _, s := range sets {
		for k, v := range s {
			if v {
				merged[k] = true
			}
		}
	}
	if len(merged) == 0 {
		a.Fields = nil
		return a
	}
	a.Fields = merged
	return a
}

// HasField reports whether the artifact is known to carry the named
// per-record annotation.
func (a Artifact) HasField(name string) bool {
	return a.Fields[name]
}

// StepResult records one successfully executed unit: its position in the
// session history, the parameters it ran with, and the names of the
// artifacts it produced.
type StepResult struct {
	Index     int            `json:"index"`
	Unit      string         `json:"unit"`
	Params    map[string]any `json:"params"`
	Artifacts []string       `json:"artifacts"`
}

// SessionState is the complete persisted state of one session. Steps is
// append-only; Artifacts maps artifact name to artifact; Current maps
// channel name to the name of that channel's current artifact; Aux maps
// auxiliary roles (primer sets and similar) to filenames in the session
// directory.
type SessionState struct {
	SessionID string              `json:"session_id"`
	Steps     []StepResult        `json:"steps"`
	Artifacts map[string]Artifact `json:"artifacts"`
	Current   map[string]string   `json:"current"`
	Aux       map[string]string   `json:"aux"`
}

// NewSessionState returns an empty state for the given session id.
func NewSessionState(id string) *SessionState {
	return &SessionState{
		SessionID: id,
		Steps:     make([]StepResult, 0),
		Artifacts: make(map[string]Artifact),
		Current:   make(map[string]string),
		Aux:       make(map[string]string),
	}
}

// normalize backfills nil maps after JSON decoding so callers can index
// freely.
func (s *SessionState) normalize() {
	if s.Steps == nil {
		s.Steps = make([]StepResult, 0)
	}
	if s.Artifacts == nil {
		s.Artifacts = make(map[string]Artifact)
	}
	if s.Current == nil {
		s.Current = make(map[string]string)
	}
	if s.Aux == nil {
		s.Aux = make(map[string]string)
	}
}

// Register stores the artifact under its name, replacing any previous
// artifact with the same name.
func (s *SessionState) Register(a Artifact) {
	s.Artifacts[a.Name] = a
}

// SetCurrent registers the artifact and points its channel at it. Artifacts
// without a channel are only registered.
func (s *SessionState) SetCurrent(a Artifact) {
	s.Register(a)
	if a.Channel != "" {
		s.Current[a.Channel] = a.Name
	}
}

// CurrentArtifact resolves a channel to its current artifact. The second
// return is false when the channel has no current artifact or the name
// dangles.
func (s *SessionState) CurrentArtifact(channel string) (Artifact, bool) {
	name, ok := s.Current[channel]
	if !ok {
		return Artifact{}, false
	}
	a, ok := s.Artifacts[name]
	return a, ok
}

// NextStep is the index the next executed unit will occupy.
func (s *SessionState) NextStep() int {
	return len(s.Steps)
}
