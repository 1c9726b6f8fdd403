// ABOUTME: Deduplication and UMI consensus units over the assembled or primary stream.
// ABOUTME: Consensus building requires the barcode annotation left by extract-mode masking.
package pipeline

import (
	"context"
	"path/filepath"
	"strconv"
)

// singleStreamInput picks the artifact collapse/consensus operate on:
// the assembled stream when current, else the primary reads.
func singleStreamInput(st *SessionState) (Artifact, error) {
	if a, ok := st.CurrentArtifact(ChannelAssembled); ok {
		return a, nil
	}
	if a, ok := st.CurrentArtifact(ChannelR1); ok {
		return a, nil
	}
	return Artifact{}, precondition("no current ASSEMBLED or R1 artifact to operate on")
}

type collapseSeqUnit struct {
	tk *Toolkit
}

var _ Unit = (*collapseSeqUnit)(nil)

func (u *collapseSeqUnit) Info() UnitInfo {
	return UnitInfo{
		ID:    "collapse_seq",
		Label: "Collapse duplicate sequences",
		Group: GroupBulk,
		Params: map[string]ParamSpec{
			"n":       {Type: ParamInt, Default: 20, Min: f64(0), Help: "Maximum missing bases to tolerate"},
			"uf":      {Type: ParamText, Help: "Annotation fields that must match for collapsing"},
			"cf":      {Type: ParamText, Help: "Annotation fields to aggregate"},
			"act":     {Type: ParamSelect, Default: "set", Options: []string{"set", "min", "max", "sum"}, Help: "Aggregation for cf fields"},
			"outname": {Type: ParamText, Default: "COLLAPSE"},
		},
	}
}

func (u *collapseSeqUnit) Run(ctx context.Context, st *SessionState, dir string, index int, p Params) ([]string, error) {
	in, err := singleStreamInput(st)
	if err != nil {
		return nil, err
	}
	n, err := p.Int("n", 20)
	if err != nil {
		return nil, badParams("%v", err)
	}
	outname := p.String("outname", "COLLAPSE")
	logName := StepLogName(index, "CollapseSeq", "")

	argv := []string{
		"CollapseSeq.py",
		"-s", in.Path,
		"-n", strconv.Itoa(n),
	}
	if uf := splitFields(p.String("uf", "")); len(uf) > 0 {
		argv = append(argv, "--uf")
		argv = append(argv, uf...)
	}
	if cf := splitFields(p.String("cf", "")); len(cf) > 0 {
		argv = append(argv, "--cf")
		argv = append(argv, cf...)
		argv = append(argv, "--act", p.String("act", "set"))
	}
	argv = append(argv, "--outname", outname, "--log", logName)

	logPath := filepath.Join(dir, logName)
	if err := u.tk.Runner.Run(ctx, argv, dir, logPath); err != nil {
		return nil, err
	}
	rel, err := u.tk.Resolver.Resolve(dir, outname, "collapse")
	if err != nil {
		return nil, err
	}
	art := Artifact{
		Name:     "COLLAPSED",
		Path:     rel,
		Kind:     KindForPath(rel),
		Channel:  ChannelAssembled,
		FromStep: index,
	}.WithFields(in.Fields)
	st.SetCurrent(art)
	return []string{art.Name}, nil
}

type buildConsensusUnit struct {
	tk *Toolkit
}

var _ Unit = (*buildConsensusUnit)(nil)

func (u *buildConsensusUnit) Info() UnitInfo {
	return UnitInfo{
		ID:    "build_consensus",
		Label: "Build UMI consensus",
		Group: GroupBulk,
		Params: map[string]ParamSpec{
			"bf":       {Type: ParamText, Default: "BARCODE", Help: "Barcode annotation field to group by"},
			"qmin":     {Type: ParamInt, Min: f64(0), Max: f64(40), Help: "Minimum per-position quality"},
			"freq":     {Type: ParamFloat, Min: f64(0), Max: f64(1), Help: "Minimum character frequency"},
			"maxgap":   {Type: ParamFloat, Min: f64(0), Max: f64(1), Help: "Maximum gap frequency before a position is dropped"},
			"maxdiv":   {Type: ParamFloat, Min: f64(0), Help: "Maximum diversity within a group (exclusive with maxerror)"},
			"maxerror": {Type: ParamFloat, Min: f64(0), Max: f64(1), Help: "Maximum error within a group (exclusive with maxdiv)"},
			"act":      {Type: ParamText, Help: "Comma-separated aggregation actions for copy fields"},
			"dep":      {Type: ParamSelect, Default: "false", Options: []string{"false", "true"}, Help: "Weight consensus by quality-dependent error"},
		},
	}
}

func (u *buildConsensusUnit) Run(ctx context.Context, st *SessionState, dir string, index int, p Params) ([]string, error) {
	in, err := singleStreamInput(st)
	if err != nil {
		return nil, err
	}
	if p.Has("maxdiv") && p.Has("maxerror") {
		return nil, badParams("maxdiv and maxerror are mutually exclusive")
	}
	bf := p.String("bf", "BARCODE")
	if !in.HasField(bf) {
		return nil, precondition("input %s lacks the %s annotation; run extract-mode primer masking first", in.Name, bf)
	}

	logName := StepLogName(index, "BuildConsensus", "")

	// Tuning flags ride only when supplied; the tool's own defaults apply
	// otherwise.
	argv := []string{
		"BuildConsensus.py",
		"-s", in.Path,
		"--bf", bf,
	}
	if p.Has("qmin") {
		qmin, err := p.Int("qmin", 0)
		if err != nil {
			return nil, badParams("%v", err)
		}
		argv = append(argv, "-q", strconv.Itoa(qmin))
	}
	if p.Has("freq") {
		freq, err := p.Float("freq", 0.6)
		if err != nil {
			return nil, badParams("%v", err)
		}
		argv = append(argv, "--freq", formatFloat(freq))
	}
	if p.Has("maxgap") {
		maxgap, err := p.Float("maxgap", 0.5)
		if err != nil {
			return nil, badParams("%v", err)
		}
		argv = append(argv, "--maxgap", formatFloat(maxgap))
	}
	if p.Has("maxdiv") {
		maxdiv, err := p.Float("maxdiv", 0)
		if err != nil {
			return nil, badParams("%v", err)
		}
		argv = append(argv, "--maxdiv", formatFloat(maxdiv))
	}
	if p.Has("maxerror") {
		maxerror, err := p.Float("maxerror", 0)
		if err != nil {
			return nil, badParams("%v", err)
		}
		argv = append(argv, "--maxerror", formatFloat(maxerror))
	}
	if acts := splitFields(p.String("act", "")); len(acts) > 0 {
		argv = append(argv, "--act")
		argv = append(argv, acts...)
	}
	if p.Bool("dep", false) {
		argv = append(argv, "--dep")
	}
	argv = append(argv, "--outname", "CONS", "--log", logName)

	logPath := filepath.Join(dir, logName)
	if err := u.tk.Runner.Run(ctx, argv, dir, logPath); err != nil {
		return nil, err
	}
	rel, err := u.tk.Resolver.Resolve(dir, "CONS", "consensus")
	if err != nil {
		return nil, err
	}
	art := Artifact{
		Name:     "CONSENSUS",
		Path:     rel,
		Kind:     KindForPath(rel),
		FromStep: index,
	}.WithFields(in.Fields)
	st.Register(art)
	return []string{art.Name}, nil
}
