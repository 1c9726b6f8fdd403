// ABOUTME: Mate pairing and the three paired-end assembly units.
// ABOUTME: Assembly prefers synchronized PAIR1/PAIR2 and falls back to raw R1/R2.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// splitFields turns a comma or whitespace separated list param into tokens.
func splitFields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

var coordSpec = ParamSpec{
	Type: ParamSelect, Default: "sra",
	Options: []string{"sra", "illumina", "solexa", "454", "presto"},
	Help:    "Header coordinate scheme",
}

type pairSeqUnit struct {
	tk *Toolkit
}

var _ Unit = (*pairSeqUnit)(nil)

func (u *pairSeqUnit) Info() UnitInfo {
	return UnitInfo{
		ID:       "pairseq",
		Label:    "Synchronize mate pairs",
		Group:    GroupBulk,
		Requires: []string{ChannelR1, ChannelR2},
		Params: map[string]ParamSpec{
			"coord": coordSpec,
		},
	}
}

func (u *pairSeqUnit) Run(ctx context.Context, st *SessionState, dir string, index int, p Params) ([]string, error) {
	r1, err := requireCurrent(st, ChannelR1)
	if err != nil {
		return nil, err
	}
	r2, err := requireCurrent(st, ChannelR2)
	if err != nil {
		return nil, err
	}
	coord := p.String("coord", "sra")

	logPath := stepLogPath(dir, index, "PairSeq", "")
	argv := []string{
		"PairSeq.py",
		"-1", r1.Path,
		"-2", r2.Path,
		"--coord", coord,
		"--outname", "PAIRED",
	}
	if err := u.tk.Runner.Run(ctx, argv, dir, logPath); err != nil {
		return nil, err
	}

	rel1, err := u.tk.Resolver.Resolve(dir, "PAIRED-1", "pair")
	if err != nil {
		return nil, err
	}
	rel2, err := u.tk.Resolver.Resolve(dir, "PAIRED-2", "pair")
	if err != nil {
		return nil, err
	}

	p1 := Artifact{
		Name:     "PAIR1",
		Path:     rel1,
		Kind:     KindForPath(rel1),
		Channel:  ChannelPair1,
		FromStep: index,
	}.WithFields(r1.Fields)
	p2 := Artifact{
		Name:     "PAIR2",
		Path:     rel2,
		Kind:     KindForPath(rel2),
		Channel:  ChannelPair2,
		FromStep: index,
	}.WithFields(r2.Fields)
	st.SetCurrent(p1)
	st.SetCurrent(p2)
	return []string{p1.Name, p2.Name}, nil
}

// assembleVariant parameterizes one AssemblePairs subcommand.
type assembleVariant struct {
	id    string
	label string
	sub   string
}

var (
	assembleAlign      = assembleVariant{id: "assemble_align", label: "Assemble pairs (align)", sub: "align"}
	assembleJoin       = assembleVariant{id: "assemble_join", label: "Assemble pairs (join)", sub: "join"}
	assembleSequential = assembleVariant{id: "assemble_sequential", label: "Assemble pairs (sequential)", sub: "sequential"}
)

type assembleUnit struct {
	tk *Toolkit
	v  assembleVariant
}

var _ Unit = (*assembleUnit)(nil)

func newAssembleUnit(tk *Toolkit, v assembleVariant) *assembleUnit {
	return &assembleUnit{tk: tk, v: v}
}

func (u *assembleUnit) Info() UnitInfo {
	params := map[string]ParamSpec{
		"coord":       coordSpec,
		"rc":          {Type: ParamSelect, Default: "tail", Options: []string{"tail", "head", "both", "none"}},
		"head_fields": {Type: ParamText, Help: "Annotation fields copied from the head sequence"},
		"tail_fields": {Type: ParamText, Help: "Annotation fields copied from the tail sequence"},
	}
	switch u.v.sub {
	case "align":
		params["maxerror"] = ParamSpec{Type: ParamFloat, Default: 0.3, Min: f64(0), Max: f64(1)}
		params["minlen"] = ParamSpec{Type: ParamInt, Default: 8, Min: f64(1)}
		params["maxlen"] = ParamSpec{Type: ParamInt, Default: 1000, Min: f64(1)}
		params["alpha"] = ParamSpec{Type: ParamFloat, Default: 1e-5, Min: f64(0)}
		params["scanrev"] = ParamSpec{Type: ParamSelect, Default: "false", Options: []string{"false", "true"}}
	case "join":
		params["gap"] = ParamSpec{Type: ParamInt, Default: 0, Min: f64(0)}
	case "sequential":
		params["ref_file"] = ParamSpec{Type: ParamText, Required: true, Help: "Reference FASTA already uploaded to the session"}
		params["minident"] = ParamSpec{Type: ParamFloat, Default: 0.5, Min: f64(0), Max: f64(1)}
		params["evalue"] = ParamSpec{Type: ParamFloat, Default: 1e-5, Min: f64(0)}
		params["maxhits"] = ParamSpec{Type: ParamInt, Default: 100, Min: f64(1)}
		params["aligner"] = ParamSpec{Type: ParamSelect, Default: "blastn", Options: []string{"blastn"}}
	}
	return UnitInfo{
		ID:     u.v.id,
		Label:  u.v.label,
		Group:  GroupBulk,
		Params: params,
	}
}

// assemblyInputs picks the pair to assemble: synchronized PAIR1/PAIR2 when
// both are current, else the raw R1/R2 streams.
func assemblyInputs(st *SessionState) (Artifact, Artifact, error) {
	a, okA := st.CurrentArtifact(ChannelPair1)
	b, okB := st.CurrentArtifact(ChannelPair2)
	if okA && okB {
		return a, b, nil
	}
	a, okA = st.CurrentArtifact(ChannelR1)
	b, okB = st.CurrentArtifact(ChannelR2)
	if okA && okB {
		return a, b, nil
	}
	return Artifact{}, Artifact{}, precondition("assembly requires current PAIR1/PAIR2 or R1/R2 artifacts")
}

func (u *assembleUnit) Run(ctx context.Context, st *SessionState, dir string, index int, p Params) ([]string, error) {
	in1, in2, err := assemblyInputs(st)
	if err != nil {
		return nil, err
	}

	argv := []string{
		"AssemblePairs.py", u.v.sub,
		"-1", in1.Path,
		"-2", in2.Path,
		"--coord", p.String("coord", "sra"),
		"--rc", p.String("rc", "tail"),
	}
	if hf := splitFields(p.String("head_fields", "")); len(hf) > 0 {
		argv = append(argv, "--1f")
		argv = append(argv, hf...)
	}
	if tf := splitFields(p.String("tail_fields", "")); len(tf) > 0 {
		argv = append(argv, "--2f")
		argv = append(argv, tf...)
	}

	switch u.v.sub {
	case "align":
		maxerror, err := p.Float("maxerror", 0.3)
		if err != nil {
			return nil, badParams("%v", err)
		}
		minlen, err := p.Int("minlen", 8)
		if err != nil {
			return nil, badParams("%v", err)
		}
		maxlen, err := p.Int("maxlen", 1000)
		if err != nil {
			return nil, badParams("%v", err)
		}
		alpha, err := p.Float("alpha", 1e-5)
		if err != nil {
			return nil, badParams("%v", err)
		}
		argv = append(argv,
			"--maxerror", formatFloat(maxerror),
			"--minlen", strconv.Itoa(minlen),
			"--maxlen", strconv.Itoa(maxlen),
			"--alpha", formatFloat(alpha),
		)
		if p.Bool("scanrev", false) {
			argv = append(argv, "--scanrev")
		}
	case "join":
		gap, err := p.Int("gap", 0)
		if err != nil {
			return nil, badParams("%v", err)
		}
		argv = append(argv, "--gap", strconv.Itoa(gap))
	case "sequential":
		ref := p.String("ref_file", "")
		if ref == "" {
			return nil, badParams("ref_file is required for sequential assembly")
		}
		if _, err := os.Stat(filepath.Join(dir, ref)); err != nil {
			return nil, badParams("reference file %q not found in session", ref)
		}
		minident, err := p.Float("minident", 0.5)
		if err != nil {
			return nil, badParams("%v", err)
		}
		evalue, err := p.Float("evalue", 1e-5)
		if err != nil {
			return nil, badParams("%v", err)
		}
		maxhits, err := p.Int("maxhits", 100)
		if err != nil {
			return nil, badParams("%v", err)
		}
		argv = append(argv,
			"-r", ref,
			"--minident", formatFloat(minident),
			"--evalue", formatFloat(evalue),
			"--maxhits", strconv.Itoa(maxhits),
			"--aligner", p.String("aligner", "blastn"),
		)
	}
	logName := StepLogName(index, "AssemblePairs", u.v.sub)
	argv = append(argv, "--outname", "ASSEMBLED", "--log", logName)

	if err := u.tk.Runner.Run(ctx, argv, dir, filepath.Join(dir, logName)); err != nil {
		return nil, err
	}
	rel, err := u.tk.Resolver.Resolve(dir, "ASSEMBLED", "assemble")
	if err != nil {
		return nil, err
	}
	art := Artifact{
		Name:     "ASSEMBLED",
		Path:     rel,
		Kind:     KindForPath(rel),
		Channel:  ChannelAssembled,
		FromStep: index,
	}.WithFields(in1.Fields, in2.Fields)
	st.SetCurrent(art)
	produced := []string{art.Name}

	// The align variant distills its log into a summary table of per-pair
	// alignment metrics.
	if u.v.sub == "align" {
		parseArgv := []string{
			"ParseLog.py",
			"-l", logName,
			"-f", "ID", "LENGTH", "OVERLAP", "ERROR", "PVALUE",
			"--outname", "AP",
		}
		parseLog := stepLogPath(dir, index, "ParseLog", "assemble")
		if err := u.tk.Runner.Run(ctx, parseArgv, dir, parseLog); err != nil {
			return nil, err
		}
		if _, err := os.Stat(filepath.Join(dir, "AP_table.tab")); err == nil {
			table := Artifact{
				Name:     "AP_table",
				Path:     "AP_table.tab",
				Kind:     KindTab,
				FromStep: index,
			}
			st.Register(table)
			produced = append(produced, table.Name)
		}
	}
	return produced, nil
}
