// ABOUTME: The six read-filtering units built on FilterSeq subcommands.
// ABOUTME: Each runs on R1 and fans out to R2 when present, sharing one step log.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
)

// filterVariant parameterizes one FilterSeq subcommand: which param it
// takes, which tool flag carries it, and its output naming.
type filterVariant struct {
	id     string
	label  string
	sub    string
	param  string
	flag   string
	def    int
	min    float64
	max    *float64
	outPfx string
	tag    string
	help   string
}

var (
	filterQuality = filterVariant{
		id: "filter_quality", label: "Filter by quality", sub: "quality",
		param: "qmin", flag: "-q", def: 20, min: 0, max: f64(40),
		outPfx: "q", tag: "quality", help: "Minimum mean Phred quality",
	}
	filterLength = filterVariant{
		id: "filter_length", label: "Filter by length", sub: "length",
		param: "minlen", flag: "-n", def: 125, min: 1,
		outPfx: "len", tag: "length", help: "Minimum sequence length",
	}
	filterMissing = filterVariant{
		id: "filter_missing", label: "Filter by missing bases", sub: "missing",
		param: "maxmiss", flag: "-n", def: 10, min: 0,
		outPfx: "m", tag: "missing", help: "Maximum N count",
	}
	filterRepeats = filterVariant{
		id: "filter_repeats", label: "Filter by repeats", sub: "repeats",
		param: "maxrep", flag: "-n", def: 15, min: 1,
		outPfx: "rep", tag: "repeats", help: "Maximum homopolymer length",
	}
	filterTrimQual = filterVariant{
		id: "filter_trimqual", label: "Trim low-quality ends", sub: "trimqual",
		param: "qmin", flag: "-q", def: 20, min: 0, max: f64(40),
		outPfx: "tq", tag: "trimqual", help: "Quality trimming threshold",
	}
	filterMaskQual = filterVariant{
		id: "filter_maskqual", label: "Mask low-quality bases", sub: "maskqual",
		param: "qmin", flag: "-q", def: 20, min: 0, max: f64(40),
		outPfx: "mq", tag: "maskqual", help: "Quality masking threshold",
	}
)

type filterUnit struct {
	tk *Toolkit
	v  filterVariant
}

var _ Unit = (*filterUnit)(nil)

func newFilterUnit(tk *Toolkit, v filterVariant) *filterUnit {
	return &filterUnit{tk: tk, v: v}
}

func (u *filterUnit) Info() UnitInfo {
	min := u.v.min
	return UnitInfo{
		ID:       u.v.id,
		Label:    u.v.label,
		Group:    GroupBulk,
		Requires: []string{ChannelR1},
		Params: map[string]ParamSpec{
			u.v.param: {Type: ParamInt, Default: u.v.def, Min: &min, Max: u.v.max, Help: u.v.help},
		},
	}
}

func (u *filterUnit) Run(ctx context.Context, st *SessionState, dir string, index int, p Params) ([]string, error) {
	r1, err := requireCurrent(st, ChannelR1)
	if err != nil {
		return nil, err
	}
	val, err := p.Int(u.v.param, u.v.def)
	if err != nil {
		return nil, badParams("%v", err)
	}

	logName := StepLogName(index, "FilterSeq", u.v.sub)
	produced := make([]string, 0, 2)

	out, err := u.runLeg(ctx, st, dir, index, logName, r1, "R1", val)
	if err != nil {
		return nil, err
	}
	produced = append(produced, out)

	if r2, ok := st.CurrentArtifact(ChannelR2); ok {
		out, err := u.runLeg(ctx, st, dir, index, logName, r2, "R2", val)
		if err != nil {
			return nil, err
		}
		produced = append(produced, out)
	}
	return produced, nil
}

// runLeg filters one channel's current artifact and re-points the channel
// at the pass output.
func (u *filterUnit) runLeg(ctx context.Context, st *SessionState, dir string, index int, logName string, in Artifact, prefix string, val int) (string, error) {
	outname := fmt.Sprintf("%s_%s%d", prefix, u.v.outPfx, val)
	argv := []string{
		"FilterSeq.py", u.v.sub,
		"-s", in.Path,
		u.v.flag, strconv.Itoa(val),
		"--outname", outname,
		"--log", logName,
	}
	if err := u.tk.Runner.Run(ctx, argv, dir, filepath.Join(dir, logName)); err != nil {
		return "", err
	}
	rel, err := u.tk.Resolver.Resolve(dir, outname, u.v.tag)
	if err != nil {
		return "", err
	}
	art := Artifact{
		Name:     prefix + "_" + u.v.tag,
		Path:     rel,
		Kind:     KindForPath(rel),
		Channel:  in.Channel,
		FromStep: index,
	}.WithFields(in.Fields)
	st.SetCurrent(art)
	return art.Name, nil
}
