// ABOUTME: Primer masking units: align/score against primer FASTAs and positional extract.
// ABOUTME: Masking annotates VPRIMER/CPRIMER; extraction annotates its pf field (barcodes).
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
)

// Aux roles for remembered primer sets.
const (
	AuxVPrimers = "v_primers"
	AuxCPrimers = "c_primers"
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// primerFile resolves a primer FASTA from the explicit param or the
// session's remembered aux role, and verifies it exists.
func primerFile(st *SessionState, dir string, p Params, param, role string) (string, error) {
	name := p.String(param, "")
	if name == "" {
		name = st.Aux[role]
	}
	if name == "" {
		return "", nil
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		return "", badParams("primer file %q not found in session", name)
	}
	return name, nil
}

type maskPrimersUnit struct {
	tk *Toolkit
}

var _ Unit = (*maskPrimersUnit)(nil)

func (u *maskPrimersUnit) Info() UnitInfo {
	return UnitInfo{
		ID:       "mask_primers",
		Label:    "Mask primers",
		Group:    GroupBulk,
		Requires: []string{ChannelR1},
		Params: map[string]ParamSpec{
			"variant":         {Type: ParamSelect, Default: "align", Options: []string{"align", "score"}},
			"mode":            {Type: ParamSelect, Default: "mask", Options: []string{"cut", "mask", "trim", "tag"}},
			"v_primers_fname": {Type: ParamText, Help: "V primer FASTA (defaults to the uploaded v_primers aux)"},
			"c_primers_fname": {Type: ParamText, Help: "C primer FASTA (defaults to the uploaded c_primers aux)"},
			"maxerror":        {Type: ParamFloat, Default: 0.3, Min: f64(0), Max: f64(1)},
			"start":           {Type: ParamInt, Default: 0, Min: f64(0), Help: "Primer start position (score)"},
			"revpr":           {Type: ParamSelect, Default: "false", Options: []string{"false", "true"}, Help: "Match the reverse complement of the primers"},
		},
	}
}

func (u *maskPrimersUnit) Run(ctx context.Context, st *SessionState, dir string, index int, p Params) ([]string, error) {
	r1, err := requireCurrent(st, ChannelR1)
	if err != nil {
		return nil, err
	}

	variant := p.String("variant", "align")
	mode := p.String("mode", "mask")
	maxerror, err := p.Float("maxerror", 0.3)
	if err != nil {
		return nil, badParams("%v", err)
	}
	start, err := p.Int("start", 0)
	if err != nil {
		return nil, badParams("%v", err)
	}

	vfile, err := primerFile(st, dir, p, "v_primers_fname", AuxVPrimers)
	if err != nil {
		return nil, err
	}
	if vfile == "" {
		return nil, badParams("no V primer FASTA: upload one or pass v_primers_fname")
	}
	cfile, err := primerFile(st, dir, p, "c_primers_fname", AuxCPrimers)
	if err != nil {
		return nil, err
	}

	logName := StepLogName(index, "MaskPrimers", variant)
	logPath := filepath.Join(dir, logName)
	produced := make([]string, 0, 2)

	argv := []string{
		"MaskPrimers.py", variant,
		"-s", r1.Path,
		"-p", vfile,
		"--mode", mode,
		"--maxerror", formatFloat(maxerror),
		"--pf", "VPRIMER",
		"--outname", "R1",
		"--log", logName,
	}
	if variant == "score" {
		argv = append(argv, "--start", strconv.Itoa(start))
	}
	if p.Bool("revpr", false) {
		argv = append(argv, "--revpr")
	}
	if err := u.tk.Runner.Run(ctx, argv, dir, logPath); err != nil {
		return nil, err
	}
	rel, err := u.tk.Resolver.Resolve(dir, "R1", "primers")
	if err != nil {
		return nil, err
	}
	art := Artifact{
		Name:     "R1_masked",
		Path:     rel,
		Kind:     KindForPath(rel),
		Channel:  ChannelR1,
		FromStep: index,
	}.WithFields(r1.Fields, map[string]bool{"VPRIMER": true})
	st.SetCurrent(art)
	produced = append(produced, art.Name)

	// The C-primer leg runs only when both an R2 stream and a C primer
	// set are available.
	r2, haveR2 := st.CurrentArtifact(ChannelR2)
	if haveR2 && cfile != "" {
		argv := []string{
			"MaskPrimers.py", variant,
			"-s", r2.Path,
			"-p", cfile,
			"--mode", mode,
			"--maxerror", formatFloat(maxerror),
			"--pf", "CPRIMER",
			"--outname", "R2",
			"--log", logName,
		}
		if variant == "score" {
			argv = append(argv, "--start", strconv.Itoa(start))
		}
		if p.Bool("revpr", false) {
			argv = append(argv, "--revpr")
		}
		if err := u.tk.Runner.Run(ctx, argv, dir, logPath); err != nil {
			return nil, err
		}
		rel, err := u.tk.Resolver.Resolve(dir, "R2", "primers")
		if err != nil {
			return nil, err
		}
		art := Artifact{
			Name:     "R2_masked",
			Path:     rel,
			Kind:     KindForPath(rel),
			Channel:  ChannelR2,
			FromStep: index,
		}.WithFields(r2.Fields, map[string]bool{"CPRIMER": true})
		st.SetCurrent(art)
		produced = append(produced, art.Name)
	}
	return produced, nil
}

type maskPrimersExtractUnit struct {
	tk *Toolkit
}

var _ Unit = (*maskPrimersExtractUnit)(nil)

func (u *maskPrimersExtractUnit) Info() UnitInfo {
	return UnitInfo{
		ID:       "mask_primers_extract",
		Label:    "Extract fixed-position region",
		Group:    GroupBulk,
		Requires: []string{ChannelR1},
		Params: map[string]ParamSpec{
			"start":  {Type: ParamInt, Required: true, Min: f64(0), Help: "Region start position"},
			"length": {Type: ParamInt, Required: true, Min: f64(1), Help: "Region length"},
			"mode":   {Type: ParamSelect, Default: "cut", Options: []string{"cut", "mask", "trim", "tag"}},
			"pf":     {Type: ParamText, Default: "BARCODE", Help: "Annotation field for the extracted region"},
		},
	}
}

func (u *maskPrimersExtractUnit) Run(ctx context.Context, st *SessionState, dir string, index int, p Params) ([]string, error) {
	r1, err := requireCurrent(st, ChannelR1)
	if err != nil {
		return nil, err
	}
	start, err := p.Int("start", 0)
	if err != nil {
		return nil, badParams("%v", err)
	}
	length, err := p.Int("length", 0)
	if err != nil {
		return nil, badParams("%v", err)
	}
	if length < 1 {
		return nil, badParams("length must be >= 1")
	}
	mode := p.String("mode", "cut")
	pf := p.String("pf", "BARCODE")

	logName := StepLogName(index, "MaskPrimers", "extract")
	logPath := filepath.Join(dir, logName)
	argv := []string{
		"MaskPrimers.py", "extract",
		"-s", r1.Path,
		"--start", strconv.Itoa(start),
		"--len", strconv.Itoa(length),
		"--mode", mode,
		"--pf", pf,
		"--outname", "R1",
		"--log", logName,
	}
	if err := u.tk.Runner.Run(ctx, argv, dir, logPath); err != nil {
		return nil, err
	}
	rel, err := u.tk.Resolver.Resolve(dir, "R1", "primers")
	if err != nil {
		return nil, err
	}
	art := Artifact{
		Name:     "R1_extracted",
		Path:     rel,
		Kind:     KindForPath(rel),
		Channel:  ChannelR1,
		FromStep: index,
	}.WithFields(r1.Fields, map[string]bool{pf: true})
	st.SetCurrent(art)
	produced := []string{art.Name}

	// Paired data extracts the same region from the R2 stream so both mates
	// carry the annotation.
	if r2, ok := st.CurrentArtifact(ChannelR2); ok {
		argv := []string{
			"MaskPrimers.py", "extract",
			"-s", r2.Path,
			"--start", strconv.Itoa(start),
			"--len", strconv.Itoa(length),
			"--mode", mode,
			"--pf", pf,
			"--outname", "R2",
			"--log", logName,
		}
		if err := u.tk.Runner.Run(ctx, argv, dir, logPath); err != nil {
			return nil, err
		}
		rel, err := u.tk.Resolver.Resolve(dir, "R2", "primers")
		if err != nil {
			return nil, err
		}
		art := Artifact{
			Name:     "R2_extracted",
			Path:     rel,
			Kind:     KindForPath(rel),
			Channel:  ChannelR2,
			FromStep: index,
		}.WithFields(r2.Fields, map[string]bool{pf: true})
		st.SetCurrent(art)
		produced = append(produced, art.Name)
	}
	return produced, nil
}
