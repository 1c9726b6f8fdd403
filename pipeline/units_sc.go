// ABOUTME: Single-cell table units: merge and filter AIRR TSVs via generated R scripts.
// ABOUTME: Inputs are explicit file lists or every *.tsv in the session; outputs register only if produced.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/seqmill/seqmill/rtable"
)

// scVariant parameterizes one table operation: its rtable op, output
// naming, and the extra params beyond the common file selection.
type scVariant struct {
	id             string
	label          string
	op             rtable.Op
	mergedName     string
	mergedArtifact string
	perFilePrefix  string
	perFileArtPfx  string
	hasMode        bool
}

var (
	scMergeSamples = scVariant{
		id: "sc_merge_samples", label: "Merge sample tables", op: rtable.OpMergeSamples,
		mergedName: "MERGED.tsv", mergedArtifact: "SC_MERGED",
	}
	scFilterProductive = scVariant{
		id: "sc_filter_productive", label: "Keep productive rearrangements", op: rtable.OpFilterProductive,
		mergedName: "SC_productive.tsv", mergedArtifact: "SC_PRODUCTIVE",
		perFilePrefix: "SC_prod_", perFileArtPfx: "SC_PROD_", hasMode: true,
	}
	scRemoveMultiHeavy = scVariant{
		id: "sc_remove_multi_heavy", label: "Drop cells with multiple heavy chains", op: rtable.OpRemoveMultiHeavy,
		mergedName: "SC_no_multi_heavy.tsv", mergedArtifact: "SC_NO_MULTI_HEAVY",
		perFilePrefix: "SC_noMH_", perFileArtPfx: "SC_NOMH_", hasMode: true,
	}
	scRemoveNoHeavy = scVariant{
		id: "sc_remove_no_heavy", label: "Drop light chains without a heavy chain", op: rtable.OpRemoveNoHeavy,
		mergedName: "SC_no_heavy.tsv", mergedArtifact: "SC_NO_HEAVY",
		perFilePrefix: "SC_noH_", perFileArtPfx: "SC_NOH_", hasMode: true,
	}
)

type scUnit struct {
	tk *Toolkit
	v  scVariant
}

var _ Unit = (*scUnit)(nil)

func newSCUnit(tk *Toolkit, v scVariant) *scUnit {
	return &scUnit{tk: tk, v: v}
}

func (u *scUnit) Info() UnitInfo {
	params := map[string]ParamSpec{
		"files":        {Type: ParamText, Help: "Explicit table files; default: every *.tsv / *.tsv.gz in the session"},
		"sample_field": {Type: ParamText, Default: "sample_id", Help: "Origin column stamped onto merged rows (empty to skip)"},
	}
	if u.v.hasMode {
		params["mode"] = ParamSpec{Type: ParamSelect, Default: "merge", Options: []string{"merge", "per_file"}}
	}
	switch u.v.op {
	case rtable.OpMergeSamples:
		params["aux_types"] = ParamSpec{Type: ParamText, Help: "Column type coercions as col:type pairs (types c, i, d, l)"}
	case rtable.OpFilterProductive:
		params["productive_field"] = ParamSpec{Type: ParamText, Default: "productive"}
		params["fallback_from_airr"] = ParamSpec{Type: ParamSelect, Default: "true", Options: []string{"true", "false"}}
	case rtable.OpRemoveMultiHeavy:
		params["locus_field"] = ParamSpec{Type: ParamText, Default: "locus"}
		params["heavy_value"] = ParamSpec{Type: ParamText, Default: "IGH"}
		params["cell_field"] = ParamSpec{Type: ParamText, Default: "cell_id"}
		params["fallback_from_vcall"] = ParamSpec{Type: ParamSelect, Default: "true", Options: []string{"true", "false"}}
	case rtable.OpRemoveNoHeavy:
		params["locus_field"] = ParamSpec{Type: ParamText, Default: "locus"}
		params["heavy_value"] = ParamSpec{Type: ParamText, Default: "IGH"}
		params["light_values"] = ParamSpec{Type: ParamText, Default: "IGK,IGL"}
		params["cell_field"] = ParamSpec{Type: ParamText, Default: "cell_id"}
		params["fallback_from_vcall"] = ParamSpec{Type: ParamSelect, Default: "true", Options: []string{"true", "false"}}
	}
	return UnitInfo{
		ID:     u.v.id,
		Label:  u.v.label,
		Group:  GroupSC,
		Params: params,
	}
}

// tableInputs resolves the input file list: the explicit files param when
// supplied (every entry must exist), else every table in the session dir.
func tableInputs(st *SessionState, dir string, p Params) ([]string, error) {
	if p.Has("files") {
		files := splitFields(p.String("files", ""))
		for _, f := range files {
			if f != filepath.Base(f) {
				return nil, badParams("invalid table filename %q", f)
			}
			if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
				return nil, badParams("file %q not found in session", f)
			}
		}
		return files, nil
	}

	var files []string
	for _, pattern := range []string{"*.tsv", "*.tsv.gz"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			files = append(files, filepath.Base(m))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, precondition("no .tsv tables in session; upload some via upload-aux")
	}
	return files, nil
}

// parseAuxTypes parses col:type pairs, e.g. "umi_count:i,productive:l".
func parseAuxTypes(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitFields(s) {
		col, typ, ok := strings.Cut(pair, ":")
		if !ok || col == "" || typ == "" {
			return nil, badParams("invalid aux_types entry %q (want col:type)", pair)
		}
		switch typ {
		case "c", "i", "d", "n", "l":
		default:
			return nil, badParams("invalid aux_types type %q for column %q", typ, col)
		}
		out[col] = typ
	}
	return out, nil
}

func (u *scUnit) Run(ctx context.Context, st *SessionState, dir string, index int, p Params) ([]string, error) {
	files, err := tableInputs(st, dir, p)
	if err != nil {
		return nil, err
	}

	mode := "merge"
	if u.v.hasMode {
		mode = p.String("mode", "merge")
	}
	req := rtable.Request{
		Op:            u.v.op,
		Files:         files,
		Mode:          mode,
		MergedName:    u.v.mergedName,
		PerFilePrefix: u.v.perFilePrefix,
		SampleField:   p.String("sample_field", "sample_id"),
	}
	switch u.v.op {
	case rtable.OpMergeSamples:
		types, err := parseAuxTypes(p.String("aux_types", ""))
		if err != nil {
			return nil, err
		}
		req.AuxTypes = types
	case rtable.OpFilterProductive:
		req.ProductiveField = p.String("productive_field", "productive")
		req.FallbackFromAIRR = p.Bool("fallback_from_airr", true)
	case rtable.OpRemoveMultiHeavy:
		req.LocusField = p.String("locus_field", "locus")
		req.HeavyValue = p.String("heavy_value", "IGH")
		req.CellField = p.String("cell_field", "cell_id")
		req.FallbackFromVCall = p.Bool("fallback_from_vcall", true)
	case rtable.OpRemoveNoHeavy:
		req.LocusField = p.String("locus_field", "locus")
		req.HeavyValue = p.String("heavy_value", "IGH")
		req.LightValues = splitFields(p.String("light_values", "IGK,IGL"))
		req.CellField = p.String("cell_field", "cell_id")
		req.FallbackFromVCall = p.Bool("fallback_from_vcall", true)
	}

	script, err := rtable.Build(fmt.Sprintf("%03d_%s.R", index, u.v.id), req)
	if err != nil {
		return nil, fmt.Errorf("build %s script: %w", u.v.id, err)
	}
	if err := os.WriteFile(filepath.Join(dir, script.Name), []byte(script.Source), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", script.Name, err)
	}

	logPath := stepLogPath(dir, index, "Rscript", u.v.id)
	if err := u.tk.Runner.Run(ctx, script.Argv, dir, logPath); err != nil {
		return nil, err
	}

	if mode == "merge" {
		if _, err := os.Stat(filepath.Join(dir, u.v.mergedName)); err != nil {
			return nil, &MissingOutputError{Target: u.v.mergedName}
		}
		art := Artifact{
			Name:     u.v.mergedArtifact,
			Path:     u.v.mergedName,
			Kind:     KindTab,
			Channel:  ChannelSCTable,
			FromStep: index,
		}
		st.SetCurrent(art)
		return []string{art.Name}, nil
	}

	// per_file mode registers whichever outputs the script produced; the
	// first of them becomes the current table so runs can chain.
	produced := make([]string, 0, len(script.Outputs))
	for i, out := range script.Outputs {
		if _, err := os.Stat(filepath.Join(dir, out)); err != nil {
			continue
		}
		art := Artifact{
			Name:     u.v.perFileArtPfx + rtable.Stem(files[i]),
			Path:     out,
			Kind:     KindTab,
			FromStep: index,
		}
		if len(produced) == 0 {
			art.Channel = ChannelSCTable
			st.SetCurrent(art)
		} else {
			st.Register(art)
		}
		produced = append(produced, art.Name)
	}
	if len(produced) == 0 {
		return nil, &MissingOutputError{Target: u.v.perFilePrefix + "*.tsv"}
	}
	return produced, nil
}
