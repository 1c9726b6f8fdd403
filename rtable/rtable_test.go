// ABOUTME: Tests for R script generation: literals, outputs, and per-op content.
package rtable

import (
	"strings"
	"testing"
)

func TestBuildMergeScript(t *testing.T) {
	script, err := Build("000_sc_merge_samples.R", Request{
		Op:          OpMergeSamples,
		Files:       []string{"s1.tsv", "s2.tsv.gz"},
		Mode:        "merge",
		MergedName:  "MERGED.tsv",
		SampleField: "sample_id",
		AuxTypes:    map[string]string{"umi_count": "i", "productive": "l"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if script.Name != "000_sc_merge_samples.R" {
		t.Errorf("Name = %q", script.Name)
	}
	wantArgv := []string{"Rscript", "--vanilla", "000_sc_merge_samples.R"}
	if len(script.Argv) != 3 {
		t.Fatalf("Argv = %v", script.Argv)
	}
	for i := range wantArgv {
		if script.Argv[i] != wantArgv[i] {
			t.Errorf("Argv[%d] = %q, want %q", i, script.Argv[i], wantArgv[i])
		}
	}
	if len(script.Outputs) != 1 || script.Outputs[0] != "MERGED.tsv" {
		t.Errorf("Outputs = %v", script.Outputs)
	}

	for _, want := range []string{
		`files <- c("s1.tsv", "s2.tsv.gz")`,
		`sample_field <- "sample_id"`,
		`out_name <- "MERGED.tsv"`,
		`type_specs <- c("productive" = "l", "umi_count" = "i")`,
		"bind_union",
		"read.delim",
	} {
		if !strings.Contains(script.Source, want) {
			t.Errorf("source missing %q", want)
		}
	}
}

func TestBuildProductiveScript(t *testing.T) {
	script, err := Build("001_sc_filter_productive.R", Request{
		Op:               OpFilterProductive,
		Files:            []string{"MERGED.tsv"},
		Mode:             "merge",
		MergedName:       "SC_productive.tsv",
		PerFilePrefix:    "SC_prod_",
		SampleField:      "",
		ProductiveField:  "is_productive",
		FallbackFromAIRR: true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{
		`productive_field <- "is_productive"`,
		`fallback_airr <- TRUE`,
		"keep_productive",
		"is_true",
	} {
		if !strings.Contains(script.Source, want) {
			t.Errorf("source missing %q", want)
		}
	}
}

// Tables following the AIRR standard carry vj_in_frame/stop_codon instead of
// a productive column; the generated filter must derive the mask from those
// and keep all rows (with a warning) as the last resort.
func TestProductiveScriptAIRRFallback(t *testing.T) {
	script, err := Build("001_sc_filter_productive.R", Request{
		Op:               OpFilterProductive,
		Files:            []string{"airr.tsv"},
		Mode:             "merge",
		MergedName:       "SC_productive.tsv",
		PerFilePrefix:    "SC_prod_",
		ProductiveField:  "productive",
		FallbackFromAIRR: true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{
		`fallback_airr && all(c("vj_in_frame", "stop_codon") %in% names(df))`,
		`is_true(df[["vj_in_frame"]]) & !is_true(df[["stop_codon"]])`,
		`keep <- rep(TRUE, nrow(df))`,
		"keeping all rows",
	} {
		if !strings.Contains(script.Source, want) {
			t.Errorf("source missing %q", want)
		}
	}
	if strings.Contains(script.Source, "stop(") {
		t.Errorf("productive filter still aborts on a missing column:\n%s", script.Source)
	}
}

func TestBuildPerFileOutputs(t *testing.T) {
	script, err := Build("002_sc_remove_multi_heavy.R", Request{
		Op:                OpRemoveMultiHeavy,
		Files:             []string{"a.tsv", "b.tsv.gz"},
		Mode:              "per_file",
		MergedName:        "SC_no_multi_heavy.tsv",
		PerFilePrefix:     "SC_noMH_",
		LocusField:        "locus",
		HeavyValue:        "IGH",
		CellField:         "cell_id",
		FallbackFromVCall: true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []string{"SC_noMH_a.tsv", "SC_noMH_b.tsv"}
	if len(script.Outputs) != len(want) {
		t.Fatalf("Outputs = %v, want %v", script.Outputs, want)
	}
	for i := range want {
		if script.Outputs[i] != want[i] {
			t.Errorf("Outputs[%d] = %q, want %q", i, script.Outputs[i], want[i])
		}
	}
	for _, s := range []string{"drop_multi_heavy", "with_locus", `fallback_vcall <- TRUE`} {
		if !strings.Contains(script.Source, s) {
			t.Errorf("source missing %q", s)
		}
	}
}

func TestBuildNoHeavyScript(t *testing.T) {
	script, err := Build("003_sc_remove_no_heavy.R", Request{
		Op:            OpRemoveNoHeavy,
		Files:         []string{"a.tsv"},
		Mode:          "merge",
		MergedName:    "SC_no_heavy.tsv",
		PerFilePrefix: "SC_noH_",
		LocusField:    "locus",
		HeavyValue:    "IGH",
		LightValues:   []string{"IGK", "IGL"},
		CellField:     "cell_id",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{
		`light_values <- c("IGK", "IGL")`,
		"drop_no_heavy",
		"orphan_light",
	} {
		if !strings.Contains(script.Source, want) {
			t.Errorf("source missing %q", want)
		}
	}
}

func TestBuildValidation(t *testing.T) {
	if _, err := Build("x.R", Request{Op: OpMergeSamples, Mode: "merge", MergedName: "m.tsv"}); err == nil {
		t.Error("empty file list accepted")
	}
	if _, err := Build("x.R", Request{Op: OpMergeSamples, Files: []string{"a.tsv"}, Mode: "sideways"}); err == nil {
		t.Error("invalid mode accepted")
	}
	if _, err := Build("x.R", Request{Op: Op("explode"), Files: []string{"a.tsv"}, Mode: "merge"}); err == nil {
		t.Error("unknown op accepted")
	}
}

func TestQuotingEscapesSpecials(t *testing.T) {
	script, err := Build("x.R", Request{
		Op:         OpMergeSamples,
		Files:      []string{`weird "name".tsv`},
		Mode:       "merge",
		MergedName: "MERGED.tsv",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(script.Source, `"weird \"name\".tsv"`) {
		t.Errorf("quotes not escaped:\n%s", script.Source)
	}
}

func TestStem(t *testing.T) {
	cases := []struct{ in, want string }{
		{"sample.tsv", "sample"},
		{"sample.tsv.gz", "sample"},
		{"dir/sample.tsv", "sample"},
		{"noext", "noext"},
	}
	for _, tc := range cases {
		if got := Stem(tc.in); got != tc.want {
			t.Errorf("Stem(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestVectorLiterals(t *testing.T) {
	if got := rVector(nil); got != "character(0)" {
		t.Errorf("empty vector = %q", got)
	}
	if got := rVector([]string{"a"}); got != `c("a")` {
		t.Errorf("one item = %q", got)
	}
	if got := rNamedVector(nil); got != "character(0)" {
		t.Errorf("empty named vector = %q", got)
	}
	// Stable order regardless of map iteration.
	m := map[string]string{"z": "i", "a": "d"}
	want := `c("a" = "d", "z" = "i")`
	for i := 0; i < 10; i++ {
		if got := rNamedVector(m); got != want {
			t.Fatalf("named vector = %q, want %q", got, want)
		}
	}
}
