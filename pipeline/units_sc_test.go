// ABOUTME: Tests for the single-cell table units and their generated R scripts.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTable(t *testing.T, dir, name string) {
	t.Helper()
	content := "cell_id\tlocus\tproductive\nc1\tIGH\tT\n"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSCMergeRunsGeneratedScript(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "s1.tsv")
	writeTable(t, dir, "s2.tsv")
	tk, run := scriptedToolkit(func(argv []string, dir string) error {
		return os.WriteFile(filepath.Join(dir, "MERGED.tsv"), []byte("merged\n"), 0o644)
	})
	st := NewSessionState("s")

	u := newSCUnit(tk, scMergeSamples)
	produced, err := u.Run(context.Background(), st, dir, 0, Params{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	argv := run.calls[0]
	if argv[0] != "Rscript" || argv[1] != "--vanilla" || argv[2] != "000_sc_merge_samples.R" {
		t.Errorf("argv = %v", argv)
	}
	script, err := os.ReadFile(filepath.Join(dir, "000_sc_merge_samples.R"))
	if err != nil {
		t.Fatalf("script not written: %v", err)
	}
	for _, want := range []string{`"s1.tsv"`, `"s2.tsv"`, `"MERGED.tsv"`, `"sample_id"`} {
		if !strings.Contains(string(script), want) {
			t.Errorf("script missing %s", want)
		}
	}

	if len(produced) != 1 || produced[0] != "SC_MERGED" {
		t.Errorf("produced = %v", produced)
	}
	a, ok := st.CurrentArtifact(ChannelSCTable)
	if !ok || a.Path != "MERGED.tsv" || a.Kind != KindTab {
		t.Errorf("SC_TABLE current = %+v", a)
	}
}

func TestSCMergeMissingOutput(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "s1.tsv")
	tk, _ := scriptedToolkit(nil)

	u := newSCUnit(tk, scMergeSamples)
	_, err := u.Run(context.Background(), NewSessionState("s"), dir, 0, Params{})
	var missing *MissingOutputError
	if !errors.As(err, &missing) {
		t.Fatalf("got %v, want MissingOutputError", err)
	}
}

func TestSCRequiresTables(t *testing.T) {
	tk, _ := scriptedToolkit(nil)

	u := newSCUnit(tk, scMergeSamples)
	_, err := u.Run(context.Background(), NewSessionState("s"), t.TempDir(), 0, Params{})
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("got %v, want PreconditionError", err)
	}
}

func TestSCExplicitFilesValidated(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "s1.tsv")
	tk, _ := scriptedToolkit(nil)
	u := newSCUnit(tk, scMergeSamples)

	var bad *BadParamsError
	_, err := u.Run(context.Background(), NewSessionState("s"), dir, 0, Params{"files": "gone.tsv"})
	if !errors.As(err, &bad) {
		t.Fatalf("missing file: got %v, want BadParamsError", err)
	}
	_, err = u.Run(context.Background(), NewSessionState("s"), dir, 0, Params{"files": "sub/s1.tsv"})
	if !errors.As(err, &bad) {
		t.Fatalf("path in filename: got %v, want BadParamsError", err)
	}
}

func TestSCAuxTypesValidated(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "s1.tsv")
	tk, _ := scriptedToolkit(nil)
	u := newSCUnit(tk, scMergeSamples)

	var bad *BadParamsError
	_, err := u.Run(context.Background(), NewSessionState("s"), dir, 0, Params{"aux_types": "umi_count:x"})
	if !errors.As(err, &bad) {
		t.Fatalf("bad type code: got %v, want BadParamsError", err)
	}
	_, err = u.Run(context.Background(), NewSessionState("s"), dir, 0, Params{"aux_types": "noseparator"})
	if !errors.As(err, &bad) {
		t.Fatalf("missing colon: got %v, want BadParamsError", err)
	}
}

func TestSCProductiveMergeMode(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "s1.tsv")
	tk, _ := scriptedToolkit(func(argv []string, dir string) error {
		return os.WriteFile(filepath.Join(dir, "SC_productive.tsv"), []byte("x\n"), 0o644)
	})
	st := NewSessionState("s")

	u := newSCUnit(tk, scFilterProductive)
	produced, err := u.Run(context.Background(), st, dir, 1, Params{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(produced) != 1 || produced[0] != "SC_PRODUCTIVE" {
		t.Errorf("produced = %v", produced)
	}
	a, ok := st.CurrentArtifact(ChannelSCTable)
	if !ok || a.Name != "SC_PRODUCTIVE" {
		t.Errorf("SC_TABLE current = %+v", a)
	}
}

func TestSCPerFileFirstOutputBecomesCurrentTable(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "s1.tsv")
	writeTable(t, dir, "s2.tsv")
	tk, _ := scriptedToolkit(func(argv []string, dir string) error {
		for _, name := range []string{"SC_prod_s1.tsv", "SC_prod_s2.tsv"} {
			if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644); err != nil {
				return err
			}
		}
		return nil
	})
	st := NewSessionState("s")

	u := newSCUnit(tk, scFilterProductive)
	produced, err := u.Run(context.Background(), st, dir, 0, Params{"mode": "per_file"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(produced) != 2 || produced[0] != "SC_PROD_s1" || produced[1] != "SC_PROD_s2" {
		t.Errorf("produced = %v", produced)
	}
	a, ok := st.CurrentArtifact(ChannelSCTable)
	if !ok || a.Name != "SC_PROD_s1" || a.Path != "SC_prod_s1.tsv" {
		t.Errorf("SC_TABLE current = %+v", a)
	}
	if second := st.Artifacts["SC_PROD_s2"]; second.Channel != "" {
		t.Errorf("second output carries channel %q", second.Channel)
	}
}

func TestSCPerFileRegistersOnlyProducedOutputs(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "s1.tsv")
	writeTable(t, dir, "s2.tsv")
	tk, _ := scriptedToolkit(func(argv []string, dir string) error {
		return os.WriteFile(filepath.Join(dir, "SC_prod_s2.tsv"), []byte("x\n"), 0o644)
	})
	st := NewSessionState("s")

	u := newSCUnit(tk, scFilterProductive)
	produced, err := u.Run(context.Background(), st, dir, 0, Params{"mode": "per_file"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(produced) != 1 || produced[0] != "SC_PROD_s2" {
		t.Errorf("produced = %v", produced)
	}
	a, ok := st.CurrentArtifact(ChannelSCTable)
	if !ok || a.Name != "SC_PROD_s2" || a.Path != "SC_prod_s2.tsv" {
		t.Errorf("SC_TABLE current = %+v", a)
	}
}

func TestSCPerFileAllMissingIsError(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "s1.tsv")
	tk, _ := scriptedToolkit(nil)

	u := newSCUnit(tk, scRemoveNoHeavy)
	_, err := u.Run(context.Background(), NewSessionState("s"), dir, 0, Params{"mode": "per_file"})
	var missing *MissingOutputError
	if !errors.As(err, &missing) {
		t.Fatalf("got %v, want MissingOutputError", err)
	}
}

func TestSCNoHeavyScriptCarriesChainConfig(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "s1.tsv")
	tk, _ := scriptedToolkit(func(argv []string, dir string) error {
		return os.WriteFile(filepath.Join(dir, "SC_no_heavy.tsv"), []byte("x\n"), 0o644)
	})

	u := newSCUnit(tk, scRemoveNoHeavy)
	if _, err := u.Run(context.Background(), NewSessionState("s"), dir, 0, Params{
		"heavy_value": "TRB", "light_values": "TRA",
	}); err != nil {
		t.Fatalf("run: %v", err)
	}

	script, err := os.ReadFile(filepath.Join(dir, "000_sc_remove_no_heavy.R"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"TRB"`, `"TRA"`, `"cell_id"`, `"locus"`} {
		if !strings.Contains(string(script), want) {
			t.Errorf("script missing %s", want)
		}
	}
}

func TestSCPicksUpSessionTables(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "b.tsv")
	writeTable(t, dir, "a.tsv")
	if err := os.WriteFile(filepath.Join(dir, "c.tsv.gz"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := tableInputs(NewSessionState("s"), dir, Params{})
	if err != nil {
		t.Fatalf("tableInputs: %v", err)
	}
	want := []string{"a.tsv", "b.tsv", "c.tsv.gz"}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}
