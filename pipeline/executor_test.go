// ABOUTME: End-to-end executor tests over real session directories with a scripted runner.
// ABOUTME: Walks the bulk, UMI and single-cell flows and the failure/rollback contract.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newTestExecutor builds an executor over a temp data dir whose units run
// against a scripted runner.
func newTestExecutor(t *testing.T, handle func(argv []string, dir string) error) *Executor {
	t.Helper()
	tk, _ := scriptedToolkit(handle)
	return NewExecutor(t.TempDir(), DefaultRegistry(tk))
}

func mustCreateSession(t *testing.T, e *Executor) string {
	t.Helper()
	id, _, err := CreateSession(e.BaseDir)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return id
}

// seedUpload stores canonical reads and points their channels, mimicking the
// upload handler.
func seedUpload(t *testing.T, e *Executor, id string, channels ...string) {
	t.Helper()
	_, err := e.Mutate(id, func(dir string, st *SessionState) error {
		for _, ch := range channels {
			art, err := SaveRead(strings.NewReader(fastqContent), ch+".fastq", ch, dir)
			if err != nil {
				return err
			}
			st.SetCurrent(art)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed upload: %v", err)
	}
}

// toolHandler fabricates every tool's conventional outputs.
func toolHandler(t *testing.T) func(argv []string, dir string) error {
	return func(argv []string, dir string) error {
		switch argv[0] {
		case "FilterSeq.py":
			writePass(t, dir, argvValue(argv, "--outname"), argv[1])
		case "MaskPrimers.py":
			writePass(t, dir, argvValue(argv, "--outname"), "primers")
		case "PairSeq.py":
			writePass(t, dir, "PAIRED-1", "pair")
			writePass(t, dir, "PAIRED-2", "pair")
		case "AssemblePairs.py":
			writePass(t, dir, "ASSEMBLED", "assemble")
		case "ParseLog.py":
			if err := os.WriteFile(filepath.Join(dir, "AP_table.tab"), []byte("ID\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		case "CollapseSeq.py":
			writePass(t, dir, argvValue(argv, "--outname"), "collapse")
		case "BuildConsensus.py":
			writePass(t, dir, argvValue(argv, "--outname"), "consensus")
		case "Rscript":
			script := argv[2]
			switch {
			case strings.Contains(script, "merge_samples"):
				return os.WriteFile(filepath.Join(dir, "MERGED.tsv"), []byte("x\n"), 0o644)
			case strings.Contains(script, "productive"):
				return os.WriteFile(filepath.Join(dir, "SC_productive.tsv"), []byte("x\n"), 0o644)
			}
		}
		return nil
	}
}

func TestExecutePersistsStep(t *testing.T) {
	e := newTestExecutor(t, toolHandler(t))
	id := mustCreateSession(t, e)
	seedUpload(t, e, id, ChannelR1)

	out, err := e.Execute(context.Background(), id, "filter_quality", Params{"qmin": float64(30)})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Step.Index != 0 || out.Step.Unit != "filter_quality" {
		t.Errorf("step = %+v", out.Step)
	}
	if out.Current[ChannelR1] != "R1_quality" {
		t.Errorf("current = %+v", out.Current)
	}

	st, err := e.Load(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.Steps) != 1 {
		t.Fatalf("persisted steps = %d, want 1", len(st.Steps))
	}
	if st.Steps[0].Params["qmin"] != float64(30) {
		t.Errorf("persisted params = %+v", st.Steps[0].Params)
	}

	out2, err := e.Execute(context.Background(), id, "filter_length", nil)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if out2.Step.Index != 1 {
		t.Errorf("second index = %d, want 1", out2.Step.Index)
	}
}

func TestExecuteUnknownUnit(t *testing.T) {
	e := newTestExecutor(t, nil)
	id := mustCreateSession(t, e)

	_, err := e.Execute(context.Background(), id, "no_such_unit", nil)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("got %v, want NotFoundError", err)
	}
}

func TestExecuteUnknownSession(t *testing.T) {
	e := newTestExecutor(t, nil)

	_, err := e.Execute(context.Background(), "missing", "filter_quality", nil)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("got %v, want NotFoundError", err)
	}
}

func TestExecuteChecksRequiredChannels(t *testing.T) {
	e := newTestExecutor(t, nil)
	id := mustCreateSession(t, e)

	_, err := e.Execute(context.Background(), id, "filter_quality", nil)
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("got %v, want PreconditionError", err)
	}
}

func TestExecuteValidatesParams(t *testing.T) {
	e := newTestExecutor(t, toolHandler(t))
	id := mustCreateSession(t, e)
	seedUpload(t, e, id, ChannelR1)

	_, err := e.Execute(context.Background(), id, "filter_quality", Params{"qmin": float64(99)})
	var bad *BadParamsError
	if !errors.As(err, &bad) {
		t.Fatalf("got %v, want BadParamsError", err)
	}
}

func TestExecuteFailureRollsBackAndCarriesLogTail(t *testing.T) {
	e := newTestExecutor(t, func(argv []string, dir string) error {
		return &CommandError{ExitCode: 1, Argv: argv}
	})
	id := mustCreateSession(t, e)
	seedUpload(t, e, id, ChannelR1)

	_, err := e.Execute(context.Background(), id, "filter_quality", nil)
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("got %v, want StepError", err)
	}
	if stepErr.Unit != "filter_quality" || stepErr.Step != 0 {
		t.Errorf("step error = %+v", stepErr)
	}
	if !strings.Contains(stepErr.LogTail, "000_FilterSeq_quality.log") {
		t.Errorf("log tail missing banner:\n%s", stepErr.LogTail)
	}
	if !strings.Contains(stepErr.LogTail, "[CMD]") {
		t.Errorf("log tail missing command line:\n%s", stepErr.LogTail)
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Error("StepError does not unwrap to the cause")
	}

	st, err := e.Load(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.Steps) != 0 {
		t.Errorf("failed step persisted: %+v", st.Steps)
	}
	if st.Current[ChannelR1] != "R1_raw" {
		t.Errorf("channel repointed by failed step: %+v", st.Current)
	}
}

func TestExecuteTruncatesLogTail(t *testing.T) {
	e := newTestExecutor(t, func(argv []string, dir string) error {
		return &CommandError{ExitCode: 1, Argv: argv}
	})
	e.TailBytes = 40
	id := mustCreateSession(t, e)
	seedUpload(t, e, id, ChannelR1)

	_, err := e.Execute(context.Background(), id, "filter_quality", nil)
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("got %v, want StepError", err)
	}
	if len(stepErr.LogTail) > 40 {
		t.Errorf("tail length = %d, want <= 40", len(stepErr.LogTail))
	}
}

func TestExecutePairedAssemblyFlow(t *testing.T) {
	e := newTestExecutor(t, toolHandler(t))
	id := mustCreateSession(t, e)
	seedUpload(t, e, id, ChannelR1, ChannelR2)

	ctx := context.Background()
	steps := []struct {
		unit   string
		params Params
	}{
		{"filter_quality", Params{"qmin": float64(25)}},
		{"pairseq", nil},
		{"assemble_align", nil},
		{"collapse_seq", nil},
	}
	for _, s := range steps {
		if _, err := e.Execute(ctx, id, s.unit, s.params); err != nil {
			t.Fatalf("%s: %v", s.unit, err)
		}
	}

	st, err := e.Load(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.Steps) != 4 {
		t.Fatalf("steps = %d, want 4", len(st.Steps))
	}
	wantCurrent := map[string]string{
		ChannelR1:        "R1_quality",
		ChannelR2:        "R2_quality",
		ChannelPair1:     "PAIR1",
		ChannelPair2:     "PAIR2",
		ChannelAssembled: "COLLAPSED",
	}
	for ch, want := range wantCurrent {
		if got := st.Current[ch]; got != want {
			t.Errorf("current[%s] = %q, want %q", ch, got, want)
		}
	}
	if _, ok := st.Artifacts["AP_table"]; !ok {
		t.Error("AP_table not registered after align assembly")
	}
	if _, ok := st.Artifacts["ASSEMBLED"]; !ok {
		t.Error("intermediate ASSEMBLED artifact dropped")
	}
}

func TestExecuteUMIConsensusFlow(t *testing.T) {
	e := newTestExecutor(t, toolHandler(t))
	id := mustCreateSession(t, e)
	seedUpload(t, e, id, ChannelR1)

	ctx := context.Background()
	if _, err := e.Execute(ctx, id, "mask_primers_extract", Params{
		"start": float64(0), "length": float64(12),
	}); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, err := e.Execute(ctx, id, "build_consensus", nil); err != nil {
		t.Fatalf("consensus: %v", err)
	}

	st, err := e.Load(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cons, ok := st.Artifacts["CONSENSUS"]
	if !ok {
		t.Fatal("CONSENSUS not registered")
	}
	if !cons.HasField("BARCODE") {
		t.Errorf("CONSENSUS fields = %+v", cons.Fields)
	}
}

func TestExecuteConsensusWithoutBarcodeFails(t *testing.T) {
	e := newTestExecutor(t, toolHandler(t))
	id := mustCreateSession(t, e)
	seedUpload(t, e, id, ChannelR1)

	_, err := e.Execute(context.Background(), id, "build_consensus", nil)
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("got %v, want StepError", err)
	}
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("cause = %v, want PreconditionError", stepErr.Err)
	}
}

func TestExecuteSingleCellFlow(t *testing.T) {
	e := newTestExecutor(t, toolHandler(t))
	id := mustCreateSession(t, e)
	_, err := e.Mutate(id, func(dir string, st *SessionState) error {
		return os.WriteFile(filepath.Join(dir, "s1.tsv"), []byte("cell_id\tlocus\nc1\tIGH\n"), 0o644)
	})
	if err != nil {
		t.Fatalf("seed tables: %v", err)
	}

	ctx := context.Background()
	if _, err := e.Execute(ctx, id, "sc_merge_samples", nil); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := e.Execute(ctx, id, "sc_filter_productive", Params{"files": "MERGED.tsv"}); err != nil {
		t.Fatalf("filter productive: %v", err)
	}

	st, err := e.Load(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := st.Current[ChannelSCTable]; got != "SC_PRODUCTIVE" {
		t.Errorf("SC_TABLE current = %q", got)
	}
	if len(st.Steps) != 2 {
		t.Errorf("steps = %d, want 2", len(st.Steps))
	}
}

func TestMutateRollsBackOnError(t *testing.T) {
	e := newTestExecutor(t, nil)
	id := mustCreateSession(t, e)

	boom := errors.New("boom")
	_, err := e.Mutate(id, func(dir string, st *SessionState) error {
		st.Aux["v_primers"] = "v.fasta"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	st, err := e.Load(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.Aux) != 0 {
		t.Errorf("failed mutation persisted: %+v", st.Aux)
	}
}

func TestLoadUnknownSession(t *testing.T) {
	e := newTestExecutor(t, nil)

	_, err := e.Load("missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("got %v, want NotFoundError", err)
	}
}
