package evoprot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"evoprot/internal/model"
	"evoprot/internal/scoring"
	"evoprot/internal/stats"
	"evoprot/internal/workerpool"
)

const residueSpecDoc = `{
  "sequence": {"A": "MKVLAGSTPE"},
  "designable": [
    {"chain": "A", "resid": 1, "WTAA": "M"},
    {"chain": "A", "resid": 2, "WTAA": "K"},
    {"chain": "A", "resid": 3, "WTAA": "V"},
    {"chain": "A", "resid": 4, "WTAA": "L"},
    {"chain": "A", "resid": 5, "WTAA": "A"}
  ]
}`

// risingPredictor echoes the sequences back with a confidence that rises on
// every call, so each newly scored candidate scores lower than the last.
type risingPredictor struct {
	calls *atomic.Int64
}

func (p risingPredictor) Predict(_ context.Context, unit model.WorkUnit) (model.RawResult, error) {
	n := float64(p.calls.Add(1))
	total := 0
	for _, seq := range unit.Sequences {
		total += len(seq)
	}
	plddt := make([]float64, total)
	for i := range plddt {
		plddt[i] = 50 + n
	}
	return model.RawResult{
		Sequences: append([]string(nil), unit.Sequences...),
		PDB:       "MODEL        1\nENDMDL\n",
		PLDDT:     plddt,
	}, nil
}

func (risingPredictor) Close() error { return nil }

func risingInitializer(calls *atomic.Int64) workerpool.Initializer {
	return func(context.Context, int) (workerpool.Predictor, error) {
		return risingPredictor{calls: calls}, nil
	}
}

func ratePtr(v float64) *float64 { return &v }

func writeInputDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "residue_specs.json"), []byte(residueSpecDoc), 0o644); err != nil {
		t.Fatalf("write residue spec: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "af2_flags.txt"), []byte("--num_models 1\n"), 0o644); err != nil {
		t.Fatalf("write flags: %v", err)
	}
	return dir
}

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:  "memory",
		RunsDir:    filepath.Join(base, "runs"),
		ExportsDir: filepath.Join(base, "exports"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, base
}

func TestClientRunEndToEnd(t *testing.T) {
	client, base := newTestClient(t)
	ctx := context.Background()
	var calls atomic.Int64

	summary, err := client.Run(ctx, RunRequest{
		InputDir:    writeInputDir(t),
		PoolSize:    4,
		Iterations:  2,
		Workers:     2,
		BlobDriver:  "fs",
		Plot:        true,
		Seed:        7,
		Initializer: risingInitializer(&calls),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID == "" {
		t.Fatal("expected generated run id")
	}
	if len(summary.BestByIteration) != 2 || len(summary.FinalPool) != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	// Four candidates in iteration 1, then only the two new children.
	if summary.Predictions != 6 || calls.Load() != 6 {
		t.Fatalf("expected 6 predictions, got summary=%d calls=%d", summary.Predictions, calls.Load())
	}
	if summary.BestByIteration[1] > summary.BestByIteration[0] {
		t.Fatalf("best total regressed: %v", summary.BestByIteration)
	}

	finalLog, err := os.ReadFile(filepath.Join(summary.ArtifactsDir, "seqs_and_scores.log"))
	if err != nil {
		t.Fatalf("read final log: %v", err)
	}
	if got := strings.Count(string(finalLog), ">iteration"); got != 2 {
		t.Fatalf("expected 2 iteration sections, got %d", got)
	}
	runtimeLog, err := os.ReadFile(filepath.Join(summary.ArtifactsDir, "runtime_seqs_and_scores.log"))
	if err != nil {
		t.Fatalf("read runtime log: %v", err)
	}
	if got := strings.Count(string(runtimeLog), "starting iteration"); got != 2 {
		t.Fatalf("expected 2 runtime sections, got %d", got)
	}
	for _, name := range []string{"seq_0_final_model_1_complex.pdb", "seq_1_final_model_1_complex.pdb", "config.json", "score_trajectory.csv"} {
		if _, err := os.Stat(filepath.Join(summary.ArtifactsDir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID || runs[0].Predictions != 6 {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	history, err := client.History(ctx, HistoryRequest{RunRef: RunRef{Latest: true}})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || len(history[0].Entries) != 4 || len(history[1].Entries) != 4 {
		t.Fatalf("unexpected history: %+v", history)
	}

	cached, err := client.Cache(ctx, CacheRequest{RunRef: RunRef{RunID: summary.RunID}})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	seen := map[string]bool{}
	for _, item := range cached {
		if seen[item.Identity] {
			t.Fatalf("identity %s cached twice", item.Identity)
		}
		seen[item.Identity] = true
	}
	if len(cached) != 6 {
		t.Fatalf("expected 6 cached identities, got %d", len(cached))
	}

	exported, err := client.Export(ctx, ExportRequest{RunRef: RunRef{Latest: true}})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.Directory != filepath.Join(base, "exports", summary.RunID) {
		t.Fatalf("unexpected export dir: %s", exported.Directory)
	}
	if _, err := os.Stat(filepath.Join(exported.Directory, "seqs_and_scores.log")); err != nil {
		t.Fatalf("expected exported final log: %v", err)
	}
}

func TestClientRunWritesPerIterationStructures(t *testing.T) {
	client, _ := newTestClient(t)
	var calls atomic.Int64
	summary, err := client.Run(context.Background(), RunRequest{
		InputDir:        writeInputDir(t),
		PoolSize:        2,
		Iterations:      1,
		Workers:         1,
		BlobDriver:      "fs",
		WriteStructures: true,
		Initializer:     risingInitializer(&calls),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, name := range []string{"seq_0_iter_1_model_1_complex.pdb", "seq_1_iter_1_model_1_complex.pdb"} {
		if _, err := os.Stat(filepath.Join(summary.ArtifactsDir, "pdbs_per_iter", name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
}

func TestClientRunRejectsBadConfiguration(t *testing.T) {
	client, _ := newTestClient(t)
	input := writeInputDir(t)
	var calls atomic.Int64
	cases := map[string]RunRequest{
		"missing predictor":  {InputDir: input},
		"unknown score":      {InputDir: input, ScoreFunc: "nope", Initializer: risingInitializer(&calls)},
		"bad contacts":       {InputDir: input, Contacts: "A1-B3", Initializer: risingInitializer(&calls)},
		"unknown stabilized": {InputDir: input, Stabilize: []string{"Z"}, Initializer: risingInitializer(&calls)},
		"mpnn without tool":  {InputDir: input, MPNNFreq: 2, Iterations: 4, Initializer: risingInitializer(&calls)},
		"bad crossover":      {InputDir: input, CrossoverRate: ratePtr(1.5), Initializer: risingInitializer(&calls)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := client.Run(context.Background(), req); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
	if calls.Load() != 0 {
		t.Fatalf("no prediction should run on configuration errors, got %d", calls.Load())
	}

	_, err := client.Run(context.Background(), RunRequest{InputDir: input, ScoreFunc: "nope", Initializer: risingInitializer(&calls)})
	if !errors.Is(err, scoring.ErrFunctionNotFound) {
		t.Fatalf("expected ErrFunctionNotFound, got %v", err)
	}
}

func TestApplyRunDefaultsKeepsExplicitZeroCrossover(t *testing.T) {
	input := writeInputDir(t)
	var calls atomic.Int64

	unset := RunRequest{InputDir: input, Initializer: risingInitializer(&calls)}
	if err := applyRunDefaults(&unset); err != nil {
		t.Fatalf("apply defaults: %v", err)
	}
	if unset.CrossoverRate == nil || *unset.CrossoverRate != DefaultCrossoverRate {
		t.Fatalf("expected default crossover rate, got %v", unset.CrossoverRate)
	}

	zero := RunRequest{InputDir: input, CrossoverRate: ratePtr(0), Initializer: risingInitializer(&calls)}
	if err := applyRunDefaults(&zero); err != nil {
		t.Fatalf("apply defaults: %v", err)
	}
	if *zero.CrossoverRate != 0 {
		t.Fatalf("explicit zero crossover rate was replaced with %v", *zero.CrossoverRate)
	}
}

func TestClientRunMutationOnly(t *testing.T) {
	client, base := newTestClient(t)
	var calls atomic.Int64
	summary, err := client.Run(context.Background(), RunRequest{
		InputDir:      writeInputDir(t),
		PoolSize:      4,
		Iterations:    3,
		Workers:       1,
		CrossoverRate: ratePtr(0),
		BlobDriver:    "memory",
		Initializer:   risingInitializer(&calls),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	cfg, ok, err := stats.ReadRunConfig(filepath.Join(base, "runs"), summary.RunID)
	if err != nil || !ok {
		t.Fatalf("read run config: ok=%t err=%v", ok, err)
	}
	if cfg.CrossoverRate != 0 {
		t.Fatalf("expected recorded crossover rate 0, got %v", cfg.CrossoverRate)
	}
}

// countingInitializer records how many predictor workers were started.
func countingInitializer(started *atomic.Int64, calls *atomic.Int64) workerpool.Initializer {
	return func(context.Context, int) (workerpool.Predictor, error) {
		started.Add(1)
		return risingPredictor{calls: calls}, nil
	}
}

func TestClientRunRejectsBadMutationSetBeforeStartingWorkers(t *testing.T) {
	client, _ := newTestClient(t)
	input := t.TempDir()
	doc := `{"sequence": {"A": "MKVL"}, "designable": [{"chain": "A", "resid": 1, "WTAA": "M", "MutTo": "ZZ"}]}`
	if err := os.WriteFile(filepath.Join(input, "residue_specs.json"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write residue spec: %v", err)
	}
	if err := os.WriteFile(filepath.Join(input, "af2_flags.txt"), []byte("--num_models 1\n"), 0o644); err != nil {
		t.Fatalf("write flags: %v", err)
	}
	var started, calls atomic.Int64
	_, err := client.Run(context.Background(), RunRequest{InputDir: input, Initializer: countingInitializer(&started, &calls)})
	if err == nil || !strings.Contains(err.Error(), "ZZ") {
		t.Fatalf("expected mutation set error, got %v", err)
	}
	if started.Load() != 0 {
		t.Fatalf("expected no worker to start, got %d", started.Load())
	}
}

func TestClientRunWithRegisteredFunctions(t *testing.T) {
	const scoreName, rmsdName = "test-constant-score", "test-constant-rmsd"
	var scored atomic.Int64
	err := RegisterScoreFunc(scoreName, func(unit WorkUnit, raw RawResult, _ Individual, _ []string) (Score, error) {
		scored.Add(1)
		return Score{Total: -10, Structure: Structure{Chains: unit.Chains, PDB: raw.PDB}}, nil
	})
	if err != nil && !errors.Is(err, ErrFunctionExists) {
		t.Fatalf("register score func: %v", err)
	}
	err = RegisterRMSDFunc(rmsdName, func(_, _ Structure, _ Individual) (float64, error) {
		return 0.5, nil
	})
	if err != nil && !errors.Is(err, ErrFunctionExists) {
		t.Fatalf("register rmsd func: %v", err)
	}
	if err := RegisterScoreFunc(scoreName, nil); err == nil {
		t.Fatal("expected nil score func to be rejected")
	}
	if !slices.Contains(ScoreFuncs(), scoreName) || !slices.Contains(RMSDFuncs(), rmsdName) {
		t.Fatalf("registered functions not listed: %v %v", ScoreFuncs(), RMSDFuncs())
	}

	client, _ := newTestClient(t)
	var calls atomic.Int64
	summary, err := client.Run(context.Background(), RunRequest{
		InputDir:    writeInputDir(t),
		PoolSize:    2,
		Iterations:  1,
		Workers:     1,
		Stabilize:   []string{"A"},
		ScoreFunc:   scoreName,
		RMSDFunc:    rmsdName,
		BlobDriver:  "memory",
		Plot:        true,
		Initializer: risingInitializer(&calls),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Complex -10, monomer -10, rmsd 0.5.
	if summary.FinalBestTotal != -19.5 {
		t.Fatalf("expected total -19.5, got %v", summary.FinalBestTotal)
	}
	if scored.Load() == 0 {
		t.Fatal("registered score function was not called")
	}

	detail, err := client.Show(context.Background(), RunRef{Latest: true})
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if detail.RunID != summary.RunID || detail.Config.ScoreFunc != scoreName || detail.Config.RMSDFunc != rmsdName {
		t.Fatalf("unexpected run detail: %+v", detail)
	}
	if len(detail.Trajectory) != 1 || detail.Trajectory[0].BestRMSD != 0.5 {
		t.Fatalf("unexpected trajectory: %+v", detail.Trajectory)
	}
	if _, err := client.Show(context.Background(), RunRef{RunID: "missing"}); err == nil {
		t.Fatal("expected missing run error")
	}
}

func TestDiscoverInputs(t *testing.T) {
	dir := writeInputDir(t)
	if err := os.WriteFile(filepath.Join(dir, "starting_seqs.txt"), []byte("MKVLWGSTPE\n"), 0o644); err != nil {
		t.Fatalf("write starting seqs: %v", err)
	}
	spec, flags, starting, err := DiscoverInputs(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if filepath.Base(spec) != "residue_specs.json" || filepath.Base(flags) != "af2_flags.txt" || filepath.Base(starting) != "starting_seqs.txt" {
		t.Fatalf("unexpected discovery: %s %s %s", spec, flags, starting)
	}

	empty := t.TempDir()
	if _, _, _, err := DiscoverInputs(empty); err == nil {
		t.Fatal("expected missing residue spec error")
	}
}

func TestLoadSeedsAppendsTemplate(t *testing.T) {
	dir := writeInputDir(t)
	starting := filepath.Join(dir, "starting_seqs.txt")
	if err := os.WriteFile(starting, []byte("MKVLWGSTPE\n"), 0o644); err != nil {
		t.Fatalf("write starting seqs: %v", err)
	}
	seeds, err := loadSeeds(RunRequest{ResidueSpec: filepath.Join(dir, "residue_specs.json"), StartingSeqs: starting})
	if err != nil {
		t.Fatalf("load seeds: %v", err)
	}
	if len(seeds) != 2 || seeds[0].Identity() != "MKVLWGSTPE" || seeds[1].Identity() != "MKVLAGSTPE" {
		t.Fatalf("unexpected seeds: %+v", seeds)
	}
}

func TestLoadSeedsReadsMutationFile(t *testing.T) {
	dir := writeInputDir(t)
	starting := filepath.Join(dir, "starting_seqs_mut.txt")
	if err := os.WriteFile(starting, []byte("A5W\nA1K,A2M\n"), 0o644); err != nil {
		t.Fatalf("write starting mutations: %v", err)
	}
	seeds, err := loadSeeds(RunRequest{ResidueSpec: filepath.Join(dir, "residue_specs.json"), StartingSeqs: starting})
	if err != nil {
		t.Fatalf("load seeds: %v", err)
	}
	want := []string{"MKVLWGSTPE", "KMVLAGSTPE", "MKVLAGSTPE"}
	if len(seeds) != len(want) {
		t.Fatalf("expected %d seeds, got %d", len(want), len(seeds))
	}
	for i, seed := range seeds {
		if seed.Identity() != want[i] {
			t.Fatalf("seed %d: expected %s, got %s", i, want[i], seed.Identity())
		}
	}
}

func TestResolveRunIDRequiresChoice(t *testing.T) {
	client, _ := newTestClient(t)
	if _, err := client.resolveRunID(RunRef{RunID: "a", Latest: true}); err == nil {
		t.Fatal("expected conflicting selection error")
	}
	if _, err := client.resolveRunID(RunRef{}); err == nil {
		t.Fatal("expected missing selection error")
	}
	if _, err := client.resolveRunID(RunRef{Latest: true}); err == nil {
		t.Fatal("expected no runs error")
	}
}
