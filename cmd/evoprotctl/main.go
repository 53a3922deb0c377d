package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"evoprot/internal/evo"
	"evoprot/internal/logging"
	"evoprot/internal/model"
	"evoprot/internal/residue"
	"evoprot/internal/scoring"
	"evoprot/internal/storage"
	evoapi "evoprot/pkg/evoprot"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
)

var stdout io.Writer = os.Stdout

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "residues":
		return runResidues(ctx, args[1:])
	case "expand":
		return runExpand(ctx, args[1:])
	case "schedule":
		return runSchedule(ctx, args[1:])
	case "functions":
		return runFunctions(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "cache":
		return runCache(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: evoprotctl <run|residues|expand|schedule|functions|runs|show|history|cache|export> [flags]", msg)
}

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, " ") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config document (YAML or JSON)")
	runID := fs.String("run-id", "", "explicit run id (default: random uuid)")
	inputDir := fs.String("input-dir", "", "directory holding the residue spec, predictor flags and optional starting sequences")
	residueSpec := fs.String("residue-spec", "", "residue specification file (overrides discovery)")
	flagsFile := fs.String("flags-file", "", "predictor flags file (overrides discovery)")
	startingSeqs := fs.String("starting-seqs", "", "starting sequences file (overrides discovery)")
	poolSize := fs.Int("pool-size", evoapi.DefaultPoolSize, "pool size")
	numIter := fs.Int("num-iter", evoapi.DefaultIterations, "iteration count")
	workers := fs.Int("workers", evoapi.DefaultWorkers, "predictor workers, one per GPU")
	crossover := fs.Float64("crossover", evoapi.DefaultCrossoverRate, "fraction of children produced by crossover")
	mutRates := fs.String("mutation-rates", evoapi.DefaultMutationRates, "comma-separated mutation fractions spread over the iterations")
	mpnnIters := fs.String("mpnn-iters", "", "comma-separated iterations refilled by the sequence designer")
	mpnnFreq := fs.Int("mpnn-freq", 0, "refill with the sequence designer every N iterations (0 disables)")
	stabilize := fs.String("stabilize", "", "comma-separated chains also scored as monomers")
	contacts := fs.String("contacts", "", "contact residues, e.g. A1-A10,B5")
	scoreFunc := fs.String("score-func", evoapi.DefaultScoreFunc, "score function name")
	rmsdFunc := fs.String("rmsd-func", "", "optional RMSD function name")
	predictor := fs.String("predictor", "", "predictor command started once per worker")
	var predictorArgs stringList
	fs.Var(&predictorArgs, "predictor-arg", "predictor argument (repeatable)")
	designer := fs.String("designer", "", "sequence designer command")
	var designerArgs stringList
	fs.Var(&designerArgs, "designer-arg", "designer argument (repeatable)")
	blobDriver := fs.String("blob-driver", "", "structure storage: fs|s3|memory (default from EVOPROT_BLOB_DRIVER)")
	writePDBs := fs.Bool("write-pdbs", false, "write every iteration's structures")
	plot := fs.Bool("plot", false, "write the score trajectory")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	seed := fs.Int64("seed", 1, "rng seed")
	storeKind, dbPath := storeFlags(fs)
	logLevel := fs.String("log-level", "info", "log level")
	logFormat := fs.String("log-format", "text", "log format: text|json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req, err := loadOrDefaultRunRequest(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		req = evoapi.RunRequest{
			RunID:            *runID,
			InputDir:         *inputDir,
			ResidueSpec:      *residueSpec,
			FlagsFile:        *flagsFile,
			StartingSeqs:     *startingSeqs,
			PoolSize:         *poolSize,
			Iterations:       *numIter,
			Workers:          *workers,
			CrossoverRate:    crossover,
			MutationRates:    *mutRates,
			MPNNIters:        *mpnnIters,
			MPNNFreq:         *mpnnFreq,
			Stabilize:        splitList(*stabilize),
			Contacts:         *contacts,
			ScoreFunc:        *scoreFunc,
			RMSDFunc:         *rmsdFunc,
			PredictorCommand: *predictor,
			PredictorArgs:    predictorArgs,
			DesignerCommand:  *designer,
			DesignerArgs:     designerArgs,
			BlobDriver:       *blobDriver,
			WriteStructures:  *writePDBs,
			Plot:             *plot,
			MetricsAddr:      *metricsAddr,
			Seed:             *seed,
		}
	} else {
		err := overrideFromFlags(&req, setFlags, map[string]any{
			"run-id":         *runID,
			"input-dir":      *inputDir,
			"residue-spec":   *residueSpec,
			"flags-file":     *flagsFile,
			"starting-seqs":  *startingSeqs,
			"pool-size":      *poolSize,
			"num-iter":       *numIter,
			"workers":        *workers,
			"crossover":      *crossover,
			"mutation-rates": *mutRates,
			"mpnn-iters":     *mpnnIters,
			"mpnn-freq":      *mpnnFreq,
			"stabilize":      splitList(*stabilize),
			"contacts":       *contacts,
			"score-func":     *scoreFunc,
			"rmsd-func":      *rmsdFunc,
			"predictor":      *predictor,
			"predictor-arg":  []string(predictorArgs),
			"designer":       *designer,
			"designer-arg":   []string(designerArgs),
			"blob-driver":    *blobDriver,
			"write-pdbs":     *writePDBs,
			"plot":           *plot,
			"metrics-addr":   *metricsAddr,
			"seed":           *seed,
		})
		if err != nil {
			return err
		}
	}

	logger, err := logging.New(*logLevel, *logFormat, os.Stderr)
	if err != nil {
		return err
	}
	client, err := evoapi.New(evoapi.Options{
		StoreKind:  *storeKind,
		DBPath:     *dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "run_id=%s iterations=%d final_best_total=%.6f predictions=%s artifacts=%s\n",
		summary.RunID,
		len(summary.BestByIteration),
		summary.FinalBestTotal,
		humanize.Comma(int64(summary.Predictions)),
		summary.ArtifactsDir,
	)
	for i, item := range summary.FinalPool {
		fmt.Fprintf(stdout, "final rank=%d total=%.6f identity=%s\n", i+1, item.Total, item.Identity)
	}
	return nil
}

func runResidues(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("residues", flag.ContinueOnError)
	pdbPath := fs.String("pdb", "", "PDB file providing the chain sequences")
	sequences := fs.String("sequences", "", "chain sequences as A:SEQ,B:SEQ (alternative to --pdb)")
	mutable := fs.String("mut-res", "", "designable residues, e.g. A1-A10,B5")
	mutTo := fs.String("default-mutres", residue.DefaultMutTo, "allowed residues for every designable position")
	symmetric := fs.String("symmetric-res", "", "tied residue groups, e.g. A1-A5:B1-B5")
	output := fs.String("output", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var chains []model.Chain
	switch {
	case *pdbPath != "" && *sequences != "":
		return errors.New("use either --pdb or --sequences")
	case *pdbPath != "":
		data, err := os.ReadFile(*pdbPath)
		if err != nil {
			return err
		}
		if chains, err = scoring.ChainSequences(string(data)); err != nil {
			return fmt.Errorf("read %s: %w", *pdbPath, err)
		}
	case *sequences != "":
		var err error
		if chains, err = parseChainSequences(*sequences); err != nil {
			return err
		}
	default:
		return errors.New("--pdb or --sequences is required")
	}

	ind, err := residue.Build(chains, *mutable, *symmetric, *mutTo)
	if err != nil {
		return err
	}
	if *output == "" {
		return residue.WriteSpec(stdout, ind)
	}
	file, err := os.Create(*output)
	if err != nil {
		return err
	}
	if err := residue.WriteSpec(file, ind); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s designable=%d ties=%d\n", *output, len(ind.Designable), len(ind.Symmetric))
	return nil
}

func parseChainSequences(list string) ([]model.Chain, error) {
	var chains []model.Chain
	for _, item := range splitList(list) {
		id, seq, ok := strings.Cut(item, ":")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(seq) == "" {
			return nil, fmt.Errorf("invalid chain sequence %q, want CHAIN:SEQUENCE", item)
		}
		chains = append(chains, model.Chain{ID: strings.TrimSpace(id), Sequence: strings.ToUpper(strings.TrimSpace(seq))})
	}
	return chains, nil
}

func runExpand(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("expand", flag.ContinueOnError)
	symmetric := fs.Bool("symmetric", false, "treat the input as colon-separated symmetry groups")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expand requires exactly one residue list argument")
	}
	if *symmetric {
		ties, err := residue.ParseSymmetric(fs.Arg(0))
		if err != nil {
			return err
		}
		for _, tie := range ties {
			fmt.Fprintln(stdout, strings.Join(tie, ","))
		}
		return nil
	}
	expanded, err := residue.Expand(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, strings.Join(expanded, ","))
	return nil
}

func runSchedule(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	numIter := fs.Int("num-iter", evoapi.DefaultIterations, "iteration count")
	mutRates := fs.String("mutation-rates", evoapi.DefaultMutationRates, "comma-separated mutation fractions")
	mpnnIters := fs.String("mpnn-iters", "", "explicit designer iterations")
	mpnnFreq := fs.Int("mpnn-freq", 0, "designer frequency")
	if err := fs.Parse(args); err != nil {
		return err
	}
	schedule, err := evo.MutationSchedule(*mutRates, *numIter)
	if err != nil {
		return err
	}
	designed, err := evo.MPNNIterations(*mpnnIters, *mpnnFreq, *numIter)
	if err != nil {
		return err
	}
	for i, rate := range schedule {
		variant := "mutation"
		switch {
		case i == 0:
			variant = "initial"
		case designed.Contains(i + 1):
			variant = "mpnn"
		}
		fmt.Fprintf(stdout, "iteration=%d mutation_rate=%g refill=%s\n", i+1, rate, variant)
	}
	return nil
}

func runFunctions(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("functions", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "score: %s\n", strings.Join(evoapi.ScoreFuncs(), ","))
	fmt.Fprintf(stdout, "rmsd: %s\n", strings.Join(evoapi.RMSDFuncs(), ","))
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}
	client, err := evoapi.New(evoapi.Options{RunsDir: runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	items, err := client.Runs(ctx, evoapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	for _, item := range items {
		created := item.CreatedAtUTC
		if ts, err := time.Parse(time.RFC3339Nano, item.CreatedAtUTC); err == nil {
			created = humanize.Time(ts)
		}
		fmt.Fprintf(stdout, "run_id=%s created=%q pool=%d iterations=%d workers=%d seed=%d stabilize=%s final_best_total=%.6f predictions=%s\n",
			item.RunID,
			created,
			item.PoolSize,
			item.Iterations,
			item.Workers,
			item.Seed,
			orNone(item.Stabilize),
			item.FinalBestTotal,
			humanize.Comma(int64(item.Predictions)),
		)
	}
	return nil
}

func storeFlags(fs *flag.FlagSet) (storeKind, dbPath *string) {
	storeKind = fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite|postgres")
	dbPath = fs.String("db-path", "evoprot.db", "sqlite database path or postgres DSN")
	return storeKind, dbPath
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	jsonOut := fs.Bool("json", false, "emit the run detail as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := evoapi.New(evoapi.Options{RunsDir: runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	detail, err := client.Show(ctx, evoapi.RunRef{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	}
	cfg := detail.Config
	fmt.Fprintf(stdout, "run_id=%s pool_size=%d iterations=%d workers=%d crossover=%g score_func=%s rmsd_func=%s stabilize=%s seed=%d\n",
		detail.RunID, cfg.PoolSize, cfg.Iterations, cfg.Workers, cfg.CrossoverRate, cfg.ScoreFunc, cfg.RMSDFunc, strings.Join(cfg.Stabilize, ","), cfg.Seed)
	for _, p := range detail.Trajectory {
		fmt.Fprintf(stdout, "iteration=%d best=%.6f mean=%.6f worst=%.6f\n", p.Iteration, p.Best, p.Mean, p.Worst)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	top := fs.Int("top", 0, "entries per iteration (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := evoapi.New(evoapi.Options{StoreKind: *storeKind, DBPath: *dbPath, RunsDir: runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	history, err := client.History(ctx, evoapi.HistoryRequest{RunRef: evoapi.RunRef{RunID: *runID, Latest: *latest}, Top: *top})
	if err != nil {
		return err
	}
	for _, ranking := range history {
		fmt.Fprintf(stdout, ">iteration%d variant=%s\n", ranking.Iteration, ranking.Variant)
		for _, e := range ranking.Entries {
			fmt.Fprintf(stdout, "%d\t%s\t%.6f\tcomplex=%.6f monomer=%.6f rmsd=%.6f\n", e.Rank, e.Identity, e.Total, e.Complex, e.MonomerSum, e.RMSDSum)
		}
	}
	return nil
}

func runCache(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cache", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	limit := fs.Int("limit", 0, "max records (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := evoapi.New(evoapi.Options{StoreKind: *storeKind, DBPath: *dbPath, RunsDir: runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	items, err := client.Cache(ctx, evoapi.CacheRequest{RunRef: evoapi.RunRef{RunID: *runID, Latest: *latest}, Limit: *limit})
	if err != nil {
		return err
	}
	for _, item := range items {
		fmt.Fprintf(stdout, "%s\t%.6f\titeration=%d complex=%.6f monomer=%.6f rmsd=%.6f\n", item.Identity, item.Total, item.Iteration, item.Complex, item.MonomerSum, item.RMSDSum)
	}
	fmt.Fprintf(stdout, "cached=%s\n", humanize.Comma(int64(len(items))))
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id to export")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", exportsDir, "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := evoapi.New(evoapi.Options{RunsDir: runsDir, ExportsDir: exportsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	summary, err := client.Export(ctx, evoapi.ExportRequest{RunRef: evoapi.RunRef{RunID: *runID, Latest: *latest}, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
	return nil
}

func splitList(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
