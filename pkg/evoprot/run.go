package evoprot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"evoprot/internal/blob"
	"evoprot/internal/checkpoint"
	"evoprot/internal/evo"
	"evoprot/internal/metrics"
	"evoprot/internal/model"
	"evoprot/internal/residue"
	"evoprot/internal/scoring"
	"evoprot/internal/stats"
	"evoprot/internal/storage"
	"evoprot/internal/workerpool"
)

const (
	DefaultPoolSize      = 40
	DefaultIterations    = 50
	DefaultWorkers       = 2
	DefaultCrossoverRate = 0.2
	DefaultMutationRates = "0.125"
	DefaultScoreFunc     = scoring.ScorePLDDT
)

// RunRequest is one optimization run. It is also the shape of a run config
// document, so every field a user sets carries a yaml tag.
type RunRequest struct {
	RunID string `yaml:"run_id"`

	// InputDir is searched for the residue spec, the predictor flags and the
	// optional starting sequences when their paths are not given.
	InputDir     string `yaml:"input_dir"`
	ResidueSpec  string `yaml:"residue_spec"`
	FlagsFile    string `yaml:"flags_file"`
	StartingSeqs string `yaml:"starting_seqs"`

	PoolSize   int `yaml:"pool_size"`
	Iterations int `yaml:"iterations"`
	Workers    int `yaml:"workers"`

	// CrossoverRate is the fraction of children bred by crossover. Nil selects
	// DefaultCrossoverRate; zero gives a mutation-only run.
	CrossoverRate *float64 `yaml:"crossover_rate"`
	MutationRates string   `yaml:"mutation_rates"`
	MPNNIters     string   `yaml:"mpnn_iters"`
	MPNNFreq      int      `yaml:"mpnn_freq"`

	Stabilize []string `yaml:"stabilize"`
	Contacts  string   `yaml:"contacts"`
	ScoreFunc string   `yaml:"score_func"`
	RMSDFunc  string   `yaml:"rmsd_func"`

	PredictorCommand string   `yaml:"predictor_command"`
	PredictorArgs    []string `yaml:"predictor_args"`
	DesignerCommand  string   `yaml:"designer_command"`
	DesignerArgs     []string `yaml:"designer_args"`

	BlobDriver      string `yaml:"blob_driver"`
	WriteStructures bool   `yaml:"write_structures"`
	Plot            bool   `yaml:"plot"`
	MetricsAddr     string `yaml:"metrics_addr"`
	Seed            int64  `yaml:"seed"`

	// Initializer replaces the predictor subprocess.
	Initializer workerpool.Initializer `yaml:"-"`
	// Designer replaces the designer subprocess.
	Designer evo.Designer `yaml:"-"`
	Observer evo.Observer `yaml:"-"`
}

type FinalItem struct {
	Identity string
	Total    float64
}

type RunSummary struct {
	RunID           string
	ArtifactsDir    string
	BestByIteration []float64
	FinalBestTotal  float64
	FinalPool       []FinalItem
	Predictions     int
}

// DiscoverInputs finds the run inputs in dir by file name: the residue spec
// contains "residue" and "spec", the flags document contains "flag" and "af2"
// or "of", and the starting sequences contain "starting" and "seqs".
func DiscoverInputs(dir string) (residueSpec, flagsFile, startingSeqs string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", "", fmt.Errorf("read input directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		lower := strings.ToLower(name)
		path := filepath.Join(dir, name)
		switch {
		case strings.Contains(lower, "residue") && strings.Contains(lower, "spec"):
			residueSpec = path
		case strings.Contains(lower, "flag") && (strings.Contains(lower, "af2") || strings.Contains(lower, "of")):
			flagsFile = path
		case strings.Contains(lower, "starting") && strings.Contains(lower, "seqs"):
			startingSeqs = path
		}
	}
	if residueSpec == "" {
		return "", "", "", fmt.Errorf("no residue specification file found in %s", dir)
	}
	if flagsFile == "" {
		return "", "", "", fmt.Errorf("no predictor flags file found in %s", dir)
	}
	return residueSpec, flagsFile, startingSeqs, nil
}

func applyRunDefaults(req *RunRequest) error {
	if req.PoolSize <= 0 {
		req.PoolSize = DefaultPoolSize
	}
	if req.Iterations <= 0 {
		req.Iterations = DefaultIterations
	}
	if req.Workers <= 0 {
		req.Workers = DefaultWorkers
	}
	if req.CrossoverRate == nil {
		rate := DefaultCrossoverRate
		req.CrossoverRate = &rate
	}
	if rate := *req.CrossoverRate; rate < 0 || rate > 1 {
		return fmt.Errorf("crossover rate must be within [0, 1], got %v", rate)
	}
	if req.MutationRates == "" {
		req.MutationRates = DefaultMutationRates
	}
	if req.ScoreFunc == "" {
		req.ScoreFunc = DefaultScoreFunc
	}
	if req.BlobDriver == "" {
		req.BlobDriver = string(blob.DriverFromEnv())
	}
	if req.InputDir != "" && (req.ResidueSpec == "" || req.FlagsFile == "") {
		spec, flags, starting, err := DiscoverInputs(req.InputDir)
		if err != nil {
			return err
		}
		if req.ResidueSpec == "" {
			req.ResidueSpec = spec
		}
		if req.FlagsFile == "" {
			req.FlagsFile = flags
		}
		if req.StartingSeqs == "" {
			req.StartingSeqs = starting
		}
	}
	if req.ResidueSpec == "" {
		return errors.New("residue specification is required")
	}
	if req.Initializer == nil {
		if req.PredictorCommand == "" {
			return errors.New("predictor command is required")
		}
		if req.FlagsFile == "" {
			return errors.New("predictor flags file is required")
		}
	}
	return nil
}

// loadSeeds returns the starting candidates followed by the residue spec's own
// sequence. A starting file whose name contains "mut" lists point mutations of
// the template instead of full sequences.
func loadSeeds(req RunRequest) ([]model.Individual, error) {
	template, err := residue.LoadSpec(req.ResidueSpec)
	if err != nil {
		return nil, err
	}
	if req.StartingSeqs == "" {
		return []model.Individual{template}, nil
	}
	file, err := os.Open(req.StartingSeqs)
	if err != nil {
		return nil, fmt.Errorf("open starting sequences: %w", err)
	}
	defer file.Close()
	read := residue.ReadStartingSequences
	if strings.Contains(strings.ToLower(filepath.Base(req.StartingSeqs)), "mut") {
		read = residue.ReadStartingMutations
	}
	seeds, err := read(file, template)
	if err != nil {
		return nil, err
	}
	return append(seeds, template), nil
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := applyRunDefaults(&req); err != nil {
		return RunSummary{}, err
	}

	// Configuration is resolved completely before any worker starts.
	seeds, err := loadSeeds(req)
	if err != nil {
		return RunSummary{}, err
	}
	schedule, err := evo.MutationSchedule(req.MutationRates, req.Iterations)
	if err != nil {
		return RunSummary{}, err
	}
	mpnnIters, err := evo.MPNNIterations(req.MPNNIters, req.MPNNFreq, req.Iterations)
	if err != nil {
		return RunSummary{}, err
	}
	scoreFunc, err := scoring.ResolveScoreFunc(req.ScoreFunc)
	if err != nil {
		return RunSummary{}, err
	}
	rmsdFunc, err := scoring.ResolveRMSDFunc(req.RMSDFunc)
	if err != nil {
		return RunSummary{}, err
	}
	var contacts []string
	if req.Contacts != "" {
		if contacts, err = residue.Expand(req.Contacts); err != nil {
			return RunSummary{}, err
		}
	}
	aggregator := scoring.Aggregator{Score: scoreFunc, RMSD: rmsdFunc, Stabilize: req.Stabilize, Contacts: contacts}
	if err := aggregator.Validate(seeds[0]); err != nil {
		return RunSummary{}, err
	}

	mutation := evo.OperatorRefill{
		Mutator:       evo.RandomMutator{},
		Crossover:     evo.UniformCrossover{},
		CrossoverRate: *req.CrossoverRate,
		Schedule:      schedule,
	}
	policy := evo.ScheduledRefill{
		Initial:        evo.OperatorRefill{Label: "initial", Mutator: evo.RandomMutator{}, Schedule: schedule},
		Mutation:       mutation,
		MPNNIterations: mpnnIters,
	}
	if len(mpnnIters) > 0 {
		designer := req.Designer
		if designer == nil {
			if req.DesignerCommand == "" {
				return RunSummary{}, errors.New("designer command is required when MPNN iterations are configured")
			}
			designer = evo.ExecDesigner{Command: req.DesignerCommand, Args: req.DesignerArgs, Stderr: os.Stderr}
		}
		policy.MPNN = evo.MPNNRefill{Designer: designer, Fallback: mutation}
	}

	if err := c.ensureStore(ctx); err != nil {
		return RunSummary{}, err
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	runDir := stats.RunDir(c.runsDir, runID)
	log := c.log.WithField("run_id", runID)
	now := time.Now().UTC()

	if err := stats.WriteRunConfig(c.runsDir, runID, runConfig(runID, req, schedule, mpnnIters)); err != nil {
		return RunSummary{}, err
	}
	structures, err := blob.Open(ctx, blob.Driver(req.BlobDriver), runDir, runID)
	if err != nil {
		return RunSummary{}, err
	}
	sink, err := checkpoint.New(checkpoint.Options{
		Dir:             runDir,
		RunID:           runID,
		Store:           c.store,
		Structures:      structures,
		WriteStructures: req.WriteStructures,
		Plot:            req.Plot,
		Stabilized:      len(req.Stabilize) > 0,
		Logger:          log,
	})
	if err != nil {
		return RunSummary{}, err
	}

	recorder := metrics.NewRecorder(runID)
	var observer evo.Observer = recorder
	if req.Observer != nil {
		observer = fanOut{recorder, req.Observer}
	}
	if req.MetricsAddr != "" {
		stop, err := serveMetrics(req.MetricsAddr, recorder, log)
		if err != nil {
			return RunSummary{}, err
		}
		defer stop()
	}

	initializer := req.Initializer
	if initializer == nil {
		initializer = workerpool.ExecInitializer(workerpool.ExecConfig{
			Command:   req.PredictorCommand,
			Args:      req.PredictorArgs,
			FlagsPath: req.FlagsFile,
			Stderr:    os.Stderr,
		})
	}
	pool, err := workerpool.New(ctx, req.Workers, initializer, workerpool.Options{Logger: log})
	if err != nil {
		return RunSummary{}, err
	}

	ctrl, err := evo.NewController(evo.ControllerConfig{
		Seeds:      seeds,
		PoolSize:   req.PoolSize,
		Iterations: req.Iterations,
		Refill:     policy,
		Aggregator: aggregator,
		Dispatcher: pool,
		Cache:      storage.NewSequenceCache(c.store, runID),
		Sink:       sink,
		Observer:   observer,
		Logger:     log,
		Seed:       req.Seed,
	})
	if err != nil {
		_ = pool.SpinDown()
		return RunSummary{}, err
	}
	result, err := ctrl.Run(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		Predictions:  result.UnitsDispatched,
	}
	for _, ranking := range result.History {
		if len(ranking.Entries) > 0 {
			summary.BestByIteration = append(summary.BestByIteration, ranking.Entries[0].Total)
		}
	}
	for _, rec := range result.FinalPool {
		summary.FinalPool = append(summary.FinalPool, FinalItem{Identity: rec.Identity, Total: rec.Total})
	}
	if len(result.FinalPool) > 0 {
		summary.FinalBestTotal = result.FinalPool[0].Total
	}

	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:          runID,
		PoolSize:       req.PoolSize,
		Iterations:     req.Iterations,
		Workers:        req.Workers,
		Seed:           req.Seed,
		Stabilize:      strings.Join(req.Stabilize, ","),
		FinalBestTotal: summary.FinalBestTotal,
		Predictions:    result.UnitsDispatched,
		CreatedAtUTC:   now.Format(time.RFC3339Nano),
	}); err != nil {
		return RunSummary{}, err
	}
	log.WithFields(logrus.Fields{
		"predictions": result.UnitsDispatched,
		"best_total":  summary.FinalBestTotal,
	}).Info("run finished")
	return summary, nil
}

func runConfig(runID string, req RunRequest, schedule []float64, mpnnIters evo.IterationSet) stats.RunConfig {
	return stats.RunConfig{
		RunID:            runID,
		InputDir:         req.InputDir,
		ResidueSpec:      req.ResidueSpec,
		FlagsFile:        req.FlagsFile,
		StartingSeqs:     req.StartingSeqs,
		PoolSize:         req.PoolSize,
		Iterations:       req.Iterations,
		Workers:          req.Workers,
		CrossoverRate:    *req.CrossoverRate,
		MutationSchedule: schedule,
		MPNNIterations:   mpnnIters.Sorted(),
		Stabilize:        req.Stabilize,
		Contacts:         splitNonEmpty(req.Contacts),
		ScoreFunc:        req.ScoreFunc,
		RMSDFunc:         req.RMSDFunc,
		Predictor:        req.PredictorCommand,
		Designer:         req.DesignerCommand,
		BlobDriver:       req.BlobDriver,
		WriteStructures:  req.WriteStructures,
		Plot:             req.Plot,
		Seed:             req.Seed,
	}
}

func splitNonEmpty(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

type fanOut []evo.Observer

func (f fanOut) CacheLookups(hits, misses int) {
	for _, o := range f {
		o.CacheLookups(hits, misses)
	}
}

func (f fanOut) Churned(units []model.WorkUnit, elapsed time.Duration) {
	for _, o := range f {
		o.Churned(units, elapsed)
	}
}

func (f fanOut) IterationCompleted(iteration int, best float64) {
	for _, o := range f {
		o.IterationCompleted(iteration, best)
	}
}

// serveMetrics exposes the recorder until the returned stop func is called.
func serveMetrics(addr string, recorder *metrics.Recorder, log logrus.FieldLogger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
