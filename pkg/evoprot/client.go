package evoprot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"evoprot/internal/model"
	"evoprot/internal/stats"
	"evoprot/internal/storage"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "evoprot.db"
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     logrus.FieldLogger
}

// Client runs optimizations and reads back their artifacts.
type Client struct {
	store storage.Store
	log   logrus.FieldLogger

	runsDir    string
	exportsDir string

	initOnce sync.Once
	initErr  error
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID          string
	CreatedAtUTC   string
	PoolSize       int
	Iterations     int
	Workers        int
	Seed           int64
	Stabilize      string
	FinalBestTotal float64
	Predictions    int
}

// RunRef selects a run by ID or the most recent one.
type RunRef struct {
	RunID  string
	Latest bool
}

type HistoryRequest struct {
	RunRef
	// Top limits the entries printed per iteration; 0 keeps all.
	Top int
}

type CacheRequest struct {
	RunRef
	Limit int
}

type CacheItem struct {
	Identity   string
	Iteration  int
	Total      float64
	Complex    float64
	MonomerSum float64
	RMSDSum    float64
}

// RunConfig is the resolved configuration recorded when a run starts.
type RunConfig = stats.RunConfig

// TrajectoryPoint is one iteration of a run's score trajectory.
type TrajectoryPoint = stats.TrajectoryPoint

type RunDetail struct {
	RunID  string
	Config RunConfig
	// Trajectory is empty when the run was started without plotting.
	Trajectory []TrajectoryPoint
}

type ExportRequest struct {
	RunRef
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		store:      store,
		log:        log,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:          e.RunID,
			CreatedAtUTC:   e.CreatedAtUTC,
			PoolSize:       e.PoolSize,
			Iterations:     e.Iterations,
			Workers:        e.Workers,
			Seed:           e.Seed,
			Stabilize:      e.Stabilize,
			FinalBestTotal: e.FinalBestTotal,
			Predictions:    e.Predictions,
		})
	}
	return out, nil
}

// History returns the persisted per-iteration rankings of a run.
func (c *Client) History(ctx context.Context, req HistoryRequest) ([]model.IterationRanking, error) {
	if req.Top < 0 {
		return nil, errors.New("top must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunRef)
	if err != nil {
		return nil, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	rankings, ok, err := c.store.GetRankings(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("history not found for run id: %s", runID)
	}
	if req.Top > 0 {
		for i := range rankings {
			if len(rankings[i].Entries) > req.Top {
				rankings[i].Entries = rankings[i].Entries[:req.Top]
			}
		}
	}
	return rankings, nil
}

// Cache lists the scored identities of a run in the order they were scored.
func (c *Client) Cache(ctx context.Context, req CacheRequest) ([]CacheItem, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunRef)
	if err != nil {
		return nil, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	records, err := c.store.ListRecords(ctx, runID)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(records) > req.Limit {
		records = records[:req.Limit]
	}
	out := make([]CacheItem, 0, len(records))
	for _, rec := range records {
		out = append(out, CacheItem{
			Identity:   rec.Identity,
			Iteration:  rec.Iteration,
			Total:      rec.Total,
			Complex:    rec.Complex.Total,
			MonomerSum: rec.MonomerSum,
			RMSDSum:    rec.RMSDSum,
		})
	}
	return out, nil
}

// Show reads back the recorded configuration and trajectory of a run.
func (c *Client) Show(_ context.Context, ref RunRef) (RunDetail, error) {
	runID, err := c.resolveRunID(ref)
	if err != nil {
		return RunDetail{}, err
	}
	cfg, ok, err := stats.ReadRunConfig(c.runsDir, runID)
	if err != nil {
		return RunDetail{}, err
	}
	if !ok {
		return RunDetail{}, fmt.Errorf("run config not found for run id: %s", runID)
	}
	trajectory, _, err := stats.ReadTrajectory(c.runsDir, runID)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{RunID: runID, Config: cfg, Trajectory: trajectory}, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunRef)
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(ref RunRef) (string, error) {
	if ref.RunID != "" && ref.Latest {
		return "", errors.New("use either run id or latest")
	}
	if ref.RunID != "" {
		return ref.RunID, nil
	}
	if !ref.Latest {
		return "", errors.New("run id or latest is required")
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}
