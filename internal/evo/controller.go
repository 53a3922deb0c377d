package evo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"evoprot/internal/model"
	"evoprot/internal/scoring"
	"evoprot/internal/storage"
)

// Dispatcher runs prediction units in batches. workerpool.Pool satisfies it.
type Dispatcher interface {
	Churn(ctx context.Context, units []model.WorkUnit) ([]model.RawResult, error)
	SpinDown() error
}

// RefillPolicy chooses the refill variant for each iteration.
type RefillPolicy interface {
	For(iteration int) Refiller
}

// IterationReport is handed to the sink after each iteration's selection.
type IterationReport struct {
	Iteration int
	Variant   string
	// Pool holds every pool member in refill order.
	Pool []model.ScoreRecord
	// Ranked holds the same records, best first.
	Ranked []model.ScoreRecord
	Kept   int
}

type FinalReport struct {
	History []model.IterationRanking
	// Final is the last selected pool, best first.
	Final           []model.ScoreRecord
	UnitsDispatched int
}

// Sink persists iteration results. A sink error aborts the run.
type Sink interface {
	IterationDone(ctx context.Context, report IterationReport) error
	Finish(ctx context.Context, report FinalReport) error
}

// Observer receives dispatch statistics; it must not block.
type Observer interface {
	CacheLookups(hits, misses int)
	Churned(units []model.WorkUnit, elapsed time.Duration)
	IterationCompleted(iteration int, best float64)
}

type ControllerConfig struct {
	Seeds      []model.Individual
	PoolSize   int
	Iterations int

	Refill     RefillPolicy
	Aggregator scoring.Aggregator
	Dispatcher Dispatcher
	Cache      *storage.SequenceCache
	Selector   TruncationSelector
	Sink       Sink
	Observer   Observer
	Logger     logrus.FieldLogger
	Seed       int64
}

type RunResult struct {
	History         []model.IterationRanking
	FinalPool       []model.ScoreRecord
	UnitsDispatched int
}

// Controller drives the refill, dispatch, score, select and checkpoint loop.
type Controller struct {
	cfg ControllerConfig
	rng *rand.Rand
	log logrus.FieldLogger
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if len(cfg.Seeds) == 0 {
		return nil, errors.New("at least one seed individual is required")
	}
	if cfg.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size must be > 0, got %d", cfg.PoolSize)
	}
	if cfg.Iterations <= 0 {
		return nil, fmt.Errorf("iterations must be > 0, got %d", cfg.Iterations)
	}
	if cfg.Refill == nil {
		return nil, errors.New("refill policy is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("sequence cache is required")
	}
	if err := cfg.Aggregator.Validate(cfg.Seeds[0]); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Controller{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		log: log,
	}, nil
}

// Run executes every iteration and spins the dispatcher down on return.
func (c *Controller) Run(ctx context.Context) (result RunResult, err error) {
	defer func() {
		if spinErr := c.cfg.Dispatcher.SpinDown(); spinErr != nil && err == nil {
			err = fmt.Errorf("spin down workers: %w", spinErr)
		}
	}()

	pool := c.cfg.Seeds
	var final []model.ScoreRecord
	for iteration := 1; iteration <= c.cfg.Iterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		refiller := c.cfg.Refill.For(iteration)
		if refiller == nil {
			return result, fmt.Errorf("iteration %d: no refill variant configured", iteration)
		}
		log := c.log.WithFields(logrus.Fields{"iteration": iteration, "variant": refiller.Name()})

		pool, err = refiller.Refill(ctx, c.rng, pool, RefillContext{
			Iteration: iteration,
			PoolSize:  c.cfg.PoolSize,
			History:   c.cfg.Cache,
		})
		if err != nil {
			return result, fmt.Errorf("iteration %d refill: %w", iteration, err)
		}
		log.WithField("pool_size", len(pool)).Info("pool refilled")

		dispatched, err := c.score(ctx, log, iteration, pool)
		if err != nil {
			return result, fmt.Errorf("iteration %d: %w", iteration, err)
		}
		result.UnitsDispatched += dispatched

		scored := make([]model.ScoreRecord, len(pool))
		for i, ind := range pool {
			rec, ok := c.cfg.Cache.Get(ind.Identity())
			if !ok {
				return result, fmt.Errorf("iteration %d: no score for %s", iteration, ind.Identity())
			}
			scored[i] = rec
		}
		ranked, kept := c.cfg.Selector.Select(scored)

		ranking := model.IterationRanking{Iteration: iteration, Variant: refiller.Name(), Entries: Rank(ranked)}
		result.History = append(result.History, ranking)
		if c.cfg.Sink != nil {
			report := IterationReport{Iteration: iteration, Variant: refiller.Name(), Pool: scored, Ranked: ranked, Kept: len(kept)}
			if err := c.cfg.Sink.IterationDone(ctx, report); err != nil {
				return result, fmt.Errorf("iteration %d checkpoint: %w", iteration, err)
			}
		}
		if c.cfg.Observer != nil {
			c.cfg.Observer.IterationCompleted(iteration, ranked[0].Total)
		}
		log.WithFields(logrus.Fields{"best_total": ranked[0].Total, "kept": len(kept)}).Info("iteration complete")

		final = kept
		pool = make([]model.Individual, len(kept))
		for i, rec := range kept {
			pool[i] = rec.Individual
		}
	}

	result.FinalPool = final
	if c.cfg.Sink != nil {
		err := c.cfg.Sink.Finish(ctx, FinalReport{
			History:         result.History,
			Final:           final,
			UnitsDispatched: result.UnitsDispatched,
		})
		if err != nil {
			return result, fmt.Errorf("final checkpoint: %w", err)
		}
	}
	return result, nil
}

// score predicts and caches every pool member not already in the cache. It
// returns the number of units dispatched.
func (c *Controller) score(ctx context.Context, log logrus.FieldLogger, iteration int, pool []model.Individual) (int, error) {
	var pending []model.Individual
	hits := 0
	for _, ind := range pool {
		if c.cfg.Cache.Contains(ind.Identity()) {
			hits++
			continue
		}
		pending = append(pending, ind)
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.CacheLookups(hits, len(pending))
	}
	log.WithFields(logrus.Fields{"to_score": len(pending), "cache_hits": hits}).Info("dispatching")
	if len(pending) == 0 {
		return 0, nil
	}

	units := c.cfg.Aggregator.BuildUnits(pending)
	start := time.Now()
	results, err := c.cfg.Dispatcher.Churn(ctx, units)
	if err != nil {
		return 0, fmt.Errorf("churn: %w", err)
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.Churned(units, time.Since(start))
	}

	records, err := c.cfg.Aggregator.Recombine(pending, units, results, iteration)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if err := c.cfg.Cache.Put(ctx, rec.Identity, rec); err != nil {
			return 0, err
		}
	}
	return len(units), nil
}
