// Package workerpool runs inference work units on a fixed set of persistent
// workers. Each worker owns one Predictor for the lifetime of the pool.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"evoprot/internal/model"
)

var ErrPoolClosed = errors.New("worker pool is spun down")

// Predictor turns one work unit into a raw structure prediction. A Predictor
// is used by a single worker and never called concurrently.
type Predictor interface {
	Predict(ctx context.Context, unit model.WorkUnit) (model.RawResult, error)
	Close() error
}

// Initializer builds the predictor for one worker. It runs once per worker at
// pool construction.
type Initializer func(ctx context.Context, worker int) (Predictor, error)

type Options struct {
	Logger logrus.FieldLogger
}

type job struct {
	ctx     context.Context
	idx     int
	unit    model.WorkUnit
	results chan<- result
}

type result struct {
	idx    int
	raw    model.RawResult
	worker int
	err    error
}

type Pool struct {
	predictors []Predictor
	jobs       chan job
	log        logrus.FieldLogger

	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New starts workers workers, initializing their predictors in parallel. If
// any initializer fails the predictors already built are closed.
func New(ctx context.Context, workers int, init Initializer, opts Options) (*Pool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("worker count must be > 0, got %d", workers)
	}
	if init == nil {
		return nil, errors.New("worker initializer is required")
	}
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	predictors := make([]Predictor, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			p, err := init(gctx, w)
			if err != nil {
				return fmt.Errorf("initialize worker %d: %w", w, err)
			}
			predictors[w] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, p := range predictors {
			if p != nil {
				_ = p.Close()
			}
		}
		return nil, err
	}

	p := &Pool{
		predictors: predictors,
		jobs:       make(chan job),
		log:        log,
	}
	p.wg.Add(workers)
	for w := 0; w < workers; w++ {
		log.WithField("worker", w).Debug("worker started")
		go p.work(w)
	}
	return p, nil
}

func (p *Pool) Size() int {
	return len(p.predictors)
}

func (p *Pool) work(w int) {
	defer p.wg.Done()
	predictor := p.predictors[w]
	for j := range p.jobs {
		if err := j.ctx.Err(); err != nil {
			j.results <- result{idx: j.idx, worker: w, err: err}
			continue
		}
		raw, err := predictor.Predict(j.ctx, j.unit)
		if err != nil {
			err = fmt.Errorf("worker %d: unit %d (%s): %w", w, j.idx, j.unit.Role, err)
		}
		j.results <- result{idx: j.idx, raw: raw, worker: w, err: err}
	}
}

// Churn runs every unit and blocks until all have completed. Results are
// returned in submission order. Any unit failure fails the whole call.
func (p *Pool) Churn(ctx context.Context, units []model.WorkUnit) ([]model.RawResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if len(units) == 0 {
		return nil, nil
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, len(units))
	go func() {
		for i := range units {
			p.jobs <- job{ctx: callCtx, idx: i, unit: units[i], results: results}
		}
	}()

	out := make([]model.RawResult, len(units))
	var firstErr error
	for range units {
		res := <-results
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		out[res.idx] = res.raw
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// SpinDown stops all workers and closes their predictors. It is safe to call
// more than once.
func (p *Pool) SpinDown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.wg.Wait()

	var errs []error
	for w, predictor := range p.predictors {
		if err := predictor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close worker %d: %w", w, err))
		}
		p.log.WithField("worker", w).Debug("worker stopped")
	}
	return errors.Join(errs...)
}
