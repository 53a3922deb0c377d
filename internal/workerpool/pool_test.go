package workerpool

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"evoprot/internal/model"
)

type markerPredictor struct {
	worker int
	calls  *atomic.Int64
	fail   string
	closed atomic.Bool
}

func (p *markerPredictor) Predict(_ context.Context, unit model.WorkUnit) (model.RawResult, error) {
	p.calls.Add(1)
	if unit.Individual == p.fail {
		return model.RawResult{}, errors.New("device exhausted")
	}
	// Later units finish first so completion order differs from submission order.
	idx, _ := strconv.Atoi(unit.Individual)
	time.Sleep(time.Duration(10-idx%10) * time.Millisecond)
	return model.RawResult{PDB: unit.Individual, Metrics: map[string]float64{"worker": float64(p.worker)}}, nil
}

func (p *markerPredictor) Close() error {
	p.closed.Store(true)
	return nil
}

func newMarkerPool(t *testing.T, workers int, fail string) (*Pool, []*markerPredictor, *atomic.Int64) {
	t.Helper()
	var (
		mu    sync.Mutex
		preds = make([]*markerPredictor, workers)
		calls atomic.Int64
	)
	pool, err := New(context.Background(), workers, func(_ context.Context, w int) (Predictor, error) {
		p := &markerPredictor{worker: w, calls: &calls, fail: fail}
		mu.Lock()
		preds[w] = p
		mu.Unlock()
		return p, nil
	}, Options{})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return pool, preds, &calls
}

func markerUnits(n int) []model.WorkUnit {
	units := make([]model.WorkUnit, n)
	for i := range units {
		units[i] = model.WorkUnit{Individual: strconv.Itoa(i), Role: model.ComplexRole()}
	}
	return units
}

func TestChurnPreservesSubmissionOrder(t *testing.T) {
	pool, _, calls := newMarkerPool(t, 3, "")
	defer pool.SpinDown()

	for _, n := range []int{7, 1, 12} {
		results, err := pool.Churn(context.Background(), markerUnits(n))
		if err != nil {
			t.Fatalf("churn %d: %v", n, err)
		}
		if len(results) != n {
			t.Fatalf("expected %d results, got %d", n, len(results))
		}
		for i, res := range results {
			if res.PDB != strconv.Itoa(i) {
				t.Fatalf("result %d carries marker %q", i, res.PDB)
			}
		}
	}
	if calls.Load() != 20 {
		t.Fatalf("expected 20 predictions, got %d", calls.Load())
	}
}

func TestChurnSpreadsUnitsAcrossWorkers(t *testing.T) {
	pool, _, _ := newMarkerPool(t, 2, "")
	defer pool.SpinDown()

	results, err := pool.Churn(context.Background(), markerUnits(10))
	if err != nil {
		t.Fatalf("churn: %v", err)
	}
	seen := map[float64]bool{}
	for _, res := range results {
		seen[res.Metrics["worker"]] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected both workers to run units, saw %v", seen)
	}
}

func TestChurnFailsWholeBatchOnUnitError(t *testing.T) {
	pool, _, _ := newMarkerPool(t, 2, "3")
	defer pool.SpinDown()

	results, err := pool.Churn(context.Background(), markerUnits(6))
	if err == nil {
		t.Fatal("expected churn failure")
	}
	if results != nil {
		t.Fatalf("expected no partial results, got %d", len(results))
	}
}

func TestSpinDownIsIdempotentAndClosesPool(t *testing.T) {
	pool, preds, _ := newMarkerPool(t, 2, "")
	if err := pool.SpinDown(); err != nil {
		t.Fatalf("spin down: %v", err)
	}
	if err := pool.SpinDown(); err != nil {
		t.Fatalf("second spin down: %v", err)
	}
	for w, p := range preds {
		if !p.closed.Load() {
			t.Fatalf("worker %d predictor not closed", w)
		}
	}
	if _, err := pool.Churn(context.Background(), markerUnits(1)); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestNewClosesPredictorsWhenInitFails(t *testing.T) {
	var closed atomic.Int64
	_, err := New(context.Background(), 3, func(_ context.Context, w int) (Predictor, error) {
		if w == 1 {
			return nil, errors.New("no device")
		}
		return closeCounter{&closed}, nil
	}, Options{})
	if err == nil {
		t.Fatal("expected init error")
	}
	// Worker 1 fails; the others may or may not have been built before cancellation.
	if closed.Load() > 2 {
		t.Fatalf("closed too many predictors: %d", closed.Load())
	}
}

type closeCounter struct{ n *atomic.Int64 }

func (c closeCounter) Predict(context.Context, model.WorkUnit) (model.RawResult, error) {
	return model.RawResult{}, nil
}

func (c closeCounter) Close() error {
	c.n.Add(1)
	return nil
}

func TestNewRejectsInvalidWorkerCount(t *testing.T) {
	if _, err := New(context.Background(), 0, func(context.Context, int) (Predictor, error) { return nil, nil }, Options{}); err == nil {
		t.Fatal("expected worker count error")
	}
}
