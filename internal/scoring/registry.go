package scoring

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"evoprot/internal/model"
)

var (
	ErrFunctionExists   = errors.New("scoring function already registered")
	ErrFunctionNotFound = errors.New("scoring function not found")
)

// ScoreFunc scores one predicted unit. It must be deterministic for identical
// inputs. contacts lists residue keys of the configured contact area.
type ScoreFunc func(unit model.WorkUnit, raw model.RawResult, ind model.Individual, contacts []string) (model.Score, error)

// RMSDFunc measures how far a stabilized chain moves between its complex and
// standalone predictions.
type RMSDFunc func(complex, monomer model.Structure, ind model.Individual) (float64, error)

var registry = struct {
	mu    sync.RWMutex
	score map[string]ScoreFunc
	rmsd  map[string]RMSDFunc
}{}

func init() {
	resetRegistry()
}

func resetRegistry() {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.score = map[string]ScoreFunc{
		ScorePLDDT:        PLDDTScore,
		ScoreContactPLDDT: ContactPLDDTScore,
	}
	registry.rmsd = map[string]RMSDFunc{
		RMSDCalpha: CalphaRMSD,
	}
}

func RegisterScoreFunc(name string, fn ScoreFunc) error {
	if name == "" {
		return errors.New("score function name is required")
	}
	if fn == nil {
		return errors.New("score function is required")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.score[name]; exists {
		return fmt.Errorf("%w: score %s", ErrFunctionExists, name)
	}
	registry.score[name] = fn
	return nil
}

func RegisterRMSDFunc(name string, fn RMSDFunc) error {
	if name == "" {
		return errors.New("rmsd function name is required")
	}
	if fn == nil {
		return errors.New("rmsd function is required")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.rmsd[name]; exists {
		return fmt.Errorf("%w: rmsd %s", ErrFunctionExists, name)
	}
	registry.rmsd[name] = fn
	return nil
}

func ResolveScoreFunc(name string) (ScoreFunc, error) {
	registry.mu.RLock()
	fn, ok := registry.score[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: score %s", ErrFunctionNotFound, name)
	}
	return fn, nil
}

// ResolveRMSDFunc returns nil without error for an empty name; RMSD is optional.
func ResolveRMSDFunc(name string) (RMSDFunc, error) {
	if name == "" {
		return nil, nil
	}
	registry.mu.RLock()
	fn, ok := registry.rmsd[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: rmsd %s", ErrFunctionNotFound, name)
	}
	return fn, nil
}

func ListScoreFuncs() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return sortedKeys(registry.score)
}

func ListRMSDFuncs() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return sortedKeys(registry.rmsd)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
