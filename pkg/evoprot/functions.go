package evoprot

import (
	"evoprot/internal/model"
	"evoprot/internal/scoring"
)

// Types a custom scoring function works with.
type (
	ScoreFunc  = scoring.ScoreFunc
	RMSDFunc   = scoring.RMSDFunc
	WorkUnit   = model.WorkUnit
	RawResult  = model.RawResult
	Individual = model.Individual
	Score      = model.Score
	Structure  = model.Structure
)

var (
	ErrFunctionExists   = scoring.ErrFunctionExists
	ErrFunctionNotFound = scoring.ErrFunctionNotFound
)

// RegisterScoreFunc makes fn selectable by name through RunRequest.ScoreFunc.
// Lower totals are better. Registering a taken name fails with
// ErrFunctionExists.
func RegisterScoreFunc(name string, fn ScoreFunc) error {
	return scoring.RegisterScoreFunc(name, fn)
}

// RegisterRMSDFunc makes fn selectable by name through RunRequest.RMSDFunc.
func RegisterRMSDFunc(name string, fn RMSDFunc) error {
	return scoring.RegisterRMSDFunc(name, fn)
}

func ScoreFuncs() []string { return scoring.ListScoreFuncs() }

func RMSDFuncs() []string { return scoring.ListRMSDFuncs() }
