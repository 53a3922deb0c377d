package storage

import (
	"context"
	"errors"

	"evoprot/internal/model"
)

// ErrRecordExists is returned when a score record is written twice for the
// same identity within a run. Cached scores are immutable.
var ErrRecordExists = errors.New("score record already exists")

// Store persists score records and per-iteration rankings, keyed by run.
type Store interface {
	Init(ctx context.Context) error
	PutRecord(ctx context.Context, runID string, record model.ScoreRecord) error
	GetRecord(ctx context.Context, runID, identity string) (model.ScoreRecord, bool, error)
	ListRecords(ctx context.Context, runID string) ([]model.ScoreRecord, error)
	SaveRanking(ctx context.Context, runID string, ranking model.IterationRanking) error
	GetRankings(ctx context.Context, runID string) ([]model.IterationRanking, bool, error)
}
