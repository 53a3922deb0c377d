package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"evoprot/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	records     map[string]map[string]model.ScoreRecord
	order       map[string][]string
	rankings    map[string]map[int]model.IterationRanking
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.records = make(map[string]map[string]model.ScoreRecord)
	s.order = make(map[string][]string)
	s.rankings = make(map[string]map[int]model.IterationRanking)
	return nil
}

func (s *MemoryStore) PutRecord(_ context.Context, runID string, record model.ScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	byIdentity := s.records[runID]
	if byIdentity == nil {
		byIdentity = make(map[string]model.ScoreRecord)
		s.records[runID] = byIdentity
	}
	if _, exists := byIdentity[record.Identity]; exists {
		return fmt.Errorf("%w: %s", ErrRecordExists, record.Identity)
	}
	byIdentity[record.Identity] = record
	s.order[runID] = append(s.order[runID], record.Identity)
	return nil
}

func (s *MemoryStore) GetRecord(_ context.Context, runID, identity string) (model.ScoreRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[runID][identity]
	return record, ok, nil
}

func (s *MemoryStore) ListRecords(_ context.Context, runID string) ([]model.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[runID]
	out := make([]model.ScoreRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[runID][id])
	}
	return out, nil
}

func (s *MemoryStore) SaveRanking(_ context.Context, runID string, ranking model.IterationRanking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	byIteration := s.rankings[runID]
	if byIteration == nil {
		byIteration = make(map[int]model.IterationRanking)
		s.rankings[runID] = byIteration
	}
	copied := ranking
	copied.Entries = append([]model.RankedEntry(nil), ranking.Entries...)
	byIteration[ranking.Iteration] = copied
	return nil
}

func (s *MemoryStore) GetRankings(_ context.Context, runID string) ([]model.IterationRanking, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byIteration, ok := s.rankings[runID]
	if !ok {
		return nil, false, nil
	}
	out := make([]model.IterationRanking, 0, len(byIteration))
	for _, ranking := range byIteration {
		copied := ranking
		copied.Entries = append([]model.RankedEntry(nil), ranking.Entries...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Iteration < out[j].Iteration })
	return out, true, nil
}
