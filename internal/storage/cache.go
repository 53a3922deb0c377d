package storage

import (
	"context"
	"fmt"

	"evoprot/internal/model"
)

// SequenceCache is the run-wide memo of scored identities. Entries are
// written through to the backing Store and are never overwritten.
//
// The cache is single-writer; callers sequence access themselves.
type SequenceCache struct {
	store Store
	runID string

	records map[string]model.ScoreRecord
	order   []string
}

func NewSequenceCache(store Store, runID string) *SequenceCache {
	return &SequenceCache{
		store:   store,
		runID:   runID,
		records: make(map[string]model.ScoreRecord),
	}
}

func (c *SequenceCache) Get(identity string) (model.ScoreRecord, bool) {
	record, ok := c.records[identity]
	return record, ok
}

func (c *SequenceCache) Contains(identity string) bool {
	_, ok := c.records[identity]
	return ok
}

// Put records identity's score. It fails with ErrRecordExists if identity is
// already cached.
func (c *SequenceCache) Put(ctx context.Context, identity string, record model.ScoreRecord) error {
	if _, exists := c.records[identity]; exists {
		return fmt.Errorf("%w: %s", ErrRecordExists, identity)
	}
	if record.Identity == "" {
		record.Identity = identity
	}
	if record.Identity != identity {
		return fmt.Errorf("record identity %q does not match key %q", record.Identity, identity)
	}
	if c.store != nil {
		if err := c.store.PutRecord(ctx, c.runID, record); err != nil {
			return fmt.Errorf("persist score record: %w", err)
		}
	}
	c.records[identity] = record
	c.order = append(c.order, identity)
	return nil
}

func (c *SequenceCache) Len() int {
	return len(c.order)
}

// Identities returns every cached identity in insertion order.
func (c *SequenceCache) Identities() []string {
	return append([]string(nil), c.order...)
}
