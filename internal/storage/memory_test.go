package storage

import (
	"context"
	"errors"
	"testing"

	"evoprot/internal/model"
)

func TestMemoryStoreRecordsAreWriteOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	record := model.ScoreRecord{Identity: "MKV,GSG", Total: -3.5, Iteration: 1}
	if err := store.PutRecord(ctx, "run-1", record); err != nil {
		t.Fatalf("put record: %v", err)
	}
	record.Total = 99
	err := store.PutRecord(ctx, "run-1", record)
	if !errors.Is(err, ErrRecordExists) {
		t.Fatalf("expected ErrRecordExists, got %v", err)
	}

	got, ok, err := store.GetRecord(ctx, "run-1", "MKV,GSG")
	if err != nil || !ok {
		t.Fatalf("get record: ok=%t err=%v", ok, err)
	}
	if got.Total != -3.5 {
		t.Fatalf("record was overwritten: %+v", got)
	}

	if _, ok, _ := store.GetRecord(ctx, "run-2", "MKV,GSG"); ok {
		t.Fatal("expected records to be scoped by run")
	}
	if err := store.PutRecord(ctx, "run-2", record); err != nil {
		t.Fatalf("same identity in another run: %v", err)
	}
}

func TestMemoryStoreListsRecordsInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, id := range []string{"C", "A", "B"} {
		if err := store.PutRecord(ctx, "run", model.ScoreRecord{Identity: id}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	records, err := store.ListRecords(ctx, "run")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 3 || records[0].Identity != "C" || records[2].Identity != "B" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestMemoryStoreRankingsSortedAndCopied(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	second := model.IterationRanking{Iteration: 2, Entries: []model.RankedEntry{{Rank: 1, Identity: "B"}}}
	first := model.IterationRanking{Iteration: 1, Entries: []model.RankedEntry{{Rank: 1, Identity: "A"}}}
	if err := store.SaveRanking(ctx, "run", second); err != nil {
		t.Fatalf("save ranking: %v", err)
	}
	if err := store.SaveRanking(ctx, "run", first); err != nil {
		t.Fatalf("save ranking: %v", err)
	}
	first.Entries[0].Identity = "mutated"

	rankings, ok, err := store.GetRankings(ctx, "run")
	if err != nil || !ok {
		t.Fatalf("get rankings: ok=%t err=%v", ok, err)
	}
	if len(rankings) != 2 || rankings[0].Iteration != 1 || rankings[1].Iteration != 2 {
		t.Fatalf("unexpected ranking order: %+v", rankings)
	}
	if rankings[0].Entries[0].Identity != "A" {
		t.Fatal("expected stored ranking to be isolated from caller mutation")
	}

	if _, ok, _ := store.GetRankings(ctx, "missing"); ok {
		t.Fatal("expected no rankings for unknown run")
	}
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.PutRecord(context.Background(), "run", model.ScoreRecord{Identity: "A"}); err == nil {
		t.Fatal("expected error before init")
	}
}
