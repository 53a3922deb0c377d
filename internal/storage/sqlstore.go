package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"evoprot/internal/model"
)

// dialect carries the pieces of SQL that differ between backends.
type dialect struct {
	driver       string
	numbered     bool
	schema       []string
	missingError string
}

// sqlStore implements Store over database/sql. The sqlite and postgres
// backends differ only in their dialect.
type sqlStore struct {
	dsn     string
	dialect dialect

	mu sync.RWMutex
	db *sql.DB
}

func (s *sqlStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dsn == "" {
		return errors.New(s.dialect.missingError)
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open(s.dialect.driver, s.dsn)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	for _, stmt := range s.dialect.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("create schema: %w", err)
		}
	}

	s.db = db
	return nil
}

func (s *sqlStore) PutRecord(ctx context.Context, runID string, record model.ScoreRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeScoreRecord(record)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, s.rebind(`
		INSERT INTO score_records (run_id, identity, iteration, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, identity) DO NOTHING
	`), runID, record.Identity, record.Iteration, CurrentSchemaVersion, CurrentCodecVersion, payload)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordExists, record.Identity)
	}
	return nil
}

func (s *sqlStore) GetRecord(ctx context.Context, runID, identity string) (model.ScoreRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.ScoreRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, s.rebind(`SELECT payload FROM score_records WHERE run_id = ? AND identity = ?`), runID, identity).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ScoreRecord{}, false, nil
		}
		return model.ScoreRecord{}, false, err
	}

	record, err := DecodeScoreRecord(payload)
	if err != nil {
		return model.ScoreRecord{}, false, fmt.Errorf("decode score record %s: %w", identity, err)
	}
	return record, true, nil
}

func (s *sqlStore) ListRecords(ctx context.Context, runID string) ([]model.ScoreRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, s.rebind(`
		SELECT identity, payload FROM score_records
		WHERE run_id = ?
		ORDER BY iteration, identity
	`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScoreRecord
	for rows.Next() {
		var (
			identity string
			payload  []byte
		)
		if err := rows.Scan(&identity, &payload); err != nil {
			return nil, err
		}
		record, err := DecodeScoreRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("decode score record %s: %w", identity, err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveRanking(ctx context.Context, runID string, ranking model.IterationRanking) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRanking(ranking)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, s.rebind(`
		INSERT INTO rankings (run_id, iteration, payload)
		VALUES (?, ?, ?)
		ON CONFLICT (run_id, iteration) DO UPDATE SET
			payload = excluded.payload
	`), runID, ranking.Iteration, payload)
	return err
}

func (s *sqlStore) GetRankings(ctx context.Context, runID string) ([]model.IterationRanking, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	rows, err := db.QueryContext(ctx, s.rebind(`SELECT payload FROM rankings WHERE run_id = ? ORDER BY iteration`), runID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []model.IterationRanking
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, false, err
		}
		ranking, err := DecodeRanking(payload)
		if err != nil {
			return nil, false, fmt.Errorf("decode ranking for run %s: %w", runID, err)
		}
		out = append(out, ranking)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return out, len(out) > 0, nil
}

func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqlStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

// rebind rewrites "?" placeholders to "$n" for drivers that need numbered
// parameters.
func (s *sqlStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
