//go:build sqlite

package storage

import (
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	sqlStore
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{sqlStore: sqlStore{
		dsn: path,
		dialect: dialect{
			driver:       "sqlite",
			missingError: "sqlite path is required",
			schema: []string{
				`CREATE TABLE IF NOT EXISTS score_records (
					run_id TEXT NOT NULL,
					identity TEXT NOT NULL,
					iteration INTEGER NOT NULL,
					schema_version INTEGER NOT NULL,
					codec_version INTEGER NOT NULL,
					payload BLOB NOT NULL,
					PRIMARY KEY (run_id, identity)
				)`,
				`CREATE TABLE IF NOT EXISTS rankings (
					run_id TEXT NOT NULL,
					iteration INTEGER NOT NULL,
					payload BLOB NOT NULL,
					PRIMARY KEY (run_id, iteration)
				)`,
			},
		},
	}}
}

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}
