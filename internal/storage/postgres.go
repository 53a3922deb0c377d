package storage

import (
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore shares one score cache between runs on different hosts.
type PostgresStore struct {
	sqlStore
}

func NewPostgresStore(dsn string) *PostgresStore {
	return &PostgresStore{sqlStore: sqlStore{
		dsn: dsn,
		dialect: dialect{
			driver:       "pgx",
			numbered:     true,
			missingError: "postgres dsn is required",
			schema: []string{
				`CREATE TABLE IF NOT EXISTS score_records (
					run_id TEXT NOT NULL,
					identity TEXT NOT NULL,
					iteration INTEGER NOT NULL,
					schema_version INTEGER NOT NULL,
					codec_version INTEGER NOT NULL,
					payload BYTEA NOT NULL,
					PRIMARY KEY (run_id, identity)
				)`,
				`CREATE TABLE IF NOT EXISTS rankings (
					run_id TEXT NOT NULL,
					iteration INTEGER NOT NULL,
					payload BYTEA NOT NULL,
					PRIMARY KEY (run_id, iteration)
				)`,
			},
		},
	}}
}
